package apis

const (
	// HTTP Response Fields
	ETag = "ETag"

	// Self-defined Fields
	Filter = "filter"
)
