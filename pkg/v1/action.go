package v1

// Action is a write request for a single variable.
type Action struct {
	Name  string      `json:"name" binding:"required,min=1,max=128"`
	Value interface{} `json:"value"`
}
