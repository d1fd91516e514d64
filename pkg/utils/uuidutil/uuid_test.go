package uuidutil

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUUID(t *testing.T) {
	a, b := UUID(), UUID()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestShortUUID(t *testing.T) {
	id := ShortUUID()
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9]+$`), id)
	assert.LessOrEqual(t, len(id), 44)
}
