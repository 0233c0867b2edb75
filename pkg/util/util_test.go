package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateID(t *testing.T) {
	id := GenerateID("rq")
	assert.True(t, strings.HasPrefix(id, "rq_"))
	assert.Len(t, id, 3+32)
	assert.NotEqual(t, id, GenerateID("rq"))

	assert.Len(t, GenerateID(""), 32)
	assert.NotContains(t, GenerateShortUUID(), "-")
}
