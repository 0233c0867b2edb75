package http

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/pkg/xerr"
)

func TestToCodeError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", fmt.Errorf("load: %w", knowledge.ErrKnowledgeNotFound), xerr.NotFound},
		{"empty namespace", knowledge.ErrEmptyNamespace, xerr.BadRequest},
		{"vector store", &knowledge.VectorStoreError{Op: "delete", Namespace: "bot-a", Err: errors.New("timeout")}, xerr.ServiceUnavailable},
		{"code error passthrough", xerr.New(xerr.Conflict, "busy"), xerr.Conflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ce *xerr.CodeError
			require.True(t, errors.As(toCodeError(tc.err), &ce))
			assert.Equal(t, tc.code, ce.Code)
		})
	}

	assert.NoError(t, toCodeError(nil))
	plain := errors.New("boom")
	assert.Same(t, plain, toCodeError(plain))
}
