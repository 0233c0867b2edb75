package http

import (
	"errors"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/pkg/xerr"
)

// toCodeError 把领域错误映射为对外错误码，其余错误原样交给 back.Result 按系统错误处理
func toCodeError(err error) error {
	if err == nil {
		return nil
	}
	var ce *xerr.CodeError
	if errors.As(err, &ce) {
		return err
	}
	switch {
	case errors.Is(err, knowledge.ErrKnowledgeNotFound):
		return xerr.Wrap(xerr.NotFound, "knowledge not found", err)
	case errors.Is(err, knowledge.ErrEmptyNamespace), errors.Is(err, knowledge.ErrInvalidNamespace):
		return xerr.Wrap(xerr.BadRequest, "invalid chatbot id", err)
	case errors.Is(err, knowledge.ErrVectorStore):
		return xerr.Wrap(xerr.ServiceUnavailable, "vector store unavailable", err)
	}
	return err
}
