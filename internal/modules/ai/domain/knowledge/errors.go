package knowledge

import (
	"errors"
	"fmt"
)

var (
	ErrContent                 = errors.New("insufficient or empty content")
	ErrKnowledgeNotFound       = errors.New("knowledge item not found")
	ErrEmptyNamespace          = errors.New("empty vector namespace")
	ErrInvalidNamespace        = errors.New("invalid vector namespace")
	ErrEmbeddingRateLimited    = errors.New("embedding rate limited")
	ErrEmbeddingInvalidRequest = errors.New("embedding invalid request")
	ErrEmbeddingConnection     = errors.New("embedding connection error")
	ErrVectorStore             = errors.New("vector store error")
	ErrRetrieval               = errors.New("retrieval error")
)

// EmbeddingError 向量化失败，Kind 为上面三个 ErrEmbedding* 之一
type EmbeddingError struct {
	Kind error
	Err  error
}

func (e *EmbeddingError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *EmbeddingError) Unwrap() []error { return []error{e.Kind, e.Err} }

type VectorStoreError struct {
	Op        string
	Namespace string
	Err       error
}

func (e *VectorStoreError) Error() string {
	return fmt.Sprintf("vector store %s (namespace=%s): %v", e.Op, e.Namespace, e.Err)
}

func (e *VectorStoreError) Unwrap() []error { return []error{ErrVectorStore, e.Err} }

// IsRetryable 限流、连接类错误可重试；参数错误、内容错误不可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrEmbeddingInvalidRequest), errors.Is(err, ErrContent), errors.Is(err, ErrKnowledgeNotFound),
		errors.Is(err, ErrEmptyNamespace), errors.Is(err, ErrInvalidNamespace):
		return false
	case errors.Is(err, ErrEmbeddingRateLimited), errors.Is(err, ErrEmbeddingConnection), errors.Is(err, ErrVectorStore):
		return true
	}
	return false
}
