package repository

import (
	"context"

	"LeadPilot/internal/modules/ai/domain/knowledge"
)

// RAGResultCache 检索结果缓存。Invalidate 之后该 namespace 下已缓存的结果全部失效。
// 调用方在检索前取 Generation，并用同一代数 Load/Store，检索期间发生的失效会让这次写入不可见。
type RAGResultCache interface {
	Generation(ctx context.Context, namespace string) (int64, error)
	Load(ctx context.Context, namespace string, gen int64, fingerprint string) (*knowledge.RAGResult, bool)
	Store(ctx context.Context, namespace string, gen int64, fingerprint string, res *knowledge.RAGResult)
	Invalidate(ctx context.Context, namespace string)
}
