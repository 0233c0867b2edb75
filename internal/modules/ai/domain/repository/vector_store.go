package repository

import (
	"context"

	"LeadPilot/internal/modules/ai/domain/knowledge"
)

// VectorStore 是 domain 层定义的向量库能力抽象，application 只依赖本接口。
//
// 每个调用都显式携带 namespace（即 chatbot id），实现必须保证：
// 写入只落在该 namespace，检索只返回该 namespace 的向量，删除只影响该 namespace。
type VectorStore interface {
	// Upsert 同 id 覆盖写入
	Upsert(ctx context.Context, namespace string, records []knowledge.VectorRecord) error
	// Query 按相似度降序返回最多 topK 条
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]knowledge.VectorMatch, error)
	Delete(ctx context.Context, namespace string, ids []string) error
	DeleteNamespace(ctx context.Context, namespace string) error
}
