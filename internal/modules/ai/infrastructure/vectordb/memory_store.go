package vectordb

import (
	"context"
	"math"
	"sort"
	"sync"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/domain/repository"
)

// MemoryStore 进程内向量库，按 namespace 分桶，余弦相似度检索。
// 未启用 Milvus 时使用，也是测试里的隔离基准。
type MemoryStore struct {
	mu     sync.RWMutex
	spaces map[string]map[string]knowledge.VectorRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{spaces: make(map[string]map[string]knowledge.VectorRecord)}
}

func (s *MemoryStore) Upsert(ctx context.Context, namespace string, records []knowledge.VectorRecord) error {
	ns, err := knowledge.NamespaceFor(namespace)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	space, ok := s.spaces[ns]
	if !ok {
		space = make(map[string]knowledge.VectorRecord)
		s.spaces[ns] = space
	}
	for _, r := range records {
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		r.Vector = vec
		space[r.ID] = r
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]knowledge.VectorMatch, error) {
	ns, err := knowledge.NamespaceFor(namespace)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}
	s.mu.RLock()
	space := s.spaces[ns]
	out := make([]knowledge.VectorMatch, 0, len(space))
	for id, r := range space {
		out = append(out, knowledge.VectorMatch{ID: id, Score: cosine(vector, r.Vector), Metadata: r.Metadata})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, namespace string, ids []string) error {
	ns, err := knowledge.NamespaceFor(namespace)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	space := s.spaces[ns]
	for _, id := range ids {
		delete(space, id)
	}
	return nil
}

func (s *MemoryStore) DeleteNamespace(ctx context.Context, namespace string) error {
	ns, err := knowledge.NamespaceFor(namespace)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spaces, ns)
	return nil
}

// Count namespace 内的向量数
func (s *MemoryStore) Count(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spaces[namespace])
}

// IDs namespace 内全部向量 id，升序
func (s *MemoryStore) IDs(namespace string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.spaces[namespace]))
	for id := range s.spaces[namespace] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ repository.VectorStore = (*MemoryStore)(nil)
