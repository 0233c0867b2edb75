package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/domain/repository"
	"LeadPilot/pkg/zlog"
)

const (
	fieldID          = "id"
	fieldVector      = "vector"
	fieldNamespace   = "namespace"
	fieldKnowledgeID = "knowledge_id"
	fieldChunkIndex  = "chunk_index"
	fieldContent     = "content"
	fieldMetadata    = "metadata"

	contentMaxLength = 8192
)

var outputFields = []string{fieldNamespace, fieldKnowledgeID, fieldChunkIndex, fieldContent, fieldMetadata}

// MilvusStore 单集合存放所有 chatbot 的向量，namespace 字段为 partition key。
// 每次写入、检索、删除的表达式都带 namespace 条件。
type MilvusStore struct {
	cli         mclient.Client
	collection  string
	metricType  entity.MetricType
	vectorDim   int
	searchParam entity.SearchParam
}

func NewMilvusStore(cli mclient.Client, collection string, vectorDim int, metricType entity.MetricType) (*MilvusStore, error) {
	if cli == nil {
		return nil, errors.New("milvus client is nil")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("collection is empty")
	}
	if vectorDim <= 0 {
		return nil, fmt.Errorf("invalid vectorDim: %d", vectorDim)
	}
	if metricType == "" {
		metricType = entity.COSINE
	}
	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, err
	}
	return &MilvusStore{cli: cli, collection: collection, metricType: metricType, vectorDim: vectorDim, searchParam: sp}, nil
}

func (s *MilvusStore) Upsert(ctx context.Context, namespace string, records []knowledge.VectorRecord) error {
	ns, err := knowledge.NamespaceFor(namespace)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, 0, len(records))
	vectors := make([][]float32, 0, len(records))
	namespaces := make([]string, 0, len(records))
	knowledgeIDs := make([]string, 0, len(records))
	chunkIndexes := make([]int64, 0, len(records))
	contents := make([]string, 0, len(records))
	metas := make([][]byte, 0, len(records))

	for _, r := range records {
		if r.ID == "" {
			return &knowledge.VectorStoreError{Op: "upsert", Namespace: ns, Err: errors.New("record missing id")}
		}
		if len(r.Vector) != s.vectorDim {
			return &knowledge.VectorStoreError{Op: "upsert", Namespace: ns,
				Err: fmt.Errorf("vector dim mismatch for id=%s, got=%d want=%d", r.ID, len(r.Vector), s.vectorDim)}
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return &knowledge.VectorStoreError{Op: "upsert", Namespace: ns, Err: err}
		}
		ids = append(ids, r.ID)
		vectors = append(vectors, r.Vector)
		namespaces = append(namespaces, ns)
		knowledgeIDs = append(knowledgeIDs, r.Metadata.KnowledgeID)
		chunkIndexes = append(chunkIndexes, int64(r.Metadata.ChunkIndex))
		contents = append(contents, truncateBytes(r.Metadata.Text, contentMaxLength))
		metas = append(metas, meta)
	}

	_, err = s.cli.Upsert(
		ctx,
		s.collection,
		"",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldVector, s.vectorDim, vectors),
		entity.NewColumnVarChar(fieldNamespace, namespaces),
		entity.NewColumnVarChar(fieldKnowledgeID, knowledgeIDs),
		entity.NewColumnInt64(fieldChunkIndex, chunkIndexes),
		entity.NewColumnVarChar(fieldContent, contents),
		entity.NewColumnJSONBytes(fieldMetadata, metas),
	)
	if err != nil {
		return &knowledge.VectorStoreError{Op: "upsert", Namespace: ns, Err: err}
	}
	return nil
}

func (s *MilvusStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]knowledge.VectorMatch, error) {
	ns, err := knowledge.NamespaceFor(namespace)
	if err != nil {
		return nil, err
	}
	if len(vector) != s.vectorDim {
		return nil, &knowledge.VectorStoreError{Op: "query", Namespace: ns,
			Err: fmt.Errorf("vector dim mismatch, got=%d want=%d", len(vector), s.vectorDim)}
	}
	if topK <= 0 {
		topK = 10
	}

	res, err := s.cli.Search(
		ctx,
		s.collection,
		[]string{},
		namespaceExpr(ns),
		outputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		fieldVector,
		s.metricType,
		topK,
		s.searchParam,
	)
	if err != nil {
		return nil, &knowledge.VectorStoreError{Op: "query", Namespace: ns, Err: err}
	}
	if len(res) == 0 {
		return []knowledge.VectorMatch{}, nil
	}
	matches, err := parseSearchResult(ns, res[0])
	if err != nil {
		return nil, &knowledge.VectorStoreError{Op: "query", Namespace: ns, Err: err}
	}
	return matches, nil
}

func (s *MilvusStore) Delete(ctx context.Context, namespace string, ids []string) error {
	ns, err := knowledge.NamespaceFor(namespace)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	expr := fmt.Sprintf(`%s && %s in [%s]`, namespaceExpr(ns), fieldID, quoteAll(ids))
	if err := s.cli.Delete(ctx, s.collection, "", expr); err != nil {
		return &knowledge.VectorStoreError{Op: "delete", Namespace: ns, Err: err}
	}
	return nil
}

func (s *MilvusStore) DeleteNamespace(ctx context.Context, namespace string) error {
	ns, err := knowledge.NamespaceFor(namespace)
	if err != nil {
		return err
	}
	if err := s.cli.Delete(ctx, s.collection, "", namespaceExpr(ns)); err != nil {
		return &knowledge.VectorStoreError{Op: "delete_namespace", Namespace: ns, Err: err}
	}
	return nil
}

func parseSearchResult(ns string, sr mclient.SearchResult) ([]knowledge.VectorMatch, error) {
	if sr.Err != nil {
		return nil, sr.Err
	}
	matches := make([]knowledge.VectorMatch, 0, sr.ResultCount)

	nsCol := columnByName(sr.Fields, fieldNamespace)
	contentCol := columnByName(sr.Fields, fieldContent)
	metaCol := columnByName(sr.Fields, fieldMetadata)

	for i := 0; i < sr.ResultCount; i++ {
		id, _ := sr.IDs.GetAsString(i)
		if nsCol != nil {
			if got, _ := nsCol.GetAsString(i); got != ns {
				zlog.Error("milvus returned vector from foreign namespace",
					zap.String("namespace", ns), zap.String("got", got), zap.String("id", id))
				continue
			}
		}

		m := knowledge.VectorMatch{ID: id}
		if i < len(sr.Scores) {
			m.Score = sr.Scores[i]
		}
		if metaCol != nil {
			v, _ := metaCol.Get(i)
			if bs, ok := v.([]byte); ok && len(bs) > 0 {
				if err := json.Unmarshal(bs, &m.Metadata); err != nil {
					zlog.Warn("milvus metadata decode failed", zap.String("id", id), zap.Error(err))
				}
			}
		}
		if m.Metadata.Text == "" && contentCol != nil {
			m.Metadata.Text, _ = contentCol.GetAsString(i)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func columnByName(cols mclient.ResultSet, name string) entity.Column {
	for _, c := range cols {
		if c != nil && c.Name() == name {
			return c
		}
	}
	return nil
}

func namespaceExpr(ns string) string {
	return fmt.Sprintf(`%s == %s`, fieldNamespace, strconv.Quote(ns))
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return strings.Join(quoted, ",")
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

var _ repository.VectorStore = (*MilvusStore)(nil)
