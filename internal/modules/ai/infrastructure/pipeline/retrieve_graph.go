package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/pkg/util"
	"LeadPilot/pkg/zlog"
)

// retrieveState 节点间传递的中间状态
type retrieveState struct {
	Req         *RetrieveRequest
	Namespace   string
	QueryVec    []float32
	Matches     []knowledge.VectorMatch
	Chunks      []knowledge.RetrievedChunk
	Sources     []knowledge.SourceReference
	Start       time.Time
	EmbeddingMs int64
	SearchMs    int64
	Err         error
}

// buildGraph 节点顺序：Validate → EmbedQuery → SearchVector → PostProcess → BuildResult
func (p *RetrievePipeline) buildGraph(ctx context.Context) (compose.Runnable[*RetrieveRequest, *RetrieveResult], error) {
	const (
		Validate     = "Validate"
		EmbedQuery   = "EmbedQuery"
		SearchVector = "SearchVector"
		PostProcess  = "PostProcess"
		BuildResult  = "BuildResult"
	)
	g := compose.NewGraph[*RetrieveRequest, *RetrieveResult]()
	_ = g.AddLambdaNode(Validate, compose.InvokableLambdaWithOption(p.validateNode), compose.WithNodeName(Validate))
	_ = g.AddLambdaNode(EmbedQuery, compose.InvokableLambdaWithOption(p.embedQueryNode), compose.WithNodeName(EmbedQuery))
	_ = g.AddLambdaNode(SearchVector, compose.InvokableLambdaWithOption(p.searchVectorNode), compose.WithNodeName(SearchVector))
	_ = g.AddLambdaNode(PostProcess, compose.InvokableLambdaWithOption(p.postProcessNode), compose.WithNodeName(PostProcess))
	_ = g.AddLambdaNode(BuildResult, compose.InvokableLambdaWithOption(p.buildResultNode), compose.WithNodeName(BuildResult))

	_ = g.AddEdge(compose.START, Validate)
	_ = g.AddEdge(Validate, EmbedQuery)
	_ = g.AddEdge(EmbedQuery, SearchVector)
	_ = g.AddEdge(SearchVector, PostProcess)
	_ = g.AddEdge(PostProcess, BuildResult)
	_ = g.AddEdge(BuildResult, compose.END)

	return g.Compile(ctx, compose.WithGraphName("RAGRetrievePipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

func (p *RetrievePipeline) validateNode(ctx context.Context, req *RetrieveRequest, _ ...any) (*retrieveState, error) {
	st := &retrieveState{Req: req, Start: time.Now()}
	if req == nil {
		st.Err = fmt.Errorf("retrieve request is nil")
		return st, nil
	}
	ns, err := knowledge.NamespaceFor(req.ChatbotID)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Namespace = ns
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		st.Err = fmt.Errorf("missing query")
		return st, nil
	}
	req.TopK = normalizeTopK(req.TopK)
	return st, nil
}

func (p *RetrievePipeline) embedQueryNode(ctx context.Context, st *retrieveState, _ ...any) (*retrieveState, error) {
	if st.Err != nil {
		return st, nil
	}
	embStart := time.Now()
	vec, err := p.embedder.EmbedQuery(ctx, st.Req.Query)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.QueryVec = vec
	st.EmbeddingMs = time.Since(embStart).Milliseconds()
	return st, nil
}

func (p *RetrievePipeline) searchVectorNode(ctx context.Context, st *retrieveState, _ ...any) (*retrieveState, error) {
	if st.Err != nil {
		return st, nil
	}
	if len(st.QueryVec) == 0 {
		st.Err = fmt.Errorf("query vector is empty")
		return st, nil
	}
	searchStart := time.Now()
	matches, err := p.vs.Query(ctx, st.Namespace, st.QueryVec, st.Req.TopK)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Matches = matches
	st.SearchMs = time.Since(searchStart).Milliseconds()
	return st, nil
}

// postProcessNode 阈值过滤、按分数排序；来源按知识条目去重，保留首次出现（即得分最高）的那条
func (p *RetrievePipeline) postProcessNode(ctx context.Context, st *retrieveState, _ ...any) (*retrieveState, error) {
	if st.Err != nil {
		return st, nil
	}
	kept := make([]knowledge.VectorMatch, 0, len(st.Matches))
	for _, m := range st.Matches {
		if float64(m.Score) >= st.Req.MinScore {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })

	st.Chunks = make([]knowledge.RetrievedChunk, 0, len(kept))
	st.Sources = make([]knowledge.SourceReference, 0, len(kept))
	seen := make(map[string]struct{}, len(kept))
	for _, m := range kept {
		md := m.Metadata
		st.Chunks = append(st.Chunks, knowledge.RetrievedChunk{
			ID:          m.ID,
			KnowledgeID: md.KnowledgeID,
			Title:       md.Title,
			Type:        md.Type,
			Text:        md.Text,
			Score:       m.Score,
			ChunkIndex:  md.ChunkIndex,
			PageNumber:  md.PageNumber,
		})
		if _, ok := seen[md.KnowledgeID]; ok {
			continue
		}
		seen[md.KnowledgeID] = struct{}{}
		st.Sources = append(st.Sources, knowledge.SourceReference{
			KnowledgeID: md.KnowledgeID,
			Title:       md.Title,
			Type:        md.Type,
			Score:       m.Score,
		})
	}
	return st, nil
}

func (p *RetrievePipeline) buildResultNode(ctx context.Context, st *retrieveState, _ ...any) (*RetrieveResult, error) {
	res := &RetrieveResult{
		QueryID:     util.GenerateID("rq"),
		Namespace:   st.Namespace,
		Chunks:      st.Chunks,
		Sources:     st.Sources,
		TotalFound:  len(st.Matches),
		EmbeddingMs: st.EmbeddingMs,
		SearchMs:    st.SearchMs,
		DurationMs:  time.Since(st.Start).Milliseconds(),
	}
	if st.Err != nil {
		res.Err = st.Err
		return res, nil
	}

	chunkIDs := make([]string, 0, len(res.Chunks))
	for _, c := range res.Chunks {
		chunkIDs = append(chunkIDs, c.ID)
	}
	zlog.Info("ai retrieve done",
		zap.String("query_id", res.QueryID),
		zap.String("namespace", res.Namespace),
		zap.Int("top_k", st.Req.TopK),
		zap.Float64("min_score", st.Req.MinScore),
		zap.Int("total_found", res.TotalFound),
		zap.Int("returned_count", len(res.Chunks)),
		zap.String("chunk_ids", strings.Join(chunkIDs, ",")),
		zap.Int64("embedding_ms", res.EmbeddingMs),
		zap.Int64("search_ms", res.SearchMs),
		zap.Int64("duration_ms", res.DurationMs),
	)
	return res, nil
}
