package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/pkg/zlog"
)

type ClientConfig struct {
	BatchSize  int
	BatchDelay time.Duration
	// MaxTokens 单条文本的 token 上限，超出按 4 字符/token 截断
	MaxTokens int
	// Sequential 逐条请求，供不支持批量的 provider 使用
	Sequential bool
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{BatchSize: 5, BatchDelay: 100 * time.Millisecond, MaxTokens: 8000}
}

type Result struct {
	Vectors    [][]float32
	Model      string
	Dim        int
	TokensUsed int
}

// Client 包装 eino Embedder：清洗截断、分批限速、错误归类。不做重试，由调用方按错误类型决定。
type Client struct {
	embedder embedding.Embedder
	meta     EmbedderMeta
	cfg      ClientConfig
}

func NewClient(em embedding.Embedder, meta EmbedderMeta, cfg ClientConfig) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8000
	}
	return &Client{embedder: em, meta: meta, cfg: cfg}
}

func (c *Client) Meta() EmbedderMeta { return c.meta }

// EmbedTexts 返回的向量与输入一一对应
func (c *Client) EmbedTexts(ctx context.Context, texts []string) (*Result, error) {
	if c == nil || c.embedder == nil {
		return nil, &knowledge.EmbeddingError{Kind: knowledge.ErrEmbeddingInvalidRequest, Err: errors.New("embedder not configured")}
	}
	if len(texts) == 0 {
		return &Result{Vectors: [][]float32{}, Model: c.meta.Model, Dim: c.meta.Dim}, nil
	}

	prepared := make([]string, len(texts))
	tokens := 0
	for i, t := range texts {
		prepared[i] = TruncateToTokens(CleanText(t), c.cfg.MaxTokens)
		if prepared[i] == "" {
			return nil, &knowledge.EmbeddingError{
				Kind: knowledge.ErrEmbeddingInvalidRequest,
				Err:  fmt.Errorf("text %d is empty after cleaning", i),
			}
		}
		tokens += EstimateTokens(prepared[i])
	}

	size := c.cfg.BatchSize
	if c.cfg.Sequential {
		size = 1
	}

	out := make([][]float32, 0, len(prepared))
	for start := 0; start < len(prepared); start += size {
		if start > 0 && c.cfg.BatchDelay > 0 {
			if err := sleepCtx(ctx, c.cfg.BatchDelay); err != nil {
				return nil, classifyError(err)
			}
		}
		end := min(start+size, len(prepared))
		vecs, err := c.embedder.EmbedStrings(ctx, prepared[start:end])
		if err != nil {
			zlog.Warn("embedding batch failed",
				zap.String("provider", c.meta.Provider),
				zap.Int("batch_start", start),
				zap.Int("batch_size", end-start),
				zap.Error(err))
			return nil, classifyError(err)
		}
		if len(vecs) != end-start {
			return nil, &knowledge.EmbeddingError{
				Kind: knowledge.ErrEmbeddingInvalidRequest,
				Err:  fmt.Errorf("embedding count mismatch: got %d want %d", len(vecs), end-start),
			}
		}
		for _, v := range vecs {
			if c.meta.Dim > 0 && len(v) != c.meta.Dim {
				return nil, &knowledge.EmbeddingError{
					Kind: knowledge.ErrEmbeddingInvalidRequest,
					Err:  fmt.Errorf("embedding dim mismatch: got %d want %d", len(v), c.meta.Dim),
				}
			}
			out = append(out, toFloat32(v))
		}
	}

	dim := c.meta.Dim
	if dim == 0 && len(out) > 0 {
		dim = len(out[0])
	}
	return &Result{Vectors: out, Model: c.meta.Model, Dim: dim, TokensUsed: tokens}, nil
}

// EmbedQuery 先做查询改写，改写后为空则退回原始查询
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	q := OptimizeQuery(query)
	if q == "" {
		q = CleanText(query)
	}
	if q == "" {
		return nil, &knowledge.EmbeddingError{Kind: knowledge.ErrEmbeddingInvalidRequest, Err: errors.New("empty query")}
	}
	res, err := c.EmbedTexts(ctx, []string{q})
	if err != nil {
		return nil, err
	}
	return res.Vectors[0], nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var (
	rateLimitMarkers  = []string{"429", "rate limit", "ratelimit", "too many requests", "quota", "throttl"}
	connectionMarkers = []string{"timeout", "timed out", "connection", "eof", "reset by peer", "no such host",
		"500", "502", "503", "504", "unavailable", "bad gateway"}
	invalidMarkers = []string{"400", "401", "403", "404", "invalid", "bad request", "unauthorized",
		"forbidden", "context length", "maximum context", "too long"}
)

// classifyError 把 provider 返回的错误归为限流、参数错误、连接错误三类
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var ee *knowledge.EmbeddingError
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &knowledge.EmbeddingError{Kind: knowledge.ErrEmbeddingConnection, Err: err}
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, rateLimitMarkers) {
		return &knowledge.EmbeddingError{Kind: knowledge.ErrEmbeddingRateLimited, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || containsAny(msg, connectionMarkers) {
		return &knowledge.EmbeddingError{Kind: knowledge.ErrEmbeddingConnection, Err: err}
	}
	if containsAny(msg, invalidMarkers) {
		return &knowledge.EmbeddingError{Kind: knowledge.ErrEmbeddingInvalidRequest, Err: err}
	}
	return &knowledge.EmbeddingError{Kind: knowledge.ErrEmbeddingConnection, Err: err}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
