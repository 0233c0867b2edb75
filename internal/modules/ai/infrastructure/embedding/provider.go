package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	arkEmbed "github.com/cloudwego/eino-ext/components/embedding/ark"
	dashscopeEmbed "github.com/cloudwego/eino-ext/components/embedding/dashscope"
	openaIEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"LeadPilot/internal/config"
)

type EmbedderMeta struct {
	Provider string
	Model    string
	Dim      int
}

// NewEmbedderFromConfig 按 provider 构造 eino Embedder。
// fallbackDim 在配置未给出维度时使用，一般取向量库集合维度。
func NewEmbedderFromConfig(ctx context.Context, conf config.AIEmbeddingConfig, fallbackDim int) (embedding.Embedder, EmbedderMeta, error) {
	dim := fallbackDim
	if conf.Dimensions > 0 {
		dim = conf.Dimensions
	}
	provider := strings.ToLower(strings.TrimSpace(conf.Provider))
	model := strings.TrimSpace(conf.Model)
	apiKey := strings.TrimSpace(conf.APIKey)
	baseURL := strings.TrimSpace(conf.BaseURL)

	switch provider {
	case "", "mock":
		if dim <= 0 {
			dim = 256
		}
		return NewMockEmbedder(dim), EmbedderMeta{Provider: "mock", Model: "mock-hash", Dim: dim}, nil
	case "openai":
		apiKey = firstNonEmpty(apiKey, os.Getenv("OPENAI_API_KEY"))
		model = firstNonEmpty(model, os.Getenv("OPENAI_EMBED_MODEL"))
		baseURL = firstNonEmpty(baseURL, os.Getenv("OPENAI_BASE_URL"))
		if apiKey == "" || model == "" {
			return nil, EmbedderMeta{}, fmt.Errorf("openai embedding missing apiKey/model")
		}

		timeout := 30 * time.Second
		if conf.TimeoutSeconds > 0 {
			timeout = time.Duration(conf.TimeoutSeconds) * time.Second
		}
		cfg := &openaIEmbed.EmbeddingConfig{
			APIKey:  apiKey,
			Model:   model,
			BaseURL: baseURL,
			Timeout: timeout,
		}
		if dim > 0 {
			localDim := dim
			cfg.Dimensions = &localDim
		}
		em, err := openaIEmbed.NewEmbedder(ctx, cfg)
		if err != nil {
			return nil, EmbedderMeta{}, err
		}
		return em, EmbedderMeta{Provider: "openai", Model: model, Dim: dim}, nil
	case "ark":
		apiKey = firstNonEmpty(apiKey, os.Getenv("ARK_API_KEY"))
		model = firstNonEmpty(model, os.Getenv("ARK_EMBED_MODEL"))
		baseURL = firstNonEmpty(baseURL, os.Getenv("ARK_BASE_URL"))
		if apiKey == "" || model == "" {
			return nil, EmbedderMeta{}, fmt.Errorf("ark embedding missing apiKey/model")
		}
		em, err := arkEmbed.NewEmbedder(ctx, &arkEmbed.EmbeddingConfig{
			APIKey:  apiKey,
			Model:   model,
			BaseURL: baseURL,
		})
		if err != nil {
			return nil, EmbedderMeta{}, err
		}
		return em, EmbedderMeta{Provider: "ark", Model: model, Dim: dim}, nil
	case "dashscope":
		apiKey = firstNonEmpty(apiKey, os.Getenv("DASHSCOPE_API_KEY"))
		model = firstNonEmpty(model, os.Getenv("DASHSCOPE_EMBED_MODEL"))
		if apiKey == "" || model == "" {
			return nil, EmbedderMeta{}, fmt.Errorf("dashscope embedding missing apiKey/model")
		}
		localDim := dim
		em, err := dashscopeEmbed.NewEmbedder(ctx, &dashscopeEmbed.EmbeddingConfig{
			Model:      model,
			APIKey:     apiKey,
			Dimensions: &localDim,
		})
		if err != nil {
			return nil, EmbedderMeta{}, err
		}
		return em, EmbedderMeta{Provider: "dashscope", Model: model, Dim: dim}, nil
	default:
		return nil, EmbedderMeta{}, fmt.Errorf("unknown embedding provider: %s", provider)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
