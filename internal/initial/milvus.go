package initial

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"LeadPilot/internal/config"
	"LeadPilot/internal/modules/ai/domain/repository"
	"LeadPilot/internal/modules/ai/infrastructure/vectordb"
	"LeadPilot/pkg/zlog"
)

// NewVectorStore Milvus 未启用时退化为进程内向量库，仅供本地开发。
// 返回的 closer 总是非 nil。
func NewVectorStore(ctx context.Context, conf config.MilvusConfig) (repository.VectorStore, func(), error) {
	if !conf.Enabled {
		zlog.Warn("milvus disabled, using in-memory vector store")
		return vectordb.NewMemoryStore(), func() {}, nil
	}
	metric := entity.MetricType(conf.Metric())
	cli, err := vectordb.NewMilvusClient(ctx, vectordb.MilvusOptions{
		Address:    conf.Address,
		Username:   conf.Username,
		Password:   conf.Password,
		DBName:     conf.DBName,
		Collection: conf.CollectionName,
		VectorDim:  conf.VectorDim,
		MetricType: metric,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("milvus init failed: %w", err)
	}
	store, err := vectordb.NewMilvusStore(cli, conf.CollectionName, conf.VectorDim, metric)
	if err != nil {
		_ = cli.Close()
		return nil, nil, err
	}
	zlog.Info("milvus connected", zap.String("address", conf.Address), zap.String("collection", conf.CollectionName))
	return store, func() { _ = cli.Close() }, nil
}
