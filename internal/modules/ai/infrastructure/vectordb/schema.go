package vectordb

import (
	"context"
	"fmt"
	"strings"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"LeadPilot/pkg/zlog"
)

type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	DBName     string
	Collection string
	VectorDim  int
	// MetricType 新建索引使用的度量，为空时用 COSINE
	MetricType entity.MetricType
}

// NewMilvusClient 连接 Milvus，按需创建数据库、集合与索引，并加载集合
func NewMilvusClient(ctx context.Context, opts MilvusOptions) (mclient.Client, error) {
	addr := strings.TrimSpace(opts.Address)
	if addr == "" {
		return nil, fmt.Errorf("milvus address is empty")
	}
	dbName := strings.TrimSpace(opts.DBName)
	if dbName == "" {
		dbName = "default"
	}
	if opts.VectorDim <= 0 {
		return nil, fmt.Errorf("invalid vectorDim: %d", opts.VectorDim)
	}

	if dbName != "default" {
		if err := ensureDatabase(ctx, opts, dbName); err != nil {
			return nil, err
		}
	}

	cli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  addr,
		Username: strings.TrimSpace(opts.Username),
		Password: strings.TrimSpace(opts.Password),
		DBName:   dbName,
	})
	if err != nil {
		return nil, err
	}
	if err := EnsureCollection(ctx, cli, opts.Collection, opts.VectorDim, opts.MetricType); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return cli, nil
}

func ensureDatabase(ctx context.Context, opts MilvusOptions, dbName string) error {
	defaultCli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  strings.TrimSpace(opts.Address),
		Username: strings.TrimSpace(opts.Username),
		Password: strings.TrimSpace(opts.Password),
		DBName:   "default",
	})
	if err != nil {
		return err
	}
	defer func() { _ = defaultCli.Close() }()

	dbs, err := defaultCli.ListDatabases(ctx)
	if err != nil {
		return err
	}
	for _, db := range dbs {
		if db.Name == dbName {
			return nil
		}
	}
	return defaultCli.CreateDatabase(ctx, dbName)
}

// EnsureCollection 集合不存在时建表建索引；存在时只做加载
func EnsureCollection(ctx context.Context, cli mclient.Client, collection string, dim int, metric entity.MetricType) error {
	if metric == "" {
		metric = entity.COSINE
	}
	exists, err := cli.HasCollection(ctx, collection)
	if err != nil {
		return err
	}

	if !exists {
		schema := &entity.Schema{
			CollectionName: collection,
			Description:    "LeadPilot knowledge chunk vectors",
			Fields: []*entity.Field{
				{
					Name:       fieldID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{entity.TypeParamMaxLength: "160"},
				},
				{
					Name:       fieldVector,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{entity.TypeParamDim: fmt.Sprintf("%d", dim)},
				},
				{
					Name:           fieldNamespace,
					DataType:       entity.FieldTypeVarChar,
					IsPartitionKey: true,
					TypeParams:     map[string]string{entity.TypeParamMaxLength: "64"},
				},
				{
					Name:       fieldKnowledgeID,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{entity.TypeParamMaxLength: "64"},
				},
				{
					Name:     fieldChunkIndex,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       fieldContent,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{entity.TypeParamMaxLength: fmt.Sprintf("%d", contentMaxLength)},
				},
				{
					Name:     fieldMetadata,
					DataType: entity.FieldTypeJSON,
				},
			},
		}
		if err := cli.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return err
		}

		idx, err := entity.NewIndexAUTOINDEX(metric)
		if err != nil {
			return err
		}
		if err := cli.CreateIndex(ctx, collection, fieldVector, idx, false); err != nil {
			return err
		}
		zlog.Info("milvus collection created", zap.String("collection", collection), zap.Int("dim", dim), zap.String("metric", string(metric)))
	}

	return cli.LoadCollection(ctx, collection, false)
}
