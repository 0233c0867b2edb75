package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	https_server "LeadPilot/api/http"
	"LeadPilot/internal/config"
	"LeadPilot/internal/initial"
	"LeadPilot/internal/modules/ai/application/service"
	"LeadPilot/internal/modules/ai/domain/budget"
	"LeadPilot/internal/modules/ai/domain/repository"
	"LeadPilot/internal/modules/ai/infrastructure/cache"
	"LeadPilot/internal/modules/ai/infrastructure/chunking"
	"LeadPilot/internal/modules/ai/infrastructure/embedding"
	"LeadPilot/internal/modules/ai/infrastructure/persistence"
	"LeadPilot/internal/modules/ai/infrastructure/pipeline"
	"LeadPilot/internal/modules/ai/infrastructure/queue"
	aiHttp "LeadPilot/internal/modules/ai/interface/http"
	"LeadPilot/pkg/util/myjwt"
	"LeadPilot/pkg/zlog"
)

func main() {
	configPath := flag.String("config", "configs/config_local.toml", "path to toml config file")
	flag.Parse()

	// 1. 加载配置与日志
	conf, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := zlog.Init(zlog.Options{
		LogPath: conf.LogConfig.LogPath,
		Level:   conf.LogConfig.Level,
		Console: conf.LogConfig.Console,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf); err != nil {
		zlog.Error("server exited with error", zap.Error(err))
		zlog.Sync()
		os.Exit(1)
	}
	zlog.Info("server stopped")
}

func run(ctx context.Context, conf *config.Config) error {
	// 2. 存储与外部客户端
	knowledgeRepo, messageRepo, err := newRepositories(conf.MysqlConfig)
	if err != nil {
		return err
	}
	vs, closeVS, err := initial.NewVectorStore(ctx, conf.MilvusConfig)
	if err != nil {
		return err
	}
	defer closeVS()

	rag := conf.RAGConfig
	results, closeCache := initial.NewRAGResultCache(ctx, conf.RedisConfig, seconds(rag.ResultCacheTTLSeconds))
	defer closeCache()
	versions := cache.NewVersionCache(seconds(rag.VersionCacheTTLSeconds))

	ingestQueue, err := initial.NewIngestQueue(conf.KafkaConfig)
	if err != nil {
		return err
	}
	defer ingestQueue.Close()

	// 3. 切分、向量化与两条 pipeline
	em, meta, err := embedding.NewEmbedderFromConfig(ctx, conf.AIConfig.Embedding, conf.MilvusConfig.VectorDim)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	embedClient := embedding.NewClient(em, meta, embedding.ClientConfig{
		BatchSize:  rag.EmbedBatchSize,
		BatchDelay: millis(rag.EmbedBatchDelayMs),
		MaxTokens:  rag.EmbedMaxTokens,
		Sequential: rag.EmbedSequential,
	})
	chunker := chunking.NewChunker(chunking.Config{
		ChunkSize:        rag.ChunkSize,
		Overlap:          rag.ChunkOverlap,
		AfterContext:     rag.AfterContextSize,
		MinContentLength: rag.MinContentLength,
		Strategy:         rag.ChunkStrategy,
	})
	ingestPipe, err := pipeline.NewIngestPipeline(knowledgeRepo, vs, chunker, embedClient, pipeline.IngestConfig{
		MaxAttempts:   rag.MaxRetries,
		RetryDelay:    millis(rag.RetryDelayMs),
		RetryMaxDelay: millis(rag.RetryMaxDelayMs),
	})
	if err != nil {
		return fmt.Errorf("build ingest pipeline: %w", err)
	}
	retrievePipe, err := pipeline.NewRetrievePipeline(embedClient, vs)
	if err != nil {
		return fmt.Errorf("build retrieve pipeline: %w", err)
	}

	// 4. 应用服务
	ingestSvc := service.NewIngestionService(knowledgeRepo, vs, ingestPipe, versions, results, service.IngestionOptions{
		BatchDelay: millis(rag.BatchDelayMs),
		MaxRetries: rag.MaxRetries,
	})
	asyncSvc := service.NewAsyncIngestService(knowledgeRepo, ingestQueue.Publisher, ingestQueue.Topic)
	retrievalSvc := service.NewRetrievalService(retrievePipe, knowledgeRepo, versions, results, service.RetrievalConfig{
		DefaultTopK:      rag.DefaultTopK,
		MinScore:         rag.MinScore,
		MaxContextChunks: rag.MaxContextChunks,
		Timeout:          millis(rag.RetrievalTimeoutMs),
	})
	tb := conf.TokenBudgetConfig
	assembler := service.NewContextAssembler(messageRepo, budget.NewCharEstimator(), service.AssemblerConfig{
		Mode: tb.Mode,
		Budget: budget.Config{
			ContextWindow:       tb.ContextWindow,
			SystemReserve:       tb.SystemReserve,
			ResponseReserve:     tb.ResponseReserve,
			WarningThreshold:    tb.WarningThreshold,
			CompactionThreshold: tb.CompactionThreshold,
			EmergencyThreshold:  tb.EmergencyThreshold,
			CriticalTarget:      tb.CriticalTarget,
			EmergencyTarget:     tb.EmergencyTarget,
			MinMessages:         tb.MinMessages,
		},
		LegacyPairs:  tb.LegacyPairs,
		HistoryLimit: tb.HistoryLimit,
	})

	// 5. 后台 worker
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	worker := queue.NewIngestConsumerWorker(ingestQueue.Consumer, knowledgeRepo, ingestSvc, rag.MaxRetries)
	go func() {
		if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error("ingest consumer stopped", zap.Error(err))
		}
	}()
	if conf.MainConfig.RetrySweepSeconds > 0 {
		sweeper := queue.NewRetrySweeper(ingestSvc, seconds(conf.MainConfig.RetrySweepSeconds), seconds(conf.MainConfig.StaleIngestSeconds))
		go func() {
			if err := sweeper.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				zlog.Error("retry sweeper stopped", zap.Error(err))
			}
		}()
	}

	// 6. HTTP 服务
	signer, err := myjwt.NewSigner(conf.JwtConfig.Key, conf.JwtConfig.Issuer)
	if err != nil {
		return fmt.Errorf("init jwt signer: %w", err)
	}
	router := https_server.NewRouter(conf.MainConfig, signer, https_server.Handlers{
		Knowledge: aiHttp.NewKnowledgeHandler(ingestSvc, asyncSvc),
		RAG:       aiHttp.NewRAGHandler(retrievalSvc),
		Context:   aiHttp.NewContextHandler(assembler, retrievalSvc),
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zlog.Info("server starting", zap.String("addr", srv.Addr), zap.String("embedding_provider", meta.Provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 7. 优雅关闭
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	zlog.Info("server shutting down")
	cancelWorkers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), seconds(conf.MainConfig.ShutdownTimeoutSeconds))
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRepositories MySQL 未启用时使用进程内仓储，重启后数据丢失
func newRepositories(conf config.MysqlConfig) (repository.KnowledgeRepository, repository.MessageRepository, error) {
	if !conf.Enabled {
		zlog.Warn("mysql disabled, using in-memory repositories")
		return persistence.NewMemoryKnowledgeRepository(), persistence.NewMemoryMessageRepository(), nil
	}
	db, err := initial.NewGormDB(conf)
	if err != nil {
		return nil, nil, err
	}
	return persistence.NewKnowledgeRepository(db), persistence.NewMessageRepository(db), nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }
