package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix 环境变量统一前缀，例如 LEADPILOT_MYSQL_HOST
const EnvPrefix = "LEADPILOT_"

type MainConfig struct {
	AppName string `toml:"appName" env:"APP_NAME"`
	Host    string `toml:"host" env:"HOST"`
	Port    int    `toml:"port" env:"PORT"`
	Mode    string `toml:"mode" env:"MODE"`
	// TLSRedirect 为 true 时把 http 请求重定向到 https
	TLSRedirect bool `toml:"tlsRedirect" env:"TLS_REDIRECT"`
	// ShutdownTimeoutSeconds 优雅退出时等待在途请求的上限
	ShutdownTimeoutSeconds int `toml:"shutdownTimeoutSeconds" env:"SHUTDOWN_TIMEOUT_SECONDS"`
	// RetrySweepSeconds 失败条目自动重试的扫描间隔，0 表示关闭
	RetrySweepSeconds int `toml:"retrySweepSeconds" env:"RETRY_SWEEP_SECONDS"`
	// StaleIngestSeconds 条目停留在 queued/processing 超过该时长即由扫描任务重新驱动
	StaleIngestSeconds int `toml:"staleIngestSeconds" env:"STALE_INGEST_SECONDS"`
}

type MysqlConfig struct {
	Enabled      bool   `toml:"enabled" env:"ENABLED"`
	Host         string `toml:"host" env:"HOST"`
	Port         int    `toml:"port" env:"PORT"`
	User         string `toml:"user" env:"USER"`
	Password     string `toml:"password" env:"PASSWORD"`
	DatabaseName string `toml:"databaseName" env:"DATABASE_NAME"`
	AutoMigrate  bool   `toml:"autoMigrate" env:"AUTO_MIGRATE"`
}

type LogConfig struct {
	LogPath string `toml:"logPath" env:"PATH"`
	Level   string `toml:"level" env:"LEVEL"`
	Console bool   `toml:"console" env:"CONSOLE"`
}

type JwtConfig struct {
	Key    string `toml:"key" env:"KEY"`
	Issuer string `toml:"issuer" env:"ISSUER"`
}

type MilvusConfig struct {
	Enabled        bool   `toml:"enabled" env:"ENABLED"`
	Address        string `toml:"address" env:"ADDRESS"`
	Username       string `toml:"username" env:"USERNAME"`
	Password       string `toml:"password" env:"PASSWORD"`
	DBName         string `toml:"dbName" env:"DB_NAME"`
	CollectionName string `toml:"collectionName" env:"COLLECTION_NAME"`
	VectorDim      int    `toml:"vectorDim" env:"VECTOR_DIM"`
	// MetricType 只支持相似度越大越相关的 COSINE 与 IP
	MetricType string `toml:"metricType" env:"METRIC_TYPE"`
}

// Metric 大写形式的度量类型
func (m MilvusConfig) Metric() string {
	return strings.ToUpper(strings.TrimSpace(m.MetricType))
}

type KafkaConfig struct {
	Enabled         bool     `toml:"enabled" env:"ENABLED"`
	Brokers         []string `toml:"brokers" env:"BROKERS" envSeparator:","`
	ClientID        string   `toml:"clientID" env:"CLIENT_ID"`
	IngestTopic     string   `toml:"ingestTopic" env:"INGEST_TOPIC"`
	ConsumerGroupID string   `toml:"consumerGroupID" env:"CONSUMER_GROUP_ID"`
	Partitions      int32    `toml:"partitions" env:"PARTITIONS"`
	Replication     int16    `toml:"replication" env:"REPLICATION"`
}

type RedisConfig struct {
	Enabled      bool   `toml:"enabled" env:"ENABLED"`
	Host         string `toml:"host" env:"HOST"`
	Port         int    `toml:"port" env:"PORT"`
	Password     string `toml:"password" env:"PASSWORD"`
	DB           int    `toml:"db" env:"DB"`
	PoolSize     int    `toml:"poolSize" env:"POOL_SIZE"`
	MinIdleConns int    `toml:"minIdleConns" env:"MIN_IDLE_CONNS"`
}

type AIEmbeddingConfig struct {
	Provider       string `toml:"provider" env:"PROVIDER"`
	APIKey         string `toml:"apiKey" env:"API_KEY"`
	BaseURL        string `toml:"baseURL" env:"BASE_URL"`
	Model          string `toml:"model" env:"MODEL"`
	Dimensions     int    `toml:"dimensions" env:"DIMENSIONS"`
	TimeoutSeconds int    `toml:"timeoutSeconds" env:"TIMEOUT_SECONDS"`
}

type AIConfig struct {
	Embedding AIEmbeddingConfig `toml:"embedding" envPrefix:"EMBEDDING_"`
}

// RAGConfig 切分、向量化、检索的调优参数
type RAGConfig struct {
	ChunkSize        int    `toml:"chunkSize" env:"CHUNK_SIZE"`
	ChunkOverlap     int    `toml:"chunkOverlap" env:"CHUNK_OVERLAP"`
	AfterContextSize int    `toml:"afterContextSize" env:"AFTER_CONTEXT_SIZE"`
	MinContentLength int    `toml:"minContentLength" env:"MIN_CONTENT_LENGTH"`
	ChunkStrategy    string `toml:"chunkStrategy" env:"CHUNK_STRATEGY"`

	DefaultTopK        int     `toml:"defaultTopK" env:"DEFAULT_TOP_K"`
	MinScore           float64 `toml:"minScore" env:"MIN_SCORE"`
	MaxContextChunks   int     `toml:"maxContextChunks" env:"MAX_CONTEXT_CHUNKS"`
	RetrievalTimeoutMs int     `toml:"retrievalTimeoutMs" env:"RETRIEVAL_TIMEOUT_MS"`

	BatchDelayMs    int `toml:"batchDelayMs" env:"BATCH_DELAY_MS"`
	MaxRetries      int `toml:"maxRetries" env:"MAX_RETRIES"`
	RetryDelayMs    int `toml:"retryDelayMs" env:"RETRY_DELAY_MS"`
	RetryMaxDelayMs int `toml:"retryMaxDelayMs" env:"RETRY_MAX_DELAY_MS"`

	EmbedBatchSize    int  `toml:"embedBatchSize" env:"EMBED_BATCH_SIZE"`
	EmbedBatchDelayMs int  `toml:"embedBatchDelayMs" env:"EMBED_BATCH_DELAY_MS"`
	EmbedMaxTokens    int  `toml:"embedMaxTokens" env:"EMBED_MAX_TOKENS"`
	EmbedSequential   bool `toml:"embedSequential" env:"EMBED_SEQUENTIAL"`

	VersionCacheTTLSeconds int `toml:"versionCacheTTLSeconds" env:"VERSION_CACHE_TTL_SECONDS"`
	ResultCacheTTLSeconds  int `toml:"resultCacheTTLSeconds" env:"RESULT_CACHE_TTL_SECONDS"`
}

// TokenBudgetConfig 对话上下文的 token 预算
type TokenBudgetConfig struct {
	Mode                string  `toml:"mode" env:"MODE"`
	ContextWindow       int     `toml:"contextWindow" env:"CONTEXT_WINDOW"`
	SystemReserve       int     `toml:"systemReserve" env:"SYSTEM_RESERVE"`
	ResponseReserve     int     `toml:"responseReserve" env:"RESPONSE_RESERVE"`
	WarningThreshold    float64 `toml:"warningThreshold" env:"WARNING_THRESHOLD"`
	CompactionThreshold float64 `toml:"compactionThreshold" env:"COMPACTION_THRESHOLD"`
	EmergencyThreshold  float64 `toml:"emergencyThreshold" env:"EMERGENCY_THRESHOLD"`
	CriticalTarget      float64 `toml:"criticalTarget" env:"CRITICAL_TARGET"`
	EmergencyTarget     float64 `toml:"emergencyTarget" env:"EMERGENCY_TARGET"`
	MinMessages         int     `toml:"minMessages" env:"MIN_MESSAGES"`
	LegacyPairs         int     `toml:"legacyPairs" env:"LEGACY_PAIRS"`
	HistoryLimit        int     `toml:"historyLimit" env:"HISTORY_LIMIT"`
}

type Config struct {
	MainConfig        MainConfig        `toml:"mainConfig" envPrefix:"MAIN_"`
	MysqlConfig       MysqlConfig       `toml:"mysqlConfig" envPrefix:"MYSQL_"`
	JwtConfig         JwtConfig         `toml:"jwtConfig" envPrefix:"JWT_"`
	MilvusConfig      MilvusConfig      `toml:"milvusConfig" envPrefix:"MILVUS_"`
	KafkaConfig       KafkaConfig       `toml:"kafkaConfig" envPrefix:"KAFKA_"`
	RedisConfig       RedisConfig       `toml:"redisConfig" envPrefix:"REDIS_"`
	AIConfig          AIConfig          `toml:"aiConfig" envPrefix:"AI_"`
	RAGConfig         RAGConfig         `toml:"ragConfig" envPrefix:"RAG_"`
	TokenBudgetConfig TokenBudgetConfig `toml:"tokenBudgetConfig" envPrefix:"TOKEN_BUDGET_"`
	LogConfig         LogConfig         `toml:"logConfig" envPrefix:"LOG_"`
}

// Default 返回内置默认值，toml 与环境变量在此基础上覆盖
func Default() *Config {
	return &Config{
		MainConfig: MainConfig{
			AppName: "LeadPilot", Host: "0.0.0.0", Port: 8000, Mode: "release",
			ShutdownTimeoutSeconds: 10, RetrySweepSeconds: 300, StaleIngestSeconds: 900,
		},
		MysqlConfig: MysqlConfig{
			Host: "127.0.0.1", Port: 3306, User: "root", DatabaseName: "leadpilot",
		},
		LogConfig: LogConfig{LogPath: "logs/leadpilot.log", Level: "info"},
		JwtConfig: JwtConfig{Issuer: "leadpilot"},
		MilvusConfig: MilvusConfig{
			Address: "127.0.0.1:19530", DBName: "default", CollectionName: "leadpilot_knowledge_chunks",
			VectorDim: 1536, MetricType: "COSINE",
		},
		KafkaConfig: KafkaConfig{
			ClientID: "leadpilot", IngestTopic: "leadpilot.knowledge.ingest",
			ConsumerGroupID: "leadpilot-ingest", Partitions: 3, Replication: 1,
		},
		RedisConfig: RedisConfig{Host: "127.0.0.1", Port: 6379, PoolSize: 20, MinIdleConns: 2},
		AIConfig: AIConfig{Embedding: AIEmbeddingConfig{
			Provider: "mock", Model: "text-embedding-3-small", Dimensions: 1536, TimeoutSeconds: 30,
		}},
		RAGConfig: RAGConfig{
			ChunkSize: 1000, ChunkOverlap: 200, AfterContextSize: 50, MinContentLength: 100,
			ChunkStrategy: "boundary",
			DefaultTopK:   10, MinScore: 0, MaxContextChunks: 5, RetrievalTimeoutMs: 5000,
			BatchDelayMs: 500, MaxRetries: 3, RetryDelayMs: 1000, RetryMaxDelayMs: 10000,
			EmbedBatchSize: 5, EmbedBatchDelayMs: 100, EmbedMaxTokens: 8000,
			VersionCacheTTLSeconds: 30, ResultCacheTTLSeconds: 600,
		},
		TokenBudgetConfig: TokenBudgetConfig{
			Mode: "token", ContextWindow: 128000, SystemReserve: 2000, ResponseReserve: 4000,
			WarningThreshold: 0.75, CompactionThreshold: 0.90, EmergencyThreshold: 0.95,
			CriticalTarget: 0.70, EmergencyTarget: 0.50, MinMessages: 10, LegacyPairs: 10,
			HistoryLimit: 500,
		},
	}
}

// Load 依次叠加：默认值 -> toml 文件 -> .env -> 环境变量
func Load(path string) (*Config, error) {
	cfg := Default()

	if p := strings.TrimSpace(path); p != "" {
		if _, err := os.Stat(p); err == nil {
			if _, err := toml.DecodeFile(p, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", p, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", p, err)
		}
	}

	// .env 缺失是正常情况，容器里一般直接注入环境变量
	_ = godotenv.Load()

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	r := c.RAGConfig
	if r.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("ragConfig.chunkSize must be positive, got %d", r.ChunkSize))
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		errs = append(errs, fmt.Errorf("ragConfig.chunkOverlap must be in [0, chunkSize), got %d", r.ChunkOverlap))
	}
	if r.AfterContextSize < 0 {
		errs = append(errs, fmt.Errorf("ragConfig.afterContextSize must not be negative, got %d", r.AfterContextSize))
	}
	switch r.ChunkStrategy {
	case "boundary", "recursive":
	default:
		errs = append(errs, fmt.Errorf("ragConfig.chunkStrategy must be boundary or recursive, got %q", r.ChunkStrategy))
	}
	if r.MinScore < 0 || r.MinScore > 1 {
		errs = append(errs, fmt.Errorf("ragConfig.minScore must be in [0, 1], got %v", r.MinScore))
	}
	if r.EmbedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("ragConfig.embedBatchSize must be positive, got %d", r.EmbedBatchSize))
	}

	t := c.TokenBudgetConfig
	switch t.Mode {
	case "token", "legacy":
	default:
		errs = append(errs, fmt.Errorf("tokenBudgetConfig.mode must be token or legacy, got %q", t.Mode))
	}
	if t.ContextWindow <= 0 {
		errs = append(errs, fmt.Errorf("tokenBudgetConfig.contextWindow must be positive, got %d", t.ContextWindow))
	}
	if !(0 < t.WarningThreshold && t.WarningThreshold <= t.CompactionThreshold && t.CompactionThreshold <= t.EmergencyThreshold) {
		errs = append(errs, fmt.Errorf("tokenBudgetConfig thresholds must be ascending, got %v/%v/%v",
			t.WarningThreshold, t.CompactionThreshold, t.EmergencyThreshold))
	}
	if t.EmergencyTarget <= 0 || t.EmergencyTarget > t.CriticalTarget || t.CriticalTarget > 1 {
		errs = append(errs, fmt.Errorf("tokenBudgetConfig targets must satisfy 0 < emergency <= critical <= 1, got %v/%v",
			t.EmergencyTarget, t.CriticalTarget))
	}
	if t.MinMessages < 0 {
		errs = append(errs, fmt.Errorf("tokenBudgetConfig.minMessages must not be negative, got %d", t.MinMessages))
	}

	if c.KafkaConfig.Enabled && len(c.KafkaConfig.Brokers) == 0 {
		errs = append(errs, errors.New("kafkaConfig.brokers is required when kafka is enabled"))
	}
	if c.MilvusConfig.Enabled && c.MilvusConfig.VectorDim <= 0 {
		errs = append(errs, fmt.Errorf("milvusConfig.vectorDim must be positive, got %d", c.MilvusConfig.VectorDim))
	}
	switch c.MilvusConfig.Metric() {
	case "COSINE", "IP":
	default:
		errs = append(errs, fmt.Errorf("milvusConfig.metricType must be COSINE or IP, got %q", c.MilvusConfig.MetricType))
	}
	return errors.Join(errs...)
}

// DSN gorm mysql 连接串
func (m MysqlConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		m.User, m.Password, m.Host, m.Port, m.DatabaseName)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
