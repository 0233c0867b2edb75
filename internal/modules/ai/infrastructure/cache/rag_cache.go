package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/domain/repository"
	"LeadPilot/pkg/redis"
	"LeadPilot/pkg/zlog"
)

const keyPrefix = "leadpilot:rag"

// RedisRAGCache 缓存 key 带 namespace 的代数，失效时只需自增代数，旧 key 随 TTL 过期
type RedisRAGCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRAGCache(rdb *redis.Client, ttl time.Duration) *RedisRAGCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisRAGCache{rdb: rdb, ttl: ttl}
}

// Fingerprint 由检索参数生成缓存指纹
func Fingerprint(query string, version int64, topK int, minScore float64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%.4f", strings.ToLower(strings.TrimSpace(query)), version, topK, minScore)))
	return hex.EncodeToString(h[:16])
}

func generationKey(ns string) string { return keyPrefix + ":gen:" + ns }

func resultKey(ns string, gen int64, fingerprint string) string {
	return fmt.Sprintf("%s:res:%s:%d:%s", keyPrefix, ns, gen, fingerprint)
}

func (c *RedisRAGCache) Generation(ctx context.Context, namespace string) (int64, error) {
	gen, err := c.rdb.GetInt64(ctx, generationKey(namespace))
	if err != nil {
		zlog.Warn("rag cache generation read failed", zap.String("namespace", namespace), zap.Error(err))
		return 0, err
	}
	return gen, nil
}

func (c *RedisRAGCache) Load(ctx context.Context, namespace string, gen int64, fingerprint string) (*knowledge.RAGResult, bool) {
	key := resultKey(namespace, gen, fingerprint)
	raw, ok, err := c.rdb.Get(ctx, key)
	if err != nil || !ok {
		if err != nil {
			zlog.Warn("rag cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var res knowledge.RAGResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		zlog.Warn("rag cache decode failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &res, true
}

func (c *RedisRAGCache) Store(ctx context.Context, namespace string, gen int64, fingerprint string, res *knowledge.RAGResult) {
	if res == nil {
		return
	}
	key := resultKey(namespace, gen, fingerprint)
	bs, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, bs, c.ttl); err != nil {
		zlog.Warn("rag cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *RedisRAGCache) Invalidate(ctx context.Context, namespace string) {
	if _, err := c.rdb.Incr(ctx, generationKey(namespace)); err != nil {
		zlog.Warn("rag cache invalidate failed", zap.String("namespace", namespace), zap.Error(err))
	}
}

var _ repository.RAGResultCache = (*RedisRAGCache)(nil)
