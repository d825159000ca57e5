package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

const (
	redisEntryPrefix = "catalog:cache:"
	redisRunPrefix   = "catalog:run:"
	redisRunIndex    = "catalog:runs"
)

// RedisStore keeps cache entries as expiring keys and runs as JSON values
// indexed by a sorted set of completion times.
type RedisStore struct {
	client redis.UniversalClient
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, eris.New("redis: address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "redis: ping")
	}
	return &RedisStore{client: client}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) GetEntry(ctx context.Context, fingerprint string) (*model.CacheEntry, error) {
	b, err := s.client.Get(ctx, redisEntryPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "redis: get entry %s", fingerprint)
	}
	var e model.CacheEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, eris.Wrapf(err, "redis: unmarshal entry %s", fingerprint)
	}
	return &e, nil
}

// PutEntry sets the key to expire with the entry. Readers still check
// ExpiresAt themselves.
func (s *RedisStore) PutEntry(ctx context.Context, entry *model.CacheEntry) error {
	if err := checkEntry(entry); err != nil {
		return err
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "redis: marshal entry")
	}
	ttl := entry.ExpiresAt.Sub(entry.CreatedAt)
	if ttl <= 0 {
		ttl = model.CacheTTL
	}
	err = s.client.Set(ctx, redisEntryPrefix+entry.Fingerprint, b, ttl).Err()
	return eris.Wrapf(err, "redis: put entry %s", entry.Fingerprint)
}

func (s *RedisStore) DeleteEntry(ctx context.Context, fingerprint string) error {
	err := s.client.Del(ctx, redisEntryPrefix+fingerprint).Err()
	return eris.Wrapf(err, "redis: delete entry %s", fingerprint)
}

func (s *RedisStore) SaveRun(ctx context.Context, report *model.IngestionReport) error {
	b, err := marshalReport(report)
	if err != nil {
		return err
	}
	sum := report.Summary()
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, redisRunPrefix+sum.RunID, b, 0)
		p.ZAdd(ctx, redisRunIndex, redis.Z{Score: float64(sum.CreatedAt.UnixMilli()), Member: sum.RunID})
		return nil
	})
	return eris.Wrapf(err, "redis: save run %s", sum.RunID)
}

func (s *RedisStore) GetRun(ctx context.Context, runID string) (*model.IngestionReport, error) {
	b, err := s.client.Get(ctx, redisRunPrefix+runID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, eris.Wrapf(ErrRunNotFound, "redis: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "redis: get run %s", runID)
	}
	return unmarshalReport(b)
}

// ListRuns walks the index newest first. FailedOnly filters after paging
// through the index, so it may scan past Limit entries.
func (s *RedisStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error) {
	ids, err := s.client.ZRevRange(ctx, redisRunIndex, 0, -1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: list runs")
	}

	var out []model.RunSummary
	skipped := 0
	for _, id := range ids {
		if len(out) >= filter.limit() {
			break
		}
		r, err := s.GetRun(ctx, id)
		if errors.Is(err, ErrRunNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.FailedOnly && !r.Failed {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, r.Summary())
	}
	return out, nil
}

// Migrate is a no-op; Redis has no schema.
func (s *RedisStore) Migrate(context.Context) error { return nil }

func (s *RedisStore) Close() error {
	return s.client.Close()
}
