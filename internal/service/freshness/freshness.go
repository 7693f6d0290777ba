package freshness

import (
	"context"
	"encoding/json"
	"time"

	"quantiv/internal/domain/repository"
	"quantiv/internal/service/cache"
	"quantiv/pkg/logger"
)

// envelope wraps a cached payload with its generation timestamp. Freshness is
// judged against the embedded timestamp, not the storage TTL: the TTL only
// bounds memory.
type envelope struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Payload     json.RawMessage `json:"payload"`
}

// Store is a best-effort freshness cache over a BytesCache. Every failure
// degrades to a miss or a no-op; it never fails a read path.
type Store struct {
	cache   cache.BytesCache
	log     *logger.Logger
	metrics repository.Metrics
	now     func() time.Time
}

func NewStore(c cache.BytesCache, log *logger.Logger, m repository.Metrics) *Store {
	return &Store{cache: c, log: log, metrics: m, now: time.Now}
}

// WithNow overrides the clock. Used in tests.
func (s *Store) WithNow(now func() time.Time) *Store {
	s.now = now
	return s
}

// Get loads key into dest when a cached entry exists and is younger than
// maxAge. Stale entries are never served.
func (s *Store) Get(ctx context.Context, op, key string, maxAge time.Duration, dest any) bool {
	b, ok, err := s.cache.GetBytes(ctx, key)
	if err != nil {
		s.log.Warn("cache read failed", logger.String("key", key), logger.Error(err))
		s.metrics.RecordCacheMiss(op)
		return false
	}
	if !ok {
		s.metrics.RecordCacheMiss(op)
		return false
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		s.log.Warn("cache entry malformed", logger.String("key", key), logger.Error(err))
		s.metrics.RecordCacheMiss(op)
		return false
	}
	if s.now().Sub(env.GeneratedAt) >= maxAge {
		s.metrics.RecordCacheMiss(op)
		return false
	}
	if err := json.Unmarshal(env.Payload, dest); err != nil {
		s.log.Warn("cache payload malformed", logger.String("key", key), logger.Error(err))
		s.metrics.RecordCacheMiss(op)
		return false
	}

	s.metrics.RecordCacheHit(op)
	return true
}

// Put stamps v with the current time and stores it. The storage TTL is twice
// the serving age so an entry outlives its freshness window without lingering.
func (s *Store) Put(ctx context.Context, key string, maxAge time.Duration, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("cache marshal failed", logger.String("key", key), logger.Error(err))
		return
	}
	b, err := json.Marshal(envelope{GeneratedAt: s.now(), Payload: payload})
	if err != nil {
		s.log.Warn("cache marshal failed", logger.String("key", key), logger.Error(err))
		return
	}
	if err := s.cache.SetBytes(ctx, key, b, 2*maxAge); err != nil {
		s.log.Warn("cache write failed", logger.String("key", key), logger.Error(err))
	}
}

// Invalidate drops every key matching pattern. Best-effort.
func (s *Store) Invalidate(ctx context.Context, pattern string) {
	if err := s.cache.DeletePattern(ctx, pattern); err != nil {
		s.log.Warn("cache invalidate failed", logger.String("pattern", pattern), logger.Error(err))
	}
}
