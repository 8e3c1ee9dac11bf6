// Package cache provides a TTL-bounded shared memoization layer over Redis
// with connection-health monitoring, retry-with-backoff, deterministic key
// derivation, and pattern-based invalidation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odvcencio/scout/pkg/config"
	scouterrors "github.com/odvcencio/scout/pkg/errors"
	"github.com/odvcencio/scout/pkg/logging"
)

// schemaVersion tags every stored envelope. Entries written by an older
// schema are treated as misses and deleted.
const schemaVersion = 1

// ConnState represents the cache connection state
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

// entry is the envelope stored per key.
type entry struct {
	Payload    json.RawMessage `json:"payload"`
	CachedAt   int64           `json:"cached_at"`
	Version    int             `json:"version"`
	TTLSeconds int             `json:"ttl_seconds"`
}

// Stats is a snapshot of process-lifetime cache counters.
type Stats struct {
	Hits            int64   `json:"hits"`
	Misses          int64   `json:"misses"`
	Sets            int64   `json:"sets"`
	Deletes         int64   `json:"deletes"`
	Errors          int64   `json:"errors"`
	HitRate         float64 `json:"hit_rate"`
	ConnectionState string  `json:"connection_state"`
}

// Store is a Redis-backed TTL cache. All methods are safe for concurrent
// use. A Store must be Initialized before use and Closed exactly once;
// Initialize must not be called twice (two health loops would result).
type Store struct {
	cfg    config.CacheConfig
	logger *logging.Logger
	rdb    *redis.Client

	state atomic.Int32

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	errs    atomic.Int64

	healthCancel context.CancelFunc
	healthDone   chan struct{}
	closed       atomic.Bool
}

// New creates a Store. The connection is not opened until Initialize.
func New(cfg config.CacheConfig, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{
		cfg:    cfg,
		logger: logger,
	}
}

// Initialize opens the pooled connection, performs one liveness probe, and
// starts the background health-check loop. The loop starts even when the
// probe fails, so a backend that is down at boot is picked up once it comes
// back; the probe failure is still returned so callers can report it.
func (s *Store) Initialize(ctx context.Context) error {
	s.state.Store(int32(StateConnecting))

	s.rdb = redis.NewClient(&redis.Options{
		Addr:         s.cfg.Addr,
		Password:     s.cfg.Password,
		DB:           s.cfg.DB,
		DialTimeout:  s.cfg.DialTimeout(),
		ReadTimeout:  s.cfg.ReadTimeout(),
		WriteTimeout: s.cfg.WriteTimeout(),
		PoolSize:     s.cfg.PoolSize,
	})

	healthCtx, cancel := context.WithCancel(context.Background())
	s.healthCancel = cancel
	s.healthDone = make(chan struct{})
	go s.healthLoop(healthCtx)

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		s.state.Store(int32(StateDisconnected))
		s.logger.Error(logging.CategoryCache, "cache.init.failed", "initial liveness probe failed", map[string]any{
			"addr":  s.cfg.Addr,
			"error": err.Error(),
		})
		return scouterrors.Wrap(err, scouterrors.ErrCodeCacheUnavailable, "cache liveness probe failed").
			WithContext("addr", s.cfg.Addr)
	}

	s.state.Store(int32(StateConnected))

	s.logger.Info(logging.CategoryCache, "cache.init", "cache store initialized", map[string]any{
		"addr": s.cfg.Addr,
		"db":   s.cfg.DB,
	})
	return nil
}

// Close stops the health loop and releases the connection pool. Safe to call
// once; subsequent operations fail fast with a cache-unavailable error.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	if s.healthCancel != nil {
		s.healthCancel()
		<-s.healthDone
	}

	s.state.Store(int32(StateDisconnected))

	var err error
	if s.rdb != nil {
		err = s.rdb.Close()
	}
	s.logger.Info(logging.CategoryCache, "cache.closed", "cache store closed", nil)
	return err
}

// State returns the current connection state.
func (s *Store) State() ConnState {
	return ConnState(s.state.Load())
}

// healthLoop probes the connection on a fixed interval, flipping state
// between Connected and Degraded. Transitions log exactly once.
func (s *Store) healthLoop(ctx context.Context) {
	defer close(s.healthDone)

	interval := s.cfg.HealthCheckInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout())
			err := s.rdb.Ping(probeCtx).Err()
			cancel()

			if err != nil {
				// Only a working connection degrades; a store that never
				// connected stays Disconnected until a probe succeeds.
				if s.state.CompareAndSwap(int32(StateConnected), int32(StateDegraded)) {
					s.logger.Error(logging.CategoryCache, "cache.degraded", "health check failed", map[string]any{
						"error": err.Error(),
					})
					metricCacheStateChanges.Inc()
				}
			} else {
				if prev := ConnState(s.state.Swap(int32(StateConnected))); prev != StateConnected {
					s.logger.Info(logging.CategoryCache, "cache.recovered", "connection established", map[string]any{
						"previous": prev.String(),
					})
					metricCacheStateChanges.Inc()
				}
			}
		}
	}
}

// Get retrieves the payload stored under key. The second return reports
// whether the lookup was a hit. Stale-schema entries count as misses and are
// deleted best-effort.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := s.available(); err != nil {
		return nil, false, err
	}

	var raw string
	err := s.withRetry(ctx, "get", func(opCtx context.Context) error {
		var opErr error
		raw, opErr = s.rdb.Get(opCtx, key).Result()
		return opErr
	})
	if errors.Is(err, redis.Nil) {
		s.misses.Add(1)
		metricCacheMisses.Inc()
		return nil, false, nil
	}
	if err != nil {
		s.misses.Add(1)
		metricCacheMisses.Inc()
		return nil, false, err
	}

	var ent entry
	if err := json.Unmarshal([]byte(raw), &ent); err != nil || ent.Version != schemaVersion {
		// Unreadable or stale-schema data: treat as a miss and clear it.
		s.misses.Add(1)
		metricCacheMisses.Inc()
		_ = s.rdb.Del(ctx, key).Err()
		s.logger.Warn(logging.CategoryCache, "cache.stale_entry", "deleted invalid cache entry", map[string]any{
			"key": key,
		})
		return nil, false, nil
	}

	s.hits.Add(1)
	metricCacheHits.Inc()
	return ent.Payload, true, nil
}

// Set stores value under key with the given TTL. The value is wrapped in a
// versioned envelope before writing.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := s.available(); err != nil {
		return err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return scouterrors.Wrap(err, scouterrors.ErrCodeCacheOperation, "marshaling cache payload").
			WithContext("key", key)
	}

	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL()
	}

	data, err := json.Marshal(entry{
		Payload:    payload,
		CachedAt:   time.Now().Unix(),
		Version:    schemaVersion,
		TTLSeconds: int(ttl / time.Second),
	})
	if err != nil {
		return scouterrors.Wrap(err, scouterrors.ErrCodeCacheOperation, "marshaling cache entry").
			WithContext("key", key)
	}

	err = s.withRetry(ctx, "set", func(opCtx context.Context) error {
		return s.rdb.Set(opCtx, key, data, ttl).Err()
	})
	if err != nil {
		return err
	}

	s.sets.Add(1)
	metricCacheSets.Inc()
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.available(); err != nil {
		return err
	}

	err := s.withRetry(ctx, "delete", func(opCtx context.Context) error {
		return s.rdb.Del(opCtx, key).Err()
	})
	if err != nil {
		return err
	}

	s.deletes.Add(1)
	metricCacheDeletes.Inc()
	return nil
}

// InvalidateByPattern deletes all keys matching a glob pattern using an
// incremental SCAN rather than a blocking keyspace listing. A failed delete
// on one key does not abort the scan.
func (s *Store) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	if err := s.available(); err != nil {
		return 0, err
	}

	deleted := 0
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			s.errs.Add(1)
			metricCacheErrors.Inc()
			s.logger.Warn(logging.CategoryCache, "cache.invalidate.key_failed", "failed to delete matched key", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
			continue
		}
		deleted++
		s.deletes.Add(1)
		metricCacheDeletes.Inc()
	}
	if err := iter.Err(); err != nil {
		s.errs.Add(1)
		metricCacheErrors.Inc()
		return deleted, scouterrors.Wrap(err, scouterrors.ErrCodeCacheOperation, "pattern scan failed").
			WithContext("pattern", pattern)
	}

	s.logger.Info(logging.CategoryCache, "cache.invalidated", "invalidated entries by pattern", map[string]any{
		"pattern": pattern,
		"deleted": deleted,
	})
	return deleted, nil
}

// ClearNamespace deletes every entry in a namespace.
func (s *Store) ClearNamespace(ctx context.Context, namespace string) (int, error) {
	return s.InvalidateByPattern(ctx, namespace+":*")
}

// ClearAll deletes every entry across the known namespaces and returns
// per-namespace deletion counts.
func (s *Store) ClearAll(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, 3)
	var firstErr error
	for _, ns := range []string{NamespaceReport, NamespaceSection, NamespaceMeta} {
		n, err := s.ClearNamespace(ctx, ns)
		counts[ns] = n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return counts, firstErr
}

// Stats returns a snapshot of the lifetime counters.
func (s *Store) Stats() Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()

	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return Stats{
		Hits:            hits,
		Misses:          misses,
		Sets:            s.sets.Load(),
		Deletes:         s.deletes.Load(),
		Errors:          s.errs.Load(),
		HitRate:         hitRate,
		ConnectionState: s.State().String(),
	}
}

// available fails fast when the store was never initialized or has been
// closed. Degraded stores still attempt operations; the retry policy covers
// transient loss.
func (s *Store) available() error {
	if s.closed.Load() || s.rdb == nil {
		return scouterrors.New(scouterrors.ErrCodeCacheUnavailable, "cache store is not connected")
	}
	return nil
}

// withRetry runs op up to MaxRetries times, backing off exponentially on
// transient connectivity errors. Data errors propagate immediately.
func (s *Store) withRetry(ctx context.Context, name string, op func(context.Context) error) error {
	maxRetries := s.cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.cfg.RetryDelay() * (1 << (attempt - 1))
			s.logger.Warn(logging.CategoryRetry, "cache.retry", "retrying cache operation", map[string]any{
				"op":      name,
				"attempt": attempt + 1,
				"delay":   delay.String(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return scouterrors.Wrap(ctx.Err(), scouterrors.ErrCodeCacheOperation, "cache operation cancelled").
					WithContext("op", name)
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransient(err) {
			s.errs.Add(1)
			metricCacheErrors.Inc()
			return scouterrors.Wrap(err, scouterrors.ErrCodeCacheOperation, "cache operation failed").
				WithContext("op", name)
		}

		s.errs.Add(1)
		metricCacheErrors.Inc()
		lastErr = err
	}

	s.logger.Error(logging.CategoryCache, "cache.retries_exhausted", "cache operation failed after retries", map[string]any{
		"op":       name,
		"attempts": maxRetries,
		"error":    lastErr.Error(),
	})
	return scouterrors.Wrap(lastErr, scouterrors.ErrCodeCacheOperation, "cache retries exhausted").
		WithContext("op", name).
		WithContext("attempts", maxRetries)
}

// isTransient reports whether an error is a connectivity failure worth
// retrying, as opposed to a data error.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.ErrClosed) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
