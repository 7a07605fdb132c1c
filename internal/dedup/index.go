package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Index records URLs already merged into a run's corpus. Add reports whether
// the URL was newly added (first occurrence wins).
type Index interface {
	Add(ctx context.Context, rawURL string) (bool, error)
	Seen(ctx context.Context, rawURL string) (bool, error)
	Len(ctx context.Context) (int, error)
}

// MemoryIndex is the in-process implementation, used in tests and whenever
// Redis is unavailable.
type MemoryIndex struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{seen: make(map[string]bool)}
}

func (m *MemoryIndex) Add(_ context.Context, rawURL string) (bool, error) {
	key := CanonicalURL(rawURL)
	if key == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *MemoryIndex) Seen(_ context.Context, rawURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[CanonicalURL(rawURL)], nil
}

func (m *MemoryIndex) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen), nil
}

// RedisIndex stores the seen set in a per-run Redis set with a TTL, so audit
// tooling can inspect what a run merged without the set outliving it.
type RedisIndex struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisIndex creates an index scoped to runID.
func NewRedisIndex(client *redis.Client, runID string, ttl time.Duration, logger *zap.Logger) *RedisIndex {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIndex{
		client: client,
		key:    fmt.Sprintf("periscope:seen:%s", runID),
		ttl:    ttl,
		logger: logger,
	}
}

func (r *RedisIndex) Add(ctx context.Context, rawURL string) (bool, error) {
	key := CanonicalURL(rawURL)
	if key == "" {
		return false, nil
	}
	added, err := r.client.SAdd(ctx, r.key, key).Result()
	if err != nil {
		return false, fmt.Errorf("sadd %s: %w", r.key, err)
	}
	// Refresh TTL on every write; cheap relative to the search calls around it.
	if err := r.client.Expire(ctx, r.key, r.ttl).Err(); err != nil {
		r.logger.Warn("Failed to refresh dedup TTL", zap.String("key", r.key), zap.Error(err))
	}
	return added == 1, nil
}

func (r *RedisIndex) Seen(ctx context.Context, rawURL string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key, CanonicalURL(rawURL)).Result()
	if err != nil {
		return false, fmt.Errorf("sismember %s: %w", r.key, err)
	}
	return ok, nil
}

func (r *RedisIndex) Len(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("scard %s: %w", r.key, err)
	}
	return int(n), nil
}
