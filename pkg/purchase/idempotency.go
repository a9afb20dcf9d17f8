package purchase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kiranamart/mandi/pkg/models"
)

// DefaultIdempotencyWindow suppresses duplicate orders for this long.
const DefaultIdempotencyWindow = 5 * time.Minute

// redisKeyPrefix namespaces idempotency entries in a shared Redis.
const redisKeyPrefix = "mandi:idem:"

// IdempotencyKey derives the duplicate-suppression key. The day bucket keeps
// keys stable within one UTC calendar day, so a routine repeat order on a
// later day is never suppressed.
func IdempotencyKey(connectorID, externalID, userID string, at time.Time) string {
	day := at.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(connectorID + "|" + externalID + "|" + userID + "|" + day))
	return hex.EncodeToString(sum[:16])
}

// Record is one idempotency entry: when the key was first seen and, once an
// order succeeded under it, the result to replay.
type Record struct {
	Key    string                 `json:"key"`
	SeenAt time.Time              `json:"seen_at"`
	Result *models.PurchaseResult `json:"result,omitempty"`
}

// IdempotencyStore tracks order request keys within the suppression window.
// Backends are fail-open: a storage error is logged and treated as a miss,
// trading duplicate suppression for availability.
type IdempotencyStore interface {
	// Check returns the record for the key if it was seen within the window.
	Check(ctx context.Context, key string) (*Record, bool)
	// MarkSeen records the key sighting; an existing record is left intact.
	MarkSeen(ctx context.Context, key string)
	// RecordSuccess stores the successful result for verbatim replay.
	RecordSuccess(ctx context.Context, key string, res *models.PurchaseResult)
}

// ────────────────────────────────────────────────────────────
// In-memory backend
// ────────────────────────────────────────────────────────────

// MemoryStore is the default single-process idempotency backend.
type MemoryStore struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]*Record
}

// NewMemoryStore creates a store with the given suppression window.
func NewMemoryStore(window time.Duration) *MemoryStore {
	if window <= 0 {
		window = DefaultIdempotencyWindow
	}
	return &MemoryStore{
		window:  window,
		entries: make(map[string]*Record),
	}
}

// Check implements IdempotencyStore.
func (m *MemoryStore) Check(_ context.Context, key string) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(rec.SeenAt) > m.window {
		delete(m.entries, key)
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// MarkSeen implements IdempotencyStore.
func (m *MemoryStore) MarkSeen(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.entries[key]; ok && time.Since(rec.SeenAt) <= m.window {
		return
	}
	m.entries[key] = &Record{Key: key, SeenAt: time.Now().UTC()}
}

// RecordSuccess implements IdempotencyStore.
func (m *MemoryStore) RecordSuccess(_ context.Context, key string, res *models.PurchaseResult) {
	cp := *res
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &Record{Key: key, SeenAt: time.Now().UTC(), Result: &cp}
}

// Len returns the number of live entries, expired ones included until their
// next Check.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ────────────────────────────────────────────────────────────
// Redis backend
// ────────────────────────────────────────────────────────────

// RedisStore shares the suppression window across replicas. Entries expire
// via TTL; errors degrade to misses with a warning.
type RedisStore struct {
	client *redis.Client
	window time.Duration
	logger *slog.Logger
}

// NewRedisStore creates a store over an existing client.
func NewRedisStore(client *redis.Client, window time.Duration) *RedisStore {
	if window <= 0 {
		window = DefaultIdempotencyWindow
	}
	return &RedisStore{
		client: client,
		window: window,
		logger: slog.Default().With("component", "purchase.RedisStore"),
	}
}

// Check implements IdempotencyStore.
func (r *RedisStore) Check(ctx context.Context, key string) (*Record, bool) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("Idempotency check failed, treating as miss", "error", err)
		}
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		r.logger.Warn("Idempotency record unreadable, treating as miss", "error", err)
		return nil, false
	}
	return &rec, true
}

// MarkSeen implements IdempotencyStore.
func (r *RedisStore) MarkSeen(ctx context.Context, key string) {
	raw, err := json.Marshal(&Record{Key: key, SeenAt: time.Now().UTC()})
	if err != nil {
		return
	}
	// NX keeps the first sighting; the window anchors there.
	if err := r.client.SetNX(ctx, redisKeyPrefix+key, raw, r.window).Err(); err != nil {
		r.logger.Warn("Idempotency mark failed", "error", err)
	}
}

// RecordSuccess implements IdempotencyStore.
func (r *RedisStore) RecordSuccess(ctx context.Context, key string, res *models.PurchaseResult) {
	raw, err := json.Marshal(&Record{Key: key, SeenAt: time.Now().UTC(), Result: res})
	if err != nil {
		r.logger.Warn("Idempotency record not encodable", "error", err)
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, raw, r.window).Err(); err != nil {
		r.logger.Warn("Idempotency record write failed", "error", err)
	}
}
