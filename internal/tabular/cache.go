package tabular

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds recent reads. Entries expire after a short TTL and are dropped
// on every write to the same table.
type Cache interface {
	Get(ctx context.Context, table string) (Table, bool)
	Set(ctx context.Context, table string, t Table)
	Invalidate(ctx context.Context, table string) error
}

type noCache struct{}

func (noCache) Get(context.Context, string) (Table, bool) { return Table{}, false }
func (noCache) Set(context.Context, string, Table)        {}
func (noCache) Invalidate(context.Context, string) error  { return nil }

type memoryEntry struct {
	table     Table
	expiresAt time.Time
}

type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: map[string]memoryEntry{}}
}

func (c *MemoryCache) Get(_ context.Context, table string) (Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[table]
	if !ok {
		return Table{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, table)
		return Table{}, false
	}
	return e.table.Clone(), true
}

func (c *MemoryCache) Set(_ context.Context, table string, t Table) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[table] = memoryEntry{table: t.Clone(), expiresAt: c.now().Add(c.ttl)}
}

func (c *MemoryCache) Invalidate(_ context.Context, table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, table)
	return nil
}

// RedisCache shares reads between processes pointed at the same spreadsheet,
// which keeps the request volume under the Sheets quota.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewRedisCache(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "cyclecount:table:"
	}
	return &RedisCache{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

type cachedTable struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func (c *RedisCache) Get(ctx context.Context, table string) (Table, bool) {
	blob, err := c.client.Get(ctx, c.keyPrefix+table).Bytes()
	if err != nil {
		// redis.Nil is a plain miss
		return Table{}, false
	}
	var payload cachedTable
	if err := json.Unmarshal(blob, &payload); err != nil {
		return Table{}, false
	}
	t := Table{Columns: payload.Columns, Rows: make([]Row, 0, len(payload.Rows))}
	for _, r := range payload.Rows {
		t.Rows = append(t.Rows, Row(r))
	}
	return t, true
}

func (c *RedisCache) Set(ctx context.Context, table string, t Table) {
	if c.ttl <= 0 {
		return
	}
	clean := Sanitize(t)
	payload := cachedTable{Columns: clean.Columns, Rows: make([]map[string]any, 0, len(clean.Rows))}
	for _, r := range clean.Rows {
		payload.Rows = append(payload.Rows, map[string]any(r))
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.keyPrefix+table, blob, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, table string) error {
	if err := c.client.Del(ctx, c.keyPrefix+table).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", table, err)
	}
	return nil
}
