package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
)

// indexKey is the Redis hash holding one field per servitor, each field
// value a JSON-encoded IndexEntry.
const indexKey = "occult:servitors:index"

// IndexCache decorates a Store with a Redis-backed copy of the listing
// index, so ListIndex avoids hitting the backing store on every call.
// Cache maintenance is best effort: a Redis failure degrades to the inner
// store, never to an error.
type IndexCache struct {
	inner Store
	rdb   *redis.Client
}

// NewIndexCache wraps inner with the Redis index cache.
func NewIndexCache(inner Store, rdb *redis.Client) *IndexCache {
	return &IndexCache{inner: inner, rdb: rdb}
}

// Load delegates to the inner store.
func (c *IndexCache) Load(ctx context.Context, name string) (*servitor.Servitor, error) {
	return c.inner.Load(ctx, name)
}

// Save writes through to the inner store, then refreshes the cached index
// entry.
func (c *IndexCache) Save(ctx context.Context, s *servitor.Servitor) error {
	if err := c.inner.Save(ctx, s); err != nil {
		return err
	}
	c.cacheEntry(ctx, IndexEntry{
		Name:        s.Name,
		Status:      s.Status,
		ChargeLevel: s.ChargeLevel,
		CreatedAt:   s.CreatedAt,
	})
	return nil
}

// Delete writes through, then drops the cached entry.
func (c *IndexCache) Delete(ctx context.Context, name string) error {
	if err := c.inner.Delete(ctx, name); err != nil {
		return err
	}
	if err := c.rdb.HDel(ctx, indexKey, name).Err(); err != nil {
		slog.Warn("storage: drop cached index entry", "servitor", name, "error", err)
	}
	return nil
}

// List delegates to the inner store; full documents are never cached.
func (c *IndexCache) List(ctx context.Context, status servitor.Status) ([]*servitor.Servitor, error) {
	return c.inner.List(ctx, status)
}

// ListIndex serves from Redis when populated, falling back to the inner
// store and repopulating the cache on a miss.
func (c *IndexCache) ListIndex(ctx context.Context, status servitor.Status) ([]IndexEntry, error) {
	fields, err := c.rdb.HGetAll(ctx, indexKey).Result()
	if err != nil || len(fields) == 0 {
		return c.refresh(ctx, status)
	}

	entries := make([]IndexEntry, 0, len(fields))
	for name, raw := range fields {
		var entry IndexEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			slog.Warn("storage: corrupt cached index entry", "servitor", name, "error", err)
			return c.refresh(ctx, status)
		}
		if status != "" && entry.Status != status {
			continue
		}
		entries = append(entries, entry)
	}
	sortIndex(entries)
	return entries, nil
}

// Archive writes through, then refreshes the cached entry with the
// terminal status.
func (c *IndexCache) Archive(ctx context.Context, s *servitor.Servitor) error {
	if err := c.inner.Archive(ctx, s); err != nil {
		return err
	}
	c.cacheEntry(ctx, IndexEntry{
		Name:        s.Name,
		Status:      s.Status,
		ChargeLevel: s.ChargeLevel,
		CreatedAt:   s.CreatedAt,
	})
	return nil
}

// refresh rebuilds the Redis hash from the inner store's full index and
// returns the filtered view.
func (c *IndexCache) refresh(ctx context.Context, status servitor.Status) ([]IndexEntry, error) {
	all, err := c.inner.ListIndex(ctx, "")
	if err != nil {
		return nil, err
	}

	if len(all) > 0 {
		fields := make(map[string]any, len(all))
		for _, entry := range all {
			raw, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			fields[entry.Name] = raw
		}
		if err := c.rdb.HSet(ctx, indexKey, fields).Err(); err != nil {
			slog.Warn("storage: repopulate index cache", "error", err)
		}
	}

	if status == "" {
		return all, nil
	}
	filtered := all[:0:0]
	for _, entry := range all {
		if entry.Status == status {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

func (c *IndexCache) cacheEntry(ctx context.Context, entry IndexEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.rdb.HSet(ctx, indexKey, entry.Name, raw).Err(); err != nil {
		slog.Warn("storage: cache index entry", "servitor", entry.Name, "error", err)
	}
}

func sortIndex(entries []IndexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
