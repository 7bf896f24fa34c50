// Package storage persists servitors as keyed documents. Two backends
// implement the same Store interface: a JSON file store for local use and
// a Postgres store for server deployments, plus an optional Redis
// decorator that caches the listing index. Persistence is last-write-wins;
// it is the synchronization point across processes.
package storage

import (
	"context"
	"time"

	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
)

// timeLayout is the timestamp format used in the file store's metadata
// index.
const timeLayout = time.RFC3339Nano

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// IndexEntry is the companion index row kept per servitor so listings can
// avoid full document deserialization.
type IndexEntry struct {
	Name        string          `json:"name"`
	Status      servitor.Status `json:"status"`
	ChargeLevel float64         `json:"charge_level"`
	CreatedAt   time.Time       `json:"creation_date"`
}

// Store is the persistence contract for servitors, keyed by name.
// Load returns servitor.ErrNotFound for a missing key; it returns the
// document as stored — applying decay on load is the lifecycle service's
// job.
type Store interface {
	Load(ctx context.Context, name string) (*servitor.Servitor, error)
	Save(ctx context.Context, s *servitor.Servitor) error
	Delete(ctx context.Context, name string) error

	// List returns full servitors ordered by creation time. An empty
	// status returns all.
	List(ctx context.Context, status servitor.Status) ([]*servitor.Servitor, error)

	// ListIndex returns index entries ordered by creation time without
	// deserializing full documents.
	ListIndex(ctx context.Context, status servitor.Status) ([]IndexEntry, error)

	// Archive persists a dismissed servitor. The record stays under its
	// key with terminal status rather than being deleted.
	Archive(ctx context.Context, s *servitor.Servitor) error
}
