package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
	"github.com/StevenWanglolz/Occult-Magick/internal/sigil"
)

// metaEntry is one row of the file store's metadata index.
type metaEntry struct {
	Filename    string          `json:"filename"`
	Status      servitor.Status `json:"status"`
	ChargeLevel float64         `json:"charge_level"`
	CreatedAt   string          `json:"creation_date"`
}

// FileStore keeps each servitor as a JSON document under
// <base>/servitors/, sigils under <base>/sigils/, and a metadata.json
// index mapping name to status/charge/creation for cheap listings.
type FileStore struct {
	mu           sync.Mutex
	basePath     string
	servitorsDir string
	sigilsDir    string
	metadataPath string
}

// NewFileStore creates the data directories under basePath if needed.
func NewFileStore(basePath string) (*FileStore, error) {
	fs := &FileStore{
		basePath:     basePath,
		servitorsDir: filepath.Join(basePath, "servitors"),
		sigilsDir:    filepath.Join(basePath, "sigils"),
		metadataPath: filepath.Join(basePath, "metadata.json"),
	}
	for _, dir := range []string{fs.servitorsDir, fs.sigilsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create %s: %w", dir, err)
		}
	}
	if _, err := os.Stat(fs.metadataPath); os.IsNotExist(err) {
		if err := fs.writeMetadata(map[string]metaEntry{}); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

// SigilDir returns the directory sigil images are stored in.
func (fs *FileStore) SigilDir() string {
	return fs.sigilsDir
}

func (fs *FileStore) filename(name string) string {
	return sigil.SafeName(name) + ".json"
}

func (fs *FileStore) readMetadata() (map[string]metaEntry, error) {
	data, err := os.ReadFile(fs.metadataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]metaEntry{}, nil
		}
		return nil, fmt.Errorf("storage: read metadata: %w", err)
	}
	meta := map[string]metaEntry{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: parse metadata: %w", err)
	}
	return meta, nil
}

func (fs *FileStore) writeMetadata(meta map[string]metaEntry) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal metadata: %w", err)
	}
	if err := os.WriteFile(fs.metadataPath, data, 0o644); err != nil {
		return fmt.Errorf("storage: write metadata: %w", err)
	}
	return nil
}

// Load reads a servitor document by name.
func (fs *FileStore) Load(_ context.Context, name string) (*servitor.Servitor, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	meta, err := fs.readMetadata()
	if err != nil {
		return nil, err
	}
	entry, ok := meta[name]
	if !ok {
		return nil, servitor.ErrNotFound
	}

	data, err := os.ReadFile(filepath.Join(fs.servitorsDir, entry.Filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, servitor.ErrNotFound
		}
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}

	var s servitor.Servitor
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("storage: parse %s: %w", name, err)
	}
	return &s, nil
}

// Save writes the servitor document and updates the metadata index.
func (fs *FileStore) Save(_ context.Context, s *servitor.Servitor) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", s.Name, err)
	}
	filename := fs.filename(s.Name)
	if err := os.WriteFile(filepath.Join(fs.servitorsDir, filename), data, 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", s.Name, err)
	}

	meta, err := fs.readMetadata()
	if err != nil {
		return err
	}
	meta[s.Name] = metaEntry{
		Filename:    filename,
		Status:      s.Status,
		ChargeLevel: s.ChargeLevel,
		CreatedAt:   s.CreatedAt.Format(timeLayout),
	}
	return fs.writeMetadata(meta)
}

// Delete removes the document and its index entry.
func (fs *FileStore) Delete(_ context.Context, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	meta, err := fs.readMetadata()
	if err != nil {
		return err
	}
	entry, ok := meta[name]
	if !ok {
		return servitor.ErrNotFound
	}

	path := filepath.Join(fs.servitorsDir, entry.Filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	delete(meta, name)
	return fs.writeMetadata(meta)
}

// List loads every matching servitor, ordered by creation time.
func (fs *FileStore) List(ctx context.Context, status servitor.Status) ([]*servitor.Servitor, error) {
	index, err := fs.ListIndex(ctx, status)
	if err != nil {
		return nil, err
	}
	servitors := make([]*servitor.Servitor, 0, len(index))
	for _, entry := range index {
		s, err := fs.Load(ctx, entry.Name)
		if err != nil {
			if err == servitor.ErrNotFound {
				continue
			}
			return nil, err
		}
		servitors = append(servitors, s)
	}
	return servitors, nil
}

// ListIndex returns index entries from metadata.json, ordered by creation
// time with name as tiebreak.
func (fs *FileStore) ListIndex(_ context.Context, status servitor.Status) ([]IndexEntry, error) {
	fs.mu.Lock()
	meta, err := fs.readMetadata()
	fs.mu.Unlock()
	if err != nil {
		return nil, err
	}

	entries := make([]IndexEntry, 0, len(meta))
	for name, m := range meta {
		if status != "" && m.Status != status {
			continue
		}
		createdAt, _ := parseTime(m.CreatedAt)
		entries = append(entries, IndexEntry{
			Name:        name,
			Status:      m.Status,
			ChargeLevel: m.ChargeLevel,
			CreatedAt:   createdAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// Archive persists a dismissed servitor in place.
func (fs *FileStore) Archive(ctx context.Context, s *servitor.Servitor) error {
	s.Status = servitor.StatusDismissed
	return fs.Save(ctx, s)
}
