package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
)

func testStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return fs
}

func makeServitor(name string, createdAt time.Time) *servitor.Servitor {
	s := servitor.New(name, "test purpose")
	s.CreatedAt = createdAt
	return s
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs := testStore(t)
	ctx := context.Background()

	s := makeServitor("Lumen", time.Now().UTC())
	s.AddCharge(35, "visualization")
	s.AddTask(&servitor.Task{Name: "check", Type: servitor.TaskReminder})

	if err := fs.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := fs.Load(ctx, "Lumen")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != s.Name || got.ChargeLevel != s.ChargeLevel || got.Status != s.Status {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if len(got.Tasks) != 1 || got.Tasks[0].Name != "check" {
		t.Errorf("tasks did not round-trip: %+v", got.Tasks)
	}
	if len(got.ChargeHistory) != 1 {
		t.Errorf("charge history did not round-trip: %+v", got.ChargeHistory)
	}
}

func TestFileStoreLoadMissing(t *testing.T) {
	fs := testStore(t)
	if _, err := fs.Load(context.Background(), "Nobody"); !errors.Is(err, servitor.ErrNotFound) {
		t.Errorf("Load missing = %v, want ErrNotFound", err)
	}
}

func TestFileStoreDelete(t *testing.T) {
	fs := testStore(t)
	ctx := context.Background()

	s := makeServitor("Lumen", time.Now().UTC())
	if err := fs.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := fs.Delete(ctx, "Lumen"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fs.Load(ctx, "Lumen"); !errors.Is(err, servitor.ErrNotFound) {
		t.Errorf("Load after delete = %v, want ErrNotFound", err)
	}
	if err := fs.Delete(ctx, "Lumen"); !errors.Is(err, servitor.ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestFileStoreSafeFilenames(t *testing.T) {
	fs := testStore(t)
	ctx := context.Background()

	s := makeServitor("Night Watch/7", time.Now().UTC())
	if err := fs.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := fs.Load(ctx, "Night Watch/7")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "Night Watch/7" {
		t.Errorf("name = %q, the key keeps the original spelling", got.Name)
	}

	entries, err := os.ReadDir(filepath.Join(fs.basePath, "servitors"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one document, got %d", len(entries))
	}
	if name := entries[0].Name(); filepath.Base(name) != name || name == "Night Watch/7.json" {
		t.Errorf("unsanitized filename: %q", name)
	}
}

func TestFileStoreListOrdering(t *testing.T) {
	fs := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Saved out of order; listings come back by creation time.
	second := makeServitor("Second", base.Add(time.Hour))
	first := makeServitor("First", base)
	third := makeServitor("Third", base.Add(2*time.Hour))
	third.Status = servitor.StatusActive

	for _, s := range []*servitor.Servitor{second, first, third} {
		if err := fs.Save(ctx, s); err != nil {
			t.Fatalf("Save %s: %v", s.Name, err)
		}
	}

	all, err := fs.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List length = %d, want 3", len(all))
	}
	for i, want := range []string{"First", "Second", "Third"} {
		if all[i].Name != want {
			t.Errorf("all[%d] = %q, want %q", i, all[i].Name, want)
		}
	}

	active, err := fs.ListIndex(ctx, servitor.StatusActive)
	if err != nil {
		t.Fatalf("ListIndex: %v", err)
	}
	if len(active) != 1 || active[0].Name != "Third" {
		t.Errorf("active index = %+v, want only Third", active)
	}
	if active[0].ChargeLevel != third.ChargeLevel || !active[0].CreatedAt.Equal(third.CreatedAt) {
		t.Errorf("index entry mismatch: %+v", active[0])
	}
}

func TestFileStoreArchive(t *testing.T) {
	fs := testStore(t)
	ctx := context.Background()

	s := makeServitor("Lumen", time.Now().UTC())
	if err := fs.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := fs.Archive(ctx, s); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	got, err := fs.Load(ctx, "Lumen")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != servitor.StatusDismissed {
		t.Errorf("status = %q, want dismissed after archive", got.Status)
	}

	index, err := fs.ListIndex(ctx, servitor.StatusDismissed)
	if err != nil {
		t.Fatalf("ListIndex: %v", err)
	}
	if len(index) != 1 {
		t.Errorf("dismissed index length = %d, want 1", len(index))
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs.Save(ctx, makeServitor("Lumen", time.Now().UTC())); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := reopened.Load(ctx, "Lumen"); err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
}
