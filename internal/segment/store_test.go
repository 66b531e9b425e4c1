package segment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewStoreCreatesPrivateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "segments")

	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	info, err := os.Stat(store.Dir())
	if err != nil {
		t.Fatalf("Store dir missing: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("Store path should be a directory")
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("Expected mode 0700, got %o", perm)
	}
}

func TestNewStoreRejectsEmptyDir(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Error("Expected error for empty directory")
	}
}

func TestAllocateUniqueWithFrozenClock(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	frozen := time.Unix(1700000000, 0)
	store.now = func() time.Time { return frozen }

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		path, err := store.Allocate("recording", ".m4a")
		if err != nil {
			t.Fatalf("Allocate failed: %v", err)
		}
		if seen[path] {
			t.Fatalf("Duplicate path on call %d: %s", i, path)
		}
		seen[path] = true
	}
}

func TestAllocateSkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	frozen := time.Unix(0, 42)
	store.now = func() time.Time { return frozen }

	taken := filepath.Join(dir, "recording_42.wav")
	if err := os.WriteFile(taken, []byte("x"), 0o600); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	path, err := store.Allocate("recording", ".wav")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if path == taken {
		t.Errorf("Allocate returned a path that already exists: %s", path)
	}
}

func TestAllocateNaming(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	path, err := store.Allocate("", ".m4a")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("Expected path in %s, got %s", dir, path)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "recording_") || !strings.HasSuffix(base, ".m4a") {
		t.Errorf("Unexpected file name: %s", base)
	}
}

func TestRemoveDeletesRawAndEncoded(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	seg := Segment{Path: filepath.Join(dir, "recording_1.m4a"), Format: DefaultFormat()}
	for _, p := range []string{seg.Path, seg.RawPath()} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
	}

	if err := store.Remove(seg); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	for _, p := range []string{seg.Path, seg.RawPath()} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("Expected %s to be removed", p)
		}
	}

	// removing again is not an error
	if err := store.Remove(seg); err != nil {
		t.Errorf("Second remove should succeed, got %v", err)
	}
}
