package hostsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"taskos/kernel/klog"
)

type memStore struct {
	mu    sync.Mutex
	files map[string]string
}

func newMemStore() *memStore { return &memStore{files: make(map[string]string)} }

func (s *memStore) WriteFile(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = string(data)
	return nil
}

func (s *memStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[name]; !ok {
		return errors.New("no such file")
	}
	delete(s.files, name)
	return nil
}

func (s *memStore) get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.files[name]
	return v, ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the importer")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSyncCopiesRegularFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	store := newMemStore()
	im, err := New(dir, store, klog.New(nil, klog.Off))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer im.Close()

	n, err := im.Sync()
	if n != 1 || err != nil {
		t.Fatalf("Sync() = %d, %v, want 1, nil", n, err)
	}
	if got, _ := store.get("a.txt"); got != "alpha" {
		t.Fatalf("a.txt = %q", got)
	}
	if _, ok := store.get("sub"); ok {
		t.Fatal("directory was imported")
	}
}

func TestRunFollowsChanges(t *testing.T) {
	dir := t.TempDir()
	store := newMemStore()
	im, err := New(dir, store, klog.New(nil, klog.Off))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- im.Run(ctx) }()

	path := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(path, []byte("beta"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { v, _ := store.get("b.txt"); return v == "beta" })

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { _, ok := store.get("b.txt"); return !ok })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}
}

func TestNewRejectsFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path, newMemStore(), nil); err == nil {
		t.Fatal("New accepted a regular file")
	}
}
