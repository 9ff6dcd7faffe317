package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLockFile_Exclusive(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "config")

	unlock, err := LockFile(path)
	if err != nil {
		t.Fatalf("LockFile: %v", err)
	}
	if _, err := os.Stat(path + ".lock"); err != nil {
		t.Fatalf("expected lock file: %v", err)
	}

	if _, err := lockFile(path, 50*time.Millisecond); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock while held, got %v", err)
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Fatalf("expected lock file to be removed, got %v", err)
	}

	unlock, err = lockFile(path, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestLockFile_WaitsForRelease(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config")
	unlock, err := LockFile(path)
	if err != nil {
		t.Fatalf("LockFile: %v", err)
	}
	time.AfterFunc(100*time.Millisecond, func() { _ = unlock() })

	unlock2, err := lockFile(path, 5*time.Second)
	if err != nil {
		t.Fatalf("expected the lock once released, got %v", err)
	}
	if err := unlock2(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestSetKeyInFile_Concurrent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config")
	keys := []string{"log.level", "log.file", "log.buffer", "log.max-size", "log.max-files"}

	var wg sync.WaitGroup
	errs := make(chan error, len(keys))
	for _, k := range keys {
		wg.Go(func() {
			errs <- SetKeyInFile(path, k, "1")
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SetKeyInFile: %v", err)
		}
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	for _, k := range keys {
		if v := cfg.Global[k]; v != "1" {
			t.Errorf("expected %s=1, got %q", k, v)
		}
	}
}
