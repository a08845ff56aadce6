package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"fireedge.io/gateway/models"
)

const (
	// defaultLockWait applies when the caller's context has no deadline.
	defaultLockWait = 5 * time.Second

	lockRetryDelay = 100 * time.Millisecond
)

// Mapping is the YAML side-file that maps provision IDs to the UUID of the
// log that tracks them. Writers hold an advisory lock on "<file>.lock" so the
// CLI tooling and other gateway instances can share the file.
type Mapping struct {
	path string
	lock *flock.Flock

	// mu serialises writers of this instance; flock is per open file.
	mu sync.Mutex
}

// NewMapping opens (lazily) the side-file at path.
func NewMapping(path string) *Mapping {
	return &Mapping{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the side-file location.
func (m *Mapping) Path() string {
	return m.path
}

// Lookup returns the log UUID recorded for provisionID.
func (m *Mapping) Lookup(provisionID string) (string, bool, error) {
	entries, err := m.read()
	if err != nil {
		return "", false, err
	}
	uuid, ok := entries[provisionID]
	return uuid, ok, nil
}

// All returns a copy of every entry.
func (m *Mapping) All() (map[string]string, error) {
	return m.read()
}

// Set records provisionID -> uuid. If another writer holds the lock until
// ctx expires the write is skipped and models.ErrJobLocked returned.
func (m *Mapping) Set(ctx context.Context, provisionID, uuid string) error {
	return m.update(ctx, func(entries map[string]string) bool {
		if entries[provisionID] == uuid {
			return false
		}
		entries[provisionID] = uuid
		return true
	})
}

// Delete removes provisionID. Missing entries are not an error.
func (m *Mapping) Delete(ctx context.Context, provisionID string) error {
	return m.update(ctx, func(entries map[string]string) bool {
		if _, ok := entries[provisionID]; !ok {
			return false
		}
		delete(entries, provisionID)
		return true
	})
}

// DeleteUUIDs removes every entry pointing at one of uuids.
func (m *Mapping) DeleteUUIDs(ctx context.Context, uuids ...string) error {
	drop := make(map[string]bool, len(uuids))
	for _, u := range uuids {
		drop[u] = true
	}
	return m.update(ctx, func(entries map[string]string) bool {
		changed := false
		for id, u := range entries {
			if drop[u] {
				delete(entries, id)
				changed = true
			}
		}
		return changed
	})
}

func (m *Mapping) update(ctx context.Context, mutate func(map[string]string) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultLockWait)
		defer cancel()
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create mapping directory: %w", err)
	}

	locked, err := m.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return fmt.Errorf("%w: %s", models.ErrJobLocked, m.path)
	}
	defer m.lock.Unlock()

	entries, err := m.read()
	if err != nil {
		return err
	}
	if !mutate(entries) {
		return nil
	}
	return m.write(entries)
}

func (m *Mapping) read() (map[string]string, error) {
	entries := make(map[string]string)

	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}

	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse mapping %s: %w", m.path, err)
	}
	if entries == nil {
		entries = make(map[string]string)
	}
	return entries, nil
}

// write replaces the file atomically so readers never see a partial document.
func (m *Mapping) write(entries map[string]string) error {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".mapping-*.yml")
	if err != nil {
		return fmt.Errorf("failed to create temp mapping: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write mapping: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync mapping: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close mapping: %w", err)
	}

	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("failed to replace mapping: %w", err)
	}
	return nil
}
