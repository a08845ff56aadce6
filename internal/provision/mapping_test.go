package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"fireedge.io/gateway/models"
)

func TestMapping_SetLookupDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMapping(filepath.Join(t.TempDir(), "nested", "mapping.yml"))

	_, ok, err := m.Lookup("1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "1", "uuid-a"))
	require.NoError(t, m.Set(ctx, "2", "uuid-b"))

	got, ok, err := m.Lookup("1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "uuid-a", got)

	raw, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	var onDisk map[string]string
	require.NoError(t, yaml.Unmarshal(raw, &onDisk))
	assert.Equal(t, map[string]string{"1": "uuid-a", "2": "uuid-b"}, onDisk)

	require.NoError(t, m.Delete(ctx, "1"))
	require.NoError(t, m.Delete(ctx, "missing"))

	all, err := m.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"2": "uuid-b"}, all)
}

func TestMapping_DeleteUUIDs(t *testing.T) {
	ctx := context.Background()
	m := NewMapping(filepath.Join(t.TempDir(), "mapping.yml"))

	require.NoError(t, m.Set(ctx, "1", "uuid-a"))
	require.NoError(t, m.Set(ctx, "2", "uuid-b"))
	require.NoError(t, m.Set(ctx, "3", "uuid-a"))

	require.NoError(t, m.DeleteUUIDs(ctx, "uuid-a"))

	all, err := m.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"2": "uuid-b"}, all)
}

func TestMapping_SkipsWhenLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yml")
	m := NewMapping(path)

	// Another writer (a separate file handle) holds the lock.
	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err = m.Set(ctx, "1", "uuid-a")
	assert.True(t, errors.Is(err, models.ErrJobLocked), "got %v", err)

	_, ok, err := m.Lookup("1")
	require.NoError(t, err)
	assert.False(t, ok, "skipped write must not touch the file")

	require.NoError(t, other.Unlock())
	require.NoError(t, m.Set(context.Background(), "1", "uuid-a"))
}

func TestMapping_WaitsForLockRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yml")
	m := NewMapping(path)

	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	go func() {
		time.Sleep(150 * time.Millisecond)
		other.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, m.Set(ctx, "7", "uuid-z"))

	got, ok, err := m.Lookup("7")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "uuid-z", got)
}

func TestMapping_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yml")
	require.NoError(t, os.WriteFile(path, []byte("{not: [valid"), 0o644))

	_, _, err := NewMapping(path).Lookup("1")
	assert.Error(t, err)
}
