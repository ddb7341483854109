package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) callback(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, path)
	return nil
}

func (r *recorder) count(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == path {
			n++
		}
	}
	return n
}

func TestNewWatcher_NoFiles(t *testing.T) {
	_, err := NewWatcher(nil, 0, func(string) error { return nil })
	assert.Error(t, err)
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "users.sql")
	other := filepath.Join(dir, "other.sql")
	require.NoError(t, os.WriteFile(watched, []byte("-- name: A\nSELECT 1\n"), 0644))
	require.NoError(t, os.WriteFile(other, []byte("SELECT 2\n"), 0644))

	rec := &recorder{}
	w, err := NewWatcher([]string{watched}, 20*time.Millisecond, rec.callback)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	assert.Equal(t, 1, rec.count(watched), "initial run")

	require.NoError(t, os.WriteFile(other, []byte("SELECT 3\n"), 0644))
	require.NoError(t, os.WriteFile(watched, []byte("-- name: A\nSELECT 2\n"), 0644))

	assert.Eventually(t, func() bool { return rec.count(watched) >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, rec.count(other))

	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop(), "stop is idempotent")
}
