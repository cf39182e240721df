package intake

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// submissions records submit calls for assertions.
type submissions struct {
	mu    sync.Mutex
	paths []string
}

func (s *submissions) submit(_ context.Context, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
}

func (s *submissions) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func startWatcher(t *testing.T, dir string, exts []string) (*submissions, context.CancelFunc) {
	t.Helper()

	subs := &submissions{}
	w, err := NewWatcher(Config{
		Dir:           dir,
		Extensions:    exts,
		DebounceDelay: 50 * time.Millisecond,
	}, subs.submit)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	return subs, cancel
}

func TestWatcherSubmitsNewFile(t *testing.T) {
	dir := t.TempDir()
	subs, _ := startWatcher(t, dir, []string{".rhd"})

	path := filepath.Join(dir, "session.rhd")
	require.NoError(t, os.WriteFile(path, []byte("recording data"), 0644))

	require.Eventually(t, func() bool {
		return len(subs.snapshot()) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, path, subs.snapshot()[0])
}

func TestWatcherIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	subs, _ := startWatcher(t, dir, []string{".rhd"})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("notes"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.rhd"), []byte("data"), 0644))

	require.Eventually(t, func() bool {
		return len(subs.snapshot()) >= 1
	}, 2*time.Second, 20*time.Millisecond)

	// Give the ignored file a chance to (wrongly) flush too.
	time.Sleep(150 * time.Millisecond)
	paths := subs.snapshot()
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join(dir, "session.rhd"), paths[0])
}

func TestWatcherSuppressesUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	subs, _ := startWatcher(t, dir, []string{".rhd"})

	path := filepath.Join(dir, "session.rhd")
	require.NoError(t, os.WriteFile(path, []byte("same content"), 0644))

	require.Eventually(t, func() bool {
		return len(subs.snapshot()) == 1
	}, 2*time.Second, 20*time.Millisecond)

	// Rewriting identical bytes is not a new submission.
	require.NoError(t, os.WriteFile(path, []byte("same content"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, subs.snapshot(), 1)

	// Changed content is.
	require.NoError(t, os.WriteFile(path, []byte("different content"), 0644))
	require.Eventually(t, func() bool {
		return len(subs.snapshot()) == 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherDebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	subs, _ := startWatcher(t, dir, []string{".rhd"})

	path := filepath.Join(dir, "growing.rhd")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = f.WriteString("chunk\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	// A burst of writes within the debounce window collapses into one
	// submission of the settled file.
	require.Eventually(t, func() bool {
		return len(subs.snapshot()) == 1
	}, 2*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, subs.snapshot(), 1)
}
