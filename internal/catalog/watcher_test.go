package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcher_MarksSnapshotStale(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newScenarioResolver(t)
	r.ListFiles(context.Background())
	require.False(t, r.Stale())

	w, err := NewWatcher(r, 10*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, r.Root(), "new.py", 3)

	assert.Eventually(t, r.Stale, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
