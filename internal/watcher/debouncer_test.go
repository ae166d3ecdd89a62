package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveBatch(t *testing.T, ch <-chan []FileEvent, timeout time.Duration) []FileEvent {
	t.Helper()
	select {
	case batch, ok := <-ch:
		require.True(t, ok, "channel closed")
		return batch
	case <-time.After(timeout):
		t.Fatal("timed out waiting for batch")
		return nil
	}
}

func TestDebouncer_CoalescesPerPath(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(30*time.Millisecond, nil)
	defer d.Stop()

	// When: a burst of events arrives for three paths
	d.Add(FileEvent{Path: "/kb/b.txt", Operation: OpCreate})
	d.Add(FileEvent{Path: "/kb/b.txt", Operation: OpModify})
	d.Add(FileEvent{Path: "/kb/a.txt", Operation: OpModify})
	d.Add(FileEvent{Path: "/kb/tmp.txt", Operation: OpCreate})
	d.Add(FileEvent{Path: "/kb/tmp.txt", Operation: OpDelete})

	// Then: one sorted batch, create+modify stays create, create+delete vanishes
	batch := receiveBatch(t, d.Output(), time.Second)
	require.Len(t, batch, 2)
	assert.Equal(t, "/kb/a.txt", batch[0].Path)
	assert.Equal(t, OpModify, batch[0].Operation)
	assert.Equal(t, "/kb/b.txt", batch[1].Path)
	assert.Equal(t, OpCreate, batch[1].Operation)
}

func TestDebouncer_DeleteThenCreateIsModify(t *testing.T) {
	// Given: a debouncer
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	// When: a file is deleted and recreated within the window
	d.Add(FileEvent{Path: "/kb/a.txt", Operation: OpDelete})
	d.Add(FileEvent{Path: "/kb/a.txt", Operation: OpCreate})

	// Then: it is reported as modified
	batch := receiveBatch(t, d.Output(), time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation)
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	// Given: a debouncer with a pending event
	d := NewDebouncer(time.Hour, nil)
	d.Add(FileEvent{Path: "/kb/a.txt", Operation: OpCreate})

	// When: stopping twice
	d.Stop()
	d.Stop()

	// Then: output is closed and later adds are ignored
	_, ok := <-d.Output()
	assert.False(t, ok)
	d.Add(FileEvent{Path: "/kb/b.txt", Operation: OpCreate})
}

func TestOptions_WithDefaults(t *testing.T) {
	// Given: empty options
	opts := Options{}.WithDefaults()

	// Then: defaults are filled
	assert.Equal(t, 500*time.Millisecond, opts.DebounceWindow)
	assert.Equal(t, 2*time.Second, opts.PollInterval)
	assert.Equal(t, 100, opts.EventBufferSize)
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "UNKNOWN", Operation(42).String())
}
