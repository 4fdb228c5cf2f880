package subscriber

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeDebouncesBurstWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	s := New(nil, 40*time.Millisecond)
	defer s.Close()

	var count int32
	id, err := s.Subscribe("sess-1", path, func(evt ChangeEvent) {
		atomic.AddInt32(&count, 1)
		require.Equal(t, "sess-1", evt.SessionID)
		require.Equal(t, "change", evt.Type)
	})
	require.NoError(t, err)
	defer s.Unsubscribe("sess-1", id)

	for i := 0; i < 5; i++ {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString("{}\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	s := New(nil, 20*time.Millisecond)
	defer s.Close()

	var count int32
	id, err := s.Subscribe("sess-1", path, func(ChangeEvent) {
		atomic.AddInt32(&count, 1)
	})
	require.NoError(t, err)
	s.Unsubscribe("sess-1", id)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&count))
}
