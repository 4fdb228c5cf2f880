package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRequestResolvedApproved(t *testing.T) {
	a := New(nil)
	var approvalID string
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		dec, err := a.Request(context.Background(), Request{SessionID: "s1", ToolName: "search"}, -1, time.Now())
		require.NoError(t, err)
		require.True(t, dec.Approved)
	}()

	// Give the requester a moment to register before resolving.
	time.Sleep(20 * time.Millisecond)
	for _, info := range a.snapshotForTest() {
		approvalID = info.ApprovalID
	}
	require.NotEmpty(t, approvalID)
	require.True(t, a.Resolve(approvalID, true))
	wg.Wait()
}

func TestRequestTimesOutToDeny(t *testing.T) {
	a := New(nil)
	dec, err := a.Request(context.Background(), Request{SessionID: "s1", ToolName: "search"}, 10, time.Now())
	require.NoError(t, err)
	require.False(t, dec.Approved)
}

func TestResolveIsIdempotent(t *testing.T) {
	a := New(nil)
	var approvalID string
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		dec, err := a.Request(context.Background(), Request{SessionID: "s1", ToolName: "search"}, -1, time.Now())
		require.NoError(t, err)
		require.True(t, dec.Approved)
	}()

	time.Sleep(20 * time.Millisecond)
	for _, info := range a.snapshotForTest() {
		approvalID = info.ApprovalID
	}

	require.True(t, a.Resolve(approvalID, true))
	require.False(t, a.Resolve(approvalID, false)) // no-op: already resolved and evicted
	wg.Wait()

	_, ok := a.Info(approvalID)
	require.False(t, ok) // destroyed on resolve
}

func TestSweepDeniesStaleEntries(t *testing.T) {
	a := New(nil)
	now := time.Now()

	done := make(chan Decision, 1)
	go func() {
		dec, _ := a.Request(context.Background(), Request{SessionID: "s1", ToolName: "search"}, -1, now)
		done <- dec
	}()
	time.Sleep(20 * time.Millisecond)

	denied := a.Sweep(5*time.Millisecond, now.Add(time.Second))
	require.Equal(t, 1, denied)

	dec := <-done
	require.False(t, dec.Approved)
}

func TestSweepLimiterSkipsSweepWhenNoTokenAvailable(t *testing.T) {
	a := New(nil)
	now := time.Now()

	done := make(chan Decision, 1)
	go func() {
		dec, _ := a.Request(context.Background(), Request{SessionID: "s1", ToolName: "search"}, -1, now)
		done <- dec
	}()
	time.Sleep(20 * time.Millisecond)

	// No burst, no initial token: the first Sweep call finds the limiter
	// empty and performs no work.
	a.SetSweepLimiter(rate.NewLimiter(rate.Limit(1), 0))
	denied := a.Sweep(5*time.Millisecond, now.Add(time.Second))
	require.Equal(t, 0, denied)

	approvalID := ""
	for _, info := range a.snapshotForTest() {
		approvalID = info.ApprovalID
	}
	require.NotEmpty(t, approvalID, "entry must still be pending: rate-limited sweep did not touch it")

	require.True(t, a.Resolve(approvalID, true))
	dec := <-done
	require.True(t, dec.Approved)
}

// snapshotForTest exposes pending entries for assertions without widening
// the package's public API.
func (a *Arbiter) snapshotForTest() []Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Info, 0, len(a.pending))
	for _, e := range a.pending {
		e.mu.Lock()
		out = append(out, e.info)
		e.mu.Unlock()
	}
	return out
}
