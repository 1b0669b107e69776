package presence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/presence"
)

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	tr := presence.New(50 * time.Millisecond)
	var mu sync.Mutex
	var timedOut bool
	tr.Register("c1", domain.NewID(), "u1", func(domain.EntityID, string) {
		mu.Lock()
		timedOut = true
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Sweep(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(120 * time.Millisecond)
	for time.Now().Before(deadline) {
		tr.Heartbeat("c1")
		time.Sleep(15 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.False(t, timedOut)
	require.Equal(t, 1, tr.Count())
}

func TestSweepEvictsStaleConnection(t *testing.T) {
	tr := presence.New(30 * time.Millisecond)
	done := make(chan struct{})
	var gotWorkflow domain.EntityID
	var gotUser string
	wfID := domain.NewID()
	tr.Register("c1", wfID, "u1", func(w domain.EntityID, u string) {
		gotWorkflow = w
		gotUser = u
		close(done)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Sweep(ctx, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sweep eviction")
	}

	require.Equal(t, wfID, gotWorkflow)
	require.Equal(t, "u1", gotUser)
	require.Equal(t, 0, tr.Count())
}

func TestUnregisterSkipsTimeoutCallback(t *testing.T) {
	tr := presence.New(20 * time.Millisecond)
	called := false
	tr.Register("c1", domain.NewID(), "u1", func(domain.EntityID, string) { called = true })
	tr.Unregister("c1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Sweep(ctx, 10*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	require.False(t, called)
	require.Equal(t, 0, tr.Count())
}
