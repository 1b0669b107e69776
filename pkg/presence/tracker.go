// Package presence tracks which WebSocket connections are live for which
// (workflow, user) pair and sweeps away entries whose connection has gone
// quiet without a clean close (spec.md §4.7: "a dropped connection must
// eventually clear that user's presence even if the client never sends a
// leave message").
//
// Grounded on pkg/api/ws.go's WSHub: a mutex-guarded map of live
// connections, registered/unregistered as clients connect and disconnect.
// coflow has no teacher concept of presence timeouts, so the sweep loop
// itself is new, built the way WSHub's own status-ticker loop is shaped
// (a single goroutine, a time.Ticker, select against ctx.Done()).
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/coflow/coflow/pkg/domain"
)

// ConnID identifies one live WebSocket connection.
type ConnID string

type entry struct {
	workflowID domain.EntityID
	userID     string
	lastSeen   time.Time
	onTimeout  func(workflowID domain.EntityID, userID string)
}

// Tracker maps live connections to the (workflow, user) pair they represent
// and evicts entries that miss their heartbeat deadline.
type Tracker struct {
	mu      sync.Mutex
	conns   map[ConnID]*entry
	timeout time.Duration
}

// New returns a Tracker that considers a connection stale after timeout has
// elapsed since its last Heartbeat.
func New(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Tracker{conns: make(map[ConnID]*entry), timeout: timeout}
}

// Register records a new live connection. onTimeout is invoked (from the
// sweep goroutine) if the connection goes stale before Unregister is called.
func (t *Tracker) Register(id ConnID, workflowID domain.EntityID, userID string, onTimeout func(workflowID domain.EntityID, userID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[id] = &entry{
		workflowID: workflowID,
		userID:     userID,
		lastSeen:   time.Now(),
		onTimeout:  onTimeout,
	}
}

// Heartbeat refreshes id's last-seen time. A heartbeat on an unknown id is a
// no-op: the connection may have just been swept or never registered.
func (t *Tracker) Heartbeat(id ConnID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.conns[id]; ok {
		e.lastSeen = time.Now()
	}
}

// Unregister removes id without invoking its timeout callback — used for a
// clean disconnect where the caller is already driving its own leave logic.
func (t *Tracker) Unregister(id ConnID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, id)
}

// Count reports how many connections are currently tracked, for diagnostics.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Sweep runs until ctx is canceled, evicting any connection whose last
// heartbeat is older than the tracker's timeout and invoking its onTimeout
// callback outside the lock.
func (t *Tracker) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = t.timeout / 2
		if interval <= 0 {
			interval = 5 * time.Second
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweepOnce()
		}
	}
}

func (t *Tracker) sweepOnce() {
	cutoff := time.Now().Add(-t.timeout)
	var stale []*entry

	t.mu.Lock()
	for id, e := range t.conns {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e)
			delete(t.conns, id)
		}
	}
	t.mu.Unlock()

	for _, e := range stale {
		if e.onTimeout != nil {
			e.onTimeout(e.workflowID, e.userID)
		}
	}
}
