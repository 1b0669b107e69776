package editsession

import (
	"sync"
	"time"

	"github.com/coflow/coflow/pkg/domain/workflow"
)

// operationBuffer tracks applied EditOperation ids for dedup and retains a
// bounded window of recent operations in memory for fast resync (spec.md
// §6.3's sync endpoint). Retention is "last 1,000 operations or last hour,
// whichever window is larger at flush time" (recorded as an Open Question
// decision in DESIGN.md) — entries are only dropped once they are both
// older than maxAge and beyond the most recent minCount entries.
type operationBuffer struct {
	mu       sync.Mutex
	seqCount int64
	seenIDs  map[string]int64 // EditOperation.ID -> the seq it was assigned
	recent   []workflow.EditOperation
	minCount int
	maxAge   time.Duration
}

func newOperationBuffer(minCount int, maxAge time.Duration) *operationBuffer {
	return &operationBuffer{
		seenIDs:  make(map[string]int64),
		minCount: minCount,
		maxAge:   maxAge,
	}
}

// seen reports whether id has already been applied, and if so the seq it
// was assigned — so a client's retried submission gets back the same
// {seq, status: duplicate} response it would have gotten the first time.
func (b *operationBuffer) seen(id string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq, ok := b.seenIDs[id]
	return seq, ok
}

func (b *operationBuffer) nextSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seqCount++
	return b.seqCount
}

func (b *operationBuffer) record(op workflow.EditOperation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seenIDs[op.ID] = op.Seq
	b.recent = append(b.recent, op)
	b.trimLocked()
}

// trimLocked drops operations older than maxAge, but never below minCount
// entries, so a quiet session never loses its last N ops to the age cutoff.
func (b *operationBuffer) trimLocked() {
	if len(b.recent) <= b.minCount {
		return
	}
	cutoff := time.Now().UTC().Add(-b.maxAge)
	keepFrom := 0
	for keepFrom < len(b.recent)-b.minCount && b.recent[keepFrom].InsertedAt.Before(cutoff) {
		keepFrom++
	}
	if keepFrom == 0 {
		return
	}
	dropped := b.recent[:keepFrom]
	for _, op := range dropped {
		delete(b.seenIDs, op.ID)
	}
	b.recent = append([]workflow.EditOperation(nil), b.recent[keepFrom:]...)
}

// Since returns every retained operation with Seq greater than lastSeq, for
// the sync endpoint's client_seq catch-up path.
func (b *operationBuffer) Since(lastSeq int64) []workflow.EditOperation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]workflow.EditOperation, 0, len(b.recent))
	for _, op := range b.recent {
		if op.Seq > lastSeq {
			out = append(out, op)
		}
	}
	return out
}

// currentSeq reports the most recently assigned sequence number.
func (b *operationBuffer) currentSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seqCount
}

// truncatedBefore reports whether lastSeq falls outside the retained window
// — some operation between lastSeq+1 and the oldest retained op has already
// been dropped, so an incremental catch-up would be missing entries and the
// caller must fall back to a full sync.
func (b *operationBuffer) truncatedBefore(lastSeq int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if lastSeq <= 0 {
		return false
	}
	if len(b.recent) == 0 {
		return lastSeq < b.seqCount
	}
	return b.recent[0].Seq > lastSeq+1
}
