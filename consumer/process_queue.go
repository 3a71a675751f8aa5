package consumer

import (
	"sync"
	"time"

	"github.com/twmb/go-rbtree"

	"github.com/twmb/rocketmq-go/primitive"
)

const (
	defaultLockExpireMillis = 30 * 1000
	defaultPullExpireMillis = 120 * 1000
)

// msgItem adapts a pulled message to rbtree.Item, ordering the tree by
// offset. This gives ProcessQueue ordered iteration (smallest remaining
// offset, in-order takeMessages) without hand-rolling tree balancing.
type msgItem struct {
	offset int64
	msg    *primitive.MessageExt
}

func (m msgItem) Less(than rbtree.Item) bool {
	return m.offset < than.(msgItem).offset
}

// ProcessQueue is the per-MessageQueue in-memory window of pulled-but-not-
// yet-acknowledged messages. All mutating
// operations hold mu; the flow-control probes only take a read lock.
type ProcessQueue struct {
	mu sync.RWMutex

	tree     rbtree.Tree // offset -> msgItem, main mapping
	msgCount int
	msgSize  int64

	queueOffsetMax int64

	// consuming holds messages handed to the orderly listener but not yet
	// committed. TakeMessages moves offsets out of tree into consuming, so
	// an offset is in at most one of the two.
	consuming     rbtree.Tree
	consumingSize int

	locked            bool
	lastLockTimestamp time.Time
	lastPullTimestamp time.Time
	lastConsumeTime   time.Time

	dropped bool
}

// NewProcessQueue constructs an empty, non-dropped ProcessQueue.
func NewProcessQueue() *ProcessQueue {
	return &ProcessQueue{
		lastPullTimestamp: time.Now(),
		lastConsumeTime:   time.Now(),
	}
}

// PutMessages inserts every msg whose offset is not already in the main
// mapping; messages whose offset is already present (a duplicate pull, e.g. after a rebalance
// re-creates a PullRequest for a queue still mid-flight) are silently
// discarded. Returns true iff at least one
// message was newly inserted -- orderly mode uses this as its dispatch
// trigger.
func (pq *ProcessQueue) PutMessages(msgs []*primitive.MessageExt) bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.dropped || len(msgs) == 0 {
		return false
	}

	inserted := false
	for _, m := range msgs {
		if pq.tree.Get(msgItem{offset: m.QueueOffset}) != nil {
			continue // duplicate: a later-started pull returned an earlier offset
		}
		pq.tree.Insert(msgItem{offset: m.QueueOffset, msg: m})
		pq.msgCount++
		pq.msgSize += int64(len(m.Body))
		if m.QueueOffset > pq.queueOffsetMax {
			pq.queueOffsetMax = m.QueueOffset
		}
		inserted = true
	}
	pq.lastPullTimestamp = time.Now()
	return inserted
}

// RemoveMessage deletes msgs from the main mapping (used by concurrent
// consumption after the listener returns) and returns the new safe commit
// offset: the smallest offset still present, or queueOffsetMax+1 if the
// mapping is now empty. A dropped ProcessQueue always returns -1 so the
// caller never commits on behalf of a tombstoned queue.
func (pq *ProcessQueue) RemoveMessage(msgs []*primitive.MessageExt) int64 {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.dropped {
		return -1
	}

	for _, m := range msgs {
		if node := pq.tree.Get(msgItem{offset: m.QueueOffset}); node != nil {
			pq.tree.Delete(msgItem{offset: m.QueueOffset})
			pq.msgCount--
			pq.msgSize -= int64(len(m.Body))
		}
	}
	return pq.safeCommitOffsetLocked()
}

// safeCommitOffsetLocked must be called with mu held.
func (pq *ProcessQueue) safeCommitOffsetLocked() int64 {
	if min := pq.tree.Min(); min != nil {
		return min.(msgItem).offset
	}
	return pq.queueOffsetMax + 1
}

// SafeCommitOffset returns the current safe-to-persist offset without
// mutating anything and regardless of the dropped flag. Rebalance uses this
// to capture a revoked queue's final offset before the queue is cleared;
// RemoveMessage itself refuses once dropped so it cannot be used for that
// purpose.
func (pq *ProcessQueue) SafeCommitOffset() int64 {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return pq.safeCommitOffsetLocked()
}

// TakeMessages is orderly-only: it moves up to maxBatch messages, in offset
// order, from the main mapping into the consuming set and returns them.
func (pq *ProcessQueue) TakeMessages(maxBatch int) []*primitive.MessageExt {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.dropped || maxBatch <= 0 {
		return nil
	}

	var out []*primitive.MessageExt
	for len(out) < maxBatch {
		min := pq.tree.Min()
		if min == nil {
			break
		}
		item := min.(msgItem)
		pq.tree.Delete(item)
		pq.consuming.Insert(item)
		out = append(out, item.msg)
	}
	return out
}

// Commit is orderly-only: it durably consumes everything currently in the
// consuming set and returns the new safe commit offset.
func (pq *ProcessQueue) Commit() int64 {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.dropped {
		return -1
	}

	var consumedSize int64
	pq.consuming.Inorder(func(it rbtree.Item) bool {
		consumedSize += int64(len(it.(msgItem).msg.Body))
		return true
	})
	pq.msgSize -= consumedSize
	pq.msgCount -= pq.consuming.Size()
	pq.consuming = rbtree.Tree{}

	return pq.safeCommitOffsetLocked()
}

// MakeMessageToConsumeAgain is orderly-only: it moves msgs back from the
// consuming set to the head of the main mapping, for SUSPEND_CURRENT_QUEUE
// handling.
func (pq *ProcessQueue) MakeMessageToConsumeAgain(msgs []*primitive.MessageExt) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.dropped {
		return
	}

	for _, m := range msgs {
		item := msgItem{offset: m.QueueOffset, msg: m}
		pq.consuming.Delete(item)
		pq.tree.Insert(item)
	}
}

// ClearAllMsgs empties the queue and all counters. Idempotent.
func (pq *ProcessQueue) ClearAllMsgs() {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.tree = rbtree.Tree{}
	pq.consuming = rbtree.Tree{}
	pq.msgCount = 0
	pq.msgSize = 0
}

// MarkDropped marks this ProcessQueue as dropped. Sticky: once true, all
// further mutating operations become no-ops (aside from ClearAllMsgs, which
// is the final cleanup step callers must still invoke).
func (pq *ProcessQueue) MarkDropped() {
	pq.mu.Lock()
	pq.dropped = true
	pq.mu.Unlock()
}

func (pq *ProcessQueue) IsDropped() bool {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return pq.dropped
}

// GetCachedMsgCount is a non-mutating flow-control probe.
func (pq *ProcessQueue) GetCachedMsgCount() int {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return pq.msgCount
}

// GetCachedMsgSize is a non-mutating flow-control probe (bytes).
func (pq *ProcessQueue) GetCachedMsgSize() int64 {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return pq.msgSize
}

// GetMaxSpan returns lastOffset-firstOffset across the main mapping, or 0 if
// empty or singleton.
func (pq *ProcessQueue) GetMaxSpan() int64 {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	min := pq.tree.Min()
	max := pq.tree.Max()
	if min == nil || max == nil {
		return 0
	}
	return max.(msgItem).offset - min.(msgItem).offset
}

func (pq *ProcessQueue) SetLocked(locked bool) {
	pq.mu.Lock()
	pq.locked = locked
	if locked {
		pq.lastLockTimestamp = time.Now()
	}
	pq.mu.Unlock()
}

func (pq *ProcessQueue) IsLocked() bool {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return pq.locked
}

// IsLockExpired reports whether this queue's broker-granted lock is past
// the configured expiry (default 30s).
func (pq *ProcessQueue) IsLockExpired() bool {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return time.Since(pq.lastLockTimestamp) > defaultLockExpireMillis*time.Millisecond
}

// IsPullExpired reports whether this queue has gone too long without a
// successful pull (default 120s), signalling the pull scheduler may have
// stalled for this queue.
func (pq *ProcessQueue) IsPullExpired() bool {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return time.Since(pq.lastPullTimestamp) > defaultPullExpireMillis*time.Millisecond
}

func (pq *ProcessQueue) SetLastConsumeTime(t time.Time) {
	pq.mu.Lock()
	pq.lastConsumeTime = t
	pq.mu.Unlock()
}

func (pq *ProcessQueue) LastConsumeTime() time.Time {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return pq.lastConsumeTime
}

// QueueOffsetMax returns the largest offset ever inserted into this queue.
func (pq *ProcessQueue) QueueOffsetMax() int64 {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return pq.queueOffsetMax
}
