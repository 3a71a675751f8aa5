package consumer

import (
	"sync"
	"time"

	"github.com/twmb/rocketmq-go/primitive"
)

// PullRequest is one outstanding work item bound to a MessageQueue, created
// by rebalance when a queue is first assigned to this consumer and torn
// down once its dropped flag has been honored by every subsystem watching
// it.
type PullRequest struct {
	ConsumerGroup string
	MessageQueue  primitive.MessageQueue
	ProcessQueue  *ProcessQueue

	// nextOffset is the offset the next pull RPC will request. It is only
	// ever set from a broker's nextBeginOffset, never inferred from message
	// count.
	nextOffsetMu sync.Mutex
	nextOffset   int64

	lastConsumeTimestamp time.Time

	// critical is the orderly-mode serialization primitive: at most one
	// worker may hold it for this queue at a time. A buffered channel of
	// size 1 gives a bounded TryLockCritical(timeout).
	critical chan struct{}

	droppedMu sync.RWMutex
	dropped   bool

	lockExpireMu sync.Mutex
	lockExpireAt time.Time

	reconsumeTimes map[int64]int32
	reconsumeMu    sync.Mutex
}

// NewPullRequest constructs a PullRequest starting at nextOffset.
func NewPullRequest(group string, mq primitive.MessageQueue, nextOffset int64) *PullRequest {
	pr := &PullRequest{
		ConsumerGroup:  group,
		MessageQueue:   mq,
		ProcessQueue:   NewProcessQueue(),
		nextOffset:     nextOffset,
		critical:       make(chan struct{}, 1),
		reconsumeTimes: make(map[int64]int32),
	}
	pr.critical <- struct{}{}
	return pr
}

func (pr *PullRequest) NextOffset() int64 {
	pr.nextOffsetMu.Lock()
	defer pr.nextOffsetMu.Unlock()
	return pr.nextOffset
}

func (pr *PullRequest) SetNextOffset(offset int64) {
	pr.nextOffsetMu.Lock()
	pr.nextOffset = offset
	pr.nextOffsetMu.Unlock()
}

// MarkDropped marks both the request and its ProcessQueue dropped. It does
// not clear the ProcessQueue's messages; callers do that once they've
// persisted the final safe commit offset.
func (pr *PullRequest) MarkDropped() {
	pr.droppedMu.Lock()
	pr.dropped = true
	pr.droppedMu.Unlock()
	pr.ProcessQueue.MarkDropped()
}

func (pr *PullRequest) IsDropped() bool {
	pr.droppedMu.RLock()
	defer pr.droppedMu.RUnlock()
	return pr.dropped
}

// TryLockCritical attempts to acquire the per-queue critical section within
// timeout, used by orderly consumption so at most one worker
// ever holds a given queue's section.
func (pr *PullRequest) TryLockCritical(timeout time.Duration) bool {
	select {
	case <-pr.critical:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (pr *PullRequest) UnlockCritical() {
	select {
	case pr.critical <- struct{}{}:
	default:
	}
}

// SetLocked records that the broker granted (or revoked) ownership of this
// queue for orderly consumption. The server-side grant expires after 60s;
// PushConsumer's lock loop re-locks every 20s.
func (pr *PullRequest) SetLocked(locked bool) {
	pr.ProcessQueue.SetLocked(locked)
	if locked {
		pr.lockExpireMu.Lock()
		pr.lockExpireAt = time.Now().Add(60 * time.Second)
		pr.lockExpireMu.Unlock()
	}
}

func (pr *PullRequest) Locked() bool { return pr.ProcessQueue.IsLocked() }

func (pr *PullRequest) LockExpired() bool {
	pr.lockExpireMu.Lock()
	defer pr.lockExpireMu.Unlock()
	return time.Now().After(pr.lockExpireAt)
}

func (pr *PullRequest) SetLastConsumeTimestamp(t time.Time) {
	pr.lockExpireMu.Lock()
	pr.lastConsumeTimestamp = t
	pr.lockExpireMu.Unlock()
}

// ReconsumeTimes returns how many times the message at offset has been
// redelivered to the orderly listener without success.
func (pr *PullRequest) ReconsumeTimes(offset int64) int32 {
	pr.reconsumeMu.Lock()
	defer pr.reconsumeMu.Unlock()
	return pr.reconsumeTimes[offset]
}

// IncReconsumeTimes bumps and returns the new reconsume count for offset.
func (pr *PullRequest) IncReconsumeTimes(offset int64) int32 {
	pr.reconsumeMu.Lock()
	defer pr.reconsumeMu.Unlock()
	pr.reconsumeTimes[offset]++
	return pr.reconsumeTimes[offset]
}

// ForgetReconsumeTimes drops the reconsume counter for offset once it has
// been committed or sent to the DLQ.
func (pr *PullRequest) ForgetReconsumeTimes(offset int64) {
	pr.reconsumeMu.Lock()
	delete(pr.reconsumeTimes, offset)
	pr.reconsumeMu.Unlock()
}
