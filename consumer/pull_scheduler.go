package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/rlog"
)

// SchedulerConfig holds the thresholds governing admission control and RPC
// timing.
type SchedulerConfig struct {
	PullThresholdForQueue     int64 // msgCount
	PullThresholdSizeForQueue int64 // bytes
	ConsumeConcurrentlyMaxSpan int64 // orderly only
	SuspendTimeoutMillis      int64
	TimeoutMillis             int64
	PullBatchSize             int32
	PullPoolSize              int
}

// DefaultSchedulerConfig returns the standard flow-control defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PullThresholdForQueue:      1000,
		PullThresholdSizeForQueue:  100 * 1024 * 1024,
		ConsumeConcurrentlyMaxSpan: 2000,
		SuspendTimeoutMillis:       15000,
		TimeoutMillis:              30000,
		PullBatchSize:              32,
		PullPoolSize:               4,
	}
}

// ConsumeDispatcher is how the PullScheduler hands a freshly-pulled batch
// off to a ConsumeService, without the scheduler needing to know whether
// the consumption is concurrent or orderly.
type ConsumeDispatcher interface {
	Submit(pr *PullRequest, msgs []*primitive.MessageExt)
}

// PullScheduler drives every outstanding, non-dropped PullRequest, ensuring
// exactly one pull RPC is in flight per queue at a time. The
// bounded-concurrency pull pool is github.com/sourcegraph/conc/pool instead
// of a hand-rolled semaphore, with a default of 4 worker slots.
type PullScheduler struct {
	cfg         SchedulerConfig
	client      MQClient
	consumeType ConsumeType
	offsetStore OffsetStore
	dispatcher  ConsumeDispatcher
	log         rlog.Logger

	mu     sync.Mutex
	pool   *pool.Pool
	ctx    context.Context
	cancel context.CancelFunc

	subFn func(topic string) (primitive.SubscriptionData, bool)

	// onLockNeeded is invoked (orderly only) when admission control wants a
	// lock attempt for a queue that isn't currently locked.
	onLockNeeded func(pr *PullRequest)
}

// NewPullScheduler constructs a scheduler. subFn resolves a topic's current
// SubscriptionData (the subscription can change across a resubscribe, so
// the scheduler always asks for the current one rather than caching it).
func NewPullScheduler(cfg SchedulerConfig, client MQClient, consumeType ConsumeType, offsetStore OffsetStore, dispatcher ConsumeDispatcher, subFn func(string) (primitive.SubscriptionData, bool), log rlog.Logger) *PullScheduler {
	if log == nil {
		log = rlog.Nop()
	}
	if cfg.PullPoolSize <= 0 {
		cfg.PullPoolSize = 4
	}
	return &PullScheduler{
		cfg:         cfg,
		client:      client,
		consumeType: consumeType,
		offsetStore: offsetStore,
		dispatcher:  dispatcher,
		subFn:       subFn,
		log:         log,
	}
}

func (ps *PullScheduler) SetLockNeededCallback(fn func(pr *PullRequest)) {
	ps.mu.Lock()
	ps.onLockNeeded = fn
	ps.mu.Unlock()
}

// Start prepares the scheduler's pull pool. Call AddPullRequest afterward to
// begin pulling for specific queues.
func (ps *PullScheduler) Start(ctx context.Context) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.ctx, ps.cancel = context.WithCancel(ctx)
	ps.pool = pool.New().WithMaxGoroutines(ps.cfg.PullPoolSize)
}

// Stop cancels outstanding scheduling and waits for in-flight pulls to
// finish: in-flight operations complete, their results discarded if the
// owning queue has since been dropped.
func (ps *PullScheduler) Stop() {
	ps.mu.Lock()
	cancel := ps.cancel
	p := ps.pool
	ps.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if p != nil {
		p.Wait()
	}
}

// AddPullRequest begins driving pr: it becomes eligible for pull
// immediately: a freshly-rebalanced PullRequest goes straight to the
// scheduler.
func (ps *PullScheduler) AddPullRequest(pr *PullRequest) {
	ps.scheduleNext(pr, 0)
}

func (ps *PullScheduler) scheduleNext(pr *PullRequest, delay time.Duration) {
	if pr.IsDropped() {
		return
	}
	ps.mu.Lock()
	p := ps.pool
	ctx := ps.ctx
	ps.mu.Unlock()
	if p == nil {
		return
	}

	submit := func() {
		if ctx.Err() != nil || pr.IsDropped() {
			return
		}
		p.Go(func() { ps.pullOnce(ctx, pr) })
	}

	if delay <= 0 {
		submit()
		return
	}
	time.AfterFunc(delay, submit)
}

// pullOnce runs admission control, issues at most one pull RPC for pr, and
// reschedules based on the broker's response.
func (ps *PullScheduler) pullOnce(ctx context.Context, pr *PullRequest) {
	if pr.IsDropped() {
		return
	}

	if defer_, wait := ps.admissionControl(pr); defer_ {
		ps.scheduleNext(pr, wait)
		return
	}

	sub, ok := ps.subFn(pr.MessageQueue.Topic)
	if !ok {
		ps.log.Log(rlog.LevelWarn, "pull: no subscription for topic, dropping pull", "topic", pr.MessageQueue.Topic)
		ps.scheduleNext(pr, 3*time.Second)
		return
	}

	commitOffset := pr.ProcessQueue.SafeCommitOffset()
	sysFlag := SysFlagSubscription
	if ps.consumeType != ConsumeOrderly || commitOffset >= 0 {
		sysFlag |= SysFlagCommitOffset
	}
	sysFlag |= SysFlagSuspend

	req := PullMessageRequest{
		ConsumerGroup:  pr.ConsumerGroup,
		Topic:          pr.MessageQueue.Topic,
		QueueId:        pr.MessageQueue.QueueId,
		BrokerName:     pr.MessageQueue.BrokerName,
		QueueOffset:    pr.NextOffset(),
		MaxMsgNums:     ps.cfg.PullBatchSize,
		Subscription:   sub,
		CommitOffset:   commitOffset,
		SuspendTimeout: ps.cfg.SuspendTimeoutMillis,
		Timeout:        ps.cfg.TimeoutMillis,
		SysFlag:        sysFlag,
	}

	pullCtx, cancel := context.WithTimeout(ctx, time.Duration(ps.cfg.TimeoutMillis)*time.Millisecond)
	result, err := ps.client.PullMessage(pullCtx, req)
	cancel()

	if pr.IsDropped() {
		return // result discarded: the queue was revoked while the pull was in flight
	}

	if err != nil {
		ps.log.Log(rlog.LevelWarn, "pull rpc failed", "mq", pr.MessageQueue.String(), "err", err)
		ps.scheduleNext(pr, 3*time.Second)
		return
	}

	switch result.Status {
	case PullFound:
		filtered := ps.filterByTag(sub, result.Messages)
		pr.ProcessQueue.PutMessages(filtered)
		pr.SetNextOffset(result.NextBeginOffset)
		if len(filtered) > 0 {
			ps.dispatcher.Submit(pr, filtered)
		}
		ps.scheduleNext(pr, 0)

	case PullNoNewMsg, PullNoMatchedMsg:
		pr.SetNextOffset(result.NextBeginOffset)
		if ps.offsetStore != nil {
			ps.offsetStore.UpdateOffset(pr.MessageQueue, result.NextBeginOffset)
		}
		ps.scheduleNext(pr, 0)

	case PullOffsetIllegal:
		pr.ProcessQueue.ClearAllMsgs() // clear stale messages before persisting the broker's corrected offset
		pr.SetNextOffset(result.NextBeginOffset)
		if ps.offsetStore != nil {
			ps.offsetStore.UpdateOffset(pr.MessageQueue, result.NextBeginOffset)
			ps.offsetStore.Persist(pr.MessageQueue)
		}
		ps.scheduleNext(pr, 10*time.Second)

	default: // PullBrokerTimeout and anything unrecognized
		ps.scheduleNext(pr, 3*time.Second)
	}
}

// admissionControl applies the flow-control thresholds, returning
// (shouldDefer, deferDuration).
func (ps *PullScheduler) admissionControl(pr *PullRequest) (bool, time.Duration) {
	pq := pr.ProcessQueue
	if pq.GetCachedMsgCount() > int(ps.cfg.PullThresholdForQueue) {
		return true, 50 * time.Millisecond
	}
	if pq.GetCachedMsgSize() > ps.cfg.PullThresholdSizeForQueue {
		return true, 50 * time.Millisecond
	}
	if ps.consumeType == ConsumeOrderly {
		if pq.GetMaxSpan() > ps.cfg.ConsumeConcurrentlyMaxSpan {
			return true, 50 * time.Millisecond
		}
		if !pq.IsLocked() {
			ps.mu.Lock()
			onLockNeeded := ps.onLockNeeded
			ps.mu.Unlock()
			if onLockNeeded != nil {
				onLockNeeded(pr)
			}
			return true, 3 * time.Second
		}
	}
	return false, 0
}

// filterByTag re-checks every message's tag against sub: the broker's
// code-set filter is best-effort, the client re-checks. A
// non-matching message is still counted toward the window (it gets
// PutMessages'd so RemoveMessage's commit-offset math includes it); callers
// consuming it get ConsumeSuccess trivially because it's never handed to the
// listener -- see consumeBatch in both consume services.
func (ps *PullScheduler) filterByTag(sub primitive.SubscriptionData, msgs []*primitive.MessageExt) []*primitive.MessageExt {
	if sub.MatchesAll() {
		return msgs
	}
	out := make([]*primitive.MessageExt, 0, len(msgs))
	for _, m := range msgs {
		if sub.Match(m.Tags) {
			out = append(out, m)
		} else {
			m.SetProperty(tagFilteredProperty, "1")
			out = append(out, m) // kept in the window so commit-offset math stays correct; dropped in the consume service
		}
	}
	return out
}

const tagFilteredProperty = "__tag_filtered"
