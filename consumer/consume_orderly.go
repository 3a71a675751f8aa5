package consumer

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/rlog"
)

// OrderlyConsumeConfig controls batching and the per-queue processing
// window for orderlyConsumeService.
type OrderlyConsumeConfig struct {
	ConsumeMessageBatchMaxSize int
	ConsumePoolSize            int
	MaxReconsumeTimes          int32
	ProcessWindow              time.Duration // max time one worker holds a queue's critical section before yielding
	SuspendDelay               time.Duration // pause applied on SuspendCurrentQueueAMoment
}

func DefaultOrderlyConsumeConfig() OrderlyConsumeConfig {
	return OrderlyConsumeConfig{
		ConsumeMessageBatchMaxSize: 1,
		ConsumePoolSize:            20,
		MaxReconsumeTimes:          defaultMaxReconsumeTimes,
		ProcessWindow:              60 * time.Second,
		SuspendDelay:               1 * time.Second,
	}
}

// orderlyConsumeService drives ListenerOrderly while guaranteeing at most
// one worker is ever processing a given queue's messages at a time: the
// guarantee comes from PullRequest's critical section, not from the consume
// pool's concurrency bound.
type orderlyConsumeService struct {
	group       string
	client      MQClient
	offsetStore OffsetStore
	listener    ListenerOrderly
	cfg         OrderlyConsumeConfig
	log         rlog.Logger

	pool *pool.Pool
}

func NewOrderlyConsumeService(group string, client MQClient, offsetStore OffsetStore, listener ListenerOrderly, cfg OrderlyConsumeConfig, log rlog.Logger) *orderlyConsumeService {
	if log == nil {
		log = rlog.Nop()
	}
	if cfg.ConsumePoolSize <= 0 {
		cfg.ConsumePoolSize = 20
	}
	if cfg.ConsumeMessageBatchMaxSize <= 0 {
		cfg.ConsumeMessageBatchMaxSize = 1
	}
	if cfg.MaxReconsumeTimes <= 0 {
		cfg.MaxReconsumeTimes = defaultMaxReconsumeTimes
	}
	if cfg.ProcessWindow <= 0 {
		cfg.ProcessWindow = 60 * time.Second
	}
	if cfg.SuspendDelay <= 0 {
		cfg.SuspendDelay = 1 * time.Second
	}
	return &orderlyConsumeService{
		group:       group,
		client:      client,
		offsetStore: offsetStore,
		listener:    listener,
		cfg:         cfg,
		log:         log,
		pool:        pool.New().WithMaxGoroutines(cfg.ConsumePoolSize),
	}
}

// Submit implements ConsumeDispatcher. msgs have already been placed in
// pr.ProcessQueue by the pull scheduler; Submit only signals that there is
// new work for this queue.
func (s *orderlyConsumeService) Submit(pr *PullRequest, msgs []*primitive.MessageExt) {
	s.pool.Go(func() { s.drainQueue(pr) })
}

// drainQueue processes pr's queue for up to ProcessWindow, then
// voluntarily yields the worker goroutine and resubmits itself -- a queue
// with a standing backlog never monopolizes one consume-pool slot forever.
func (s *orderlyConsumeService) drainQueue(pr *PullRequest) {
	if pr.IsDropped() || !pr.Locked() || pr.LockExpired() {
		return
	}
	if !pr.TryLockCritical(time.Second) {
		return // another worker already owns this queue's critical section
	}
	defer pr.UnlockCritical()

	deadline := time.Now().Add(s.cfg.ProcessWindow)
	for time.Now().Before(deadline) {
		if pr.IsDropped() || !pr.Locked() || pr.LockExpired() {
			return
		}
		batch := pr.ProcessQueue.TakeMessages(s.cfg.ConsumeMessageBatchMaxSize)
		if len(batch) == 0 {
			return
		}
		if s.consumeBatch(pr, batch) == SuspendCurrentQueueAMoment {
			time.Sleep(s.cfg.SuspendDelay)
		}
	}

	time.Sleep(10 * time.Millisecond) // voluntary yield before resubmitting
	s.pool.Go(func() { s.drainQueue(pr) })
}

func (s *orderlyConsumeService) consumeBatch(pr *PullRequest, batch []*primitive.MessageExt) ConsumeResult {
	views := make([]*MessageView, 0, len(batch))
	for _, m := range batch {
		if m.GetProperty(tagFilteredProperty) != "" {
			continue // never matched the subscription: committed without invoking the listener
		}
		if retryTopic := m.GetProperty(primitive.PropertyRetryTopic); retryTopic != "" && m.Topic == primitive.RetryTopic(s.group) {
			m.Topic = retryTopic
		}
		views = append(views, toMessageView(m))
	}

	result := ConsumeSuccess
	if len(views) > 0 {
		result = s.listener(views)
	}
	pr.SetLastConsumeTimestamp(time.Now())

	switch result {
	case ConsumeSuccess:
		for _, m := range batch {
			pr.ForgetReconsumeTimes(m.QueueOffset)
		}
		offset := pr.ProcessQueue.Commit()
		if offset >= 0 && s.offsetStore != nil {
			s.offsetStore.UpdateOffset(pr.MessageQueue, offset)
			s.offsetStore.Persist(pr.MessageQueue)
		}

	case SuspendCurrentQueueAMoment:
		pr.ProcessQueue.MakeMessageToConsumeAgain(batch)

	default: // ReconsumeLater
		var keep []*primitive.MessageExt
		for _, m := range batch {
			times := pr.IncReconsumeTimes(m.QueueOffset)
			m.ReconsumeTimes = times
			if times > s.cfg.MaxReconsumeTimes && s.sendToDLQ(pr, m) {
				continue
			}
			keep = append(keep, m)
		}
		if len(keep) > 0 {
			pr.ProcessQueue.MakeMessageToConsumeAgain(keep)
		}
		if len(keep) < len(batch) {
			// keep has already moved back to the main mapping above; what's
			// left in the consuming set is only the DLQ'd subset, so Commit
			// advances the safe offset past them without touching keep.
			offset := pr.ProcessQueue.Commit()
			if offset >= 0 && s.offsetStore != nil {
				s.offsetStore.UpdateOffset(pr.MessageQueue, offset)
				s.offsetStore.Persist(pr.MessageQueue)
			}
		}
	}
	return result
}

// sendToDLQ reports whether the dead-letter send succeeded; on failure the
// caller keeps m in the queue so it is consumed again.
func (s *orderlyConsumeService) sendToDLQ(pr *PullRequest, m *primitive.MessageExt) bool {
	m.SetProperty(primitive.PropertyRealTopic, m.Topic)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	err := s.client.SendMessageBack(ctx, s.group, m, -1)
	cancel()
	if err != nil {
		s.log.Log(rlog.LevelWarn, "orderly dead-letter send failed, will retry on next reconsume", "mq", pr.MessageQueue.String(), "offset", m.QueueOffset, "err", err)
		return false
	}
	pr.ForgetReconsumeTimes(m.QueueOffset)
	return true
}

// Shutdown releases the broker lock on every still-assigned queue,
// matching the clustering-orderly shutdown contract: a consumer leaving the
// group must not hold locks other members could use.
func (s *orderlyConsumeService) Shutdown(ctx context.Context, clientID string, assigned []*PullRequest) {
	mqs := make([]primitive.MessageQueue, 0, len(assigned))
	for _, pr := range assigned {
		mqs = append(mqs, pr.MessageQueue)
	}
	if len(mqs) == 0 {
		return
	}
	s.client.UnlockBatchMQ(ctx, s.group, clientID, mqs)
}
