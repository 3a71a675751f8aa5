package consumer

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/rlog"
)

const defaultMaxReconsumeTimes = 16

// ConcurrentConsumeConfig controls batching and retry behavior for
// concurrentConsumeService.
type ConcurrentConsumeConfig struct {
	ConsumeMessageBatchMaxSize int
	ConsumePoolSize            int
	MaxReconsumeTimes          int32
}

func DefaultConcurrentConsumeConfig() ConcurrentConsumeConfig {
	return ConcurrentConsumeConfig{
		ConsumeMessageBatchMaxSize: 1,
		ConsumePoolSize:            20,
		MaxReconsumeTimes:          defaultMaxReconsumeTimes,
	}
}

// concurrentConsumeService drives ListenerConcurrently over batches handed
// to it by the PullScheduler. Each batch runs on the consume pool, bounded
// by conc/pool the same way the pull pool is bounded, so ordering across
// queues is never implied -- only within a single handed-in batch.
type concurrentConsumeService struct {
	group       string
	client      MQClient
	offsetStore OffsetStore
	model       MessageModel
	listener    ListenerConcurrently
	cfg         ConcurrentConsumeConfig
	log         rlog.Logger

	pool *pool.Pool
}

func NewConcurrentConsumeService(group string, client MQClient, offsetStore OffsetStore, model MessageModel, listener ListenerConcurrently, cfg ConcurrentConsumeConfig, log rlog.Logger) *concurrentConsumeService {
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
	return &concurrentConsumeService{
		group:       group,
		client:      client,
		offsetStore: offsetStore,
		model:       model,
		listener:    listener,
		cfg:         cfg,
		log:         log,
		pool:        pool.New().WithMaxGoroutines(cfg.ConsumePoolSize),
	}
}

// Submit implements ConsumeDispatcher: it chops msgs into batches of at most
// ConsumeMessageBatchMaxSize and hands each to the consume pool.
func (s *concurrentConsumeService) Submit(pr *PullRequest, msgs []*primitive.MessageExt) {
	batchSize := s.cfg.ConsumeMessageBatchMaxSize
	for i := 0; i < len(msgs); i += batchSize {
		end := i + batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		batch := msgs[i:end]
		s.pool.Go(func() { s.consumeBatch(pr, batch) })
	}
}

func (s *concurrentConsumeService) consumeBatch(pr *PullRequest, batch []*primitive.MessageExt) {
	if pr.IsDropped() {
		return
	}

	var toAck, toListener []*primitive.MessageExt
	var views []*MessageView
	for _, m := range batch {
		if m.GetProperty(tagFilteredProperty) != "" {
			toAck = append(toAck, m) // never matched the subscription: ack without invoking the listener
			continue
		}
		if retryTopic := m.GetProperty(primitive.PropertyRetryTopic); retryTopic != "" && m.Topic == primitive.RetryTopic(s.group) {
			m.Topic = retryTopic
		}
		toListener = append(toListener, m)
		views = append(views, toMessageView(m))
	}

	result := ConsumeSuccess
	if len(views) > 0 {
		result = s.listener(views)
	}
	pr.SetLastConsumeTimestamp(time.Now())

	switch result {
	case ConsumeSuccess:
		toAck = append(toAck, toListener...)
	default: // ReconsumeLater and anything else: retry
		s.handleFailure(pr, toListener)
	}

	if len(toAck) == 0 {
		return
	}
	offset := pr.ProcessQueue.RemoveMessage(toAck)
	if offset >= 0 && s.offsetStore != nil {
		s.offsetStore.UpdateOffset(pr.MessageQueue, offset)
		s.offsetStore.Persist(pr.MessageQueue)
	}
}

// handleFailure implements the clustering send-back / broadcasting-drop
// split: broadcasting has no other consumer to retry against, so a failed
// message is acked and dropped; clustering returns it to the broker for
// redelivery, escalating to the dead-letter topic past the reconsume limit.
func (s *concurrentConsumeService) handleFailure(pr *PullRequest, msgs []*primitive.MessageExt) {
	if len(msgs) == 0 {
		return
	}
	if s.model == Broadcasting {
		offset := pr.ProcessQueue.RemoveMessage(msgs)
		if offset >= 0 && s.offsetStore != nil {
			s.offsetStore.UpdateOffset(pr.MessageQueue, offset)
			s.offsetStore.Persist(pr.MessageQueue)
		}
		return
	}

	for _, m := range msgs {
		times := pr.IncReconsumeTimes(m.QueueOffset)
		m.ReconsumeTimes = times
		if times > s.cfg.MaxReconsumeTimes {
			m.SetProperty(primitive.PropertyRealTopic, m.Topic)
			s.sendBack(pr, m, -1) // broker routes to the group's %DLQ% topic at an out-of-range level
			continue
		}
		s.sendBack(pr, m, 0)
	}
}

func (s *concurrentConsumeService) sendBack(pr *PullRequest, m *primitive.MessageExt, delayLevel int32) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	err := s.client.SendMessageBack(ctx, s.group, m, delayLevel)
	cancel()
	if err != nil {
		s.log.Log(rlog.LevelWarn, "send-message-back failed, retrying locally", "mq", pr.MessageQueue.String(), "offset", m.QueueOffset, "err", err)
		time.AfterFunc(5*time.Second, func() {
			if pr.IsDropped() {
				return
			}
			s.sendBack(pr, m, delayLevel)
		})
		return
	}
	offset := pr.ProcessQueue.RemoveMessage([]*primitive.MessageExt{m})
	if offset >= 0 && s.offsetStore != nil {
		s.offsetStore.UpdateOffset(pr.MessageQueue, offset)
		s.offsetStore.Persist(pr.MessageQueue)
	}
	pr.ForgetReconsumeTimes(m.QueueOffset)
}

func toMessageView(m *primitive.MessageExt) *MessageView {
	return &MessageView{
		MsgId:          m.MsgId,
		Topic:          m.Topic,
		Tags:           m.Tags,
		Keys:           m.Keys,
		Body:           m.Body,
		Properties:     m.Properties,
		QueueId:        m.QueueId,
		QueueOffset:    m.QueueOffset,
		BrokerName:     m.BrokerName,
		BornTimestamp:  m.BornTimestamp,
		ReconsumeTimes: m.ReconsumeTimes,
	}
}
