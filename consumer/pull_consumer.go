package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/twmb/rocketmq-go/primitive"
)

// PullConsumer is the low-level, caller-driven consumer surface: the
// caller fetches a topic's queues, tracks its own per-queue offset, and
// calls Pull explicitly whenever it wants more messages. No pull
// scheduler, no consume pool, no rebalance loop -- just FetchMessageQueues
// plus one RPC wrapper, for callers that want full control over pacing.
type PullConsumer struct {
	group    string
	client   MQClient
	cfg      SchedulerConfig
	fromWhere ConsumeFromWhere

	mu  sync.Mutex
	sub map[string]primitive.SubscriptionData
}

// NewPullConsumer constructs a PullConsumer for group, reaching the broker
// world through client.
func NewPullConsumer(group string, client MQClient, opts ...Option) *PullConsumer {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &PullConsumer{
		group:     group,
		client:    client,
		cfg:       o.Scheduler,
		fromWhere: o.FromWhere,
		sub:       make(map[string]primitive.SubscriptionData),
	}
}

// Subscribe records tagExpr for topic; subsequent Pull calls for mq.Topic
// filter against it client-side.
func (c *PullConsumer) Subscribe(topic, tagExpr string) error {
	if err := primitive.ValidateTopic(topic); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sub[topic] = primitive.ParseSubscription(topic, tagExpr, time.Now().UnixNano())
	return nil
}

// FetchMessageQueues returns every live, readable queue for topic.
func (c *PullConsumer) FetchMessageQueues(ctx context.Context, topic string) ([]primitive.MessageQueue, error) {
	return c.client.FetchSubscribeMessageQueues(ctx, topic)
}

// FetchConsumeOffset returns the broker-committed offset for mq in this
// consumer's group, or 0 if none is committed yet -- the caller is
// expected to hold its own offset table between calls, mirroring the
// C++/Java pull-consumer contract where the client never auto-commits.
func (c *PullConsumer) FetchConsumeOffset(ctx context.Context, mq primitive.MessageQueue) (int64, error) {
	offset, err := c.client.QueryConsumerOffset(ctx, c.group, mq)
	if err != nil {
		return 0, err
	}
	if offset < 0 {
		return 0, nil
	}
	return offset, nil
}

// ComputePullFromWhere resolves the initial offset for mq per this
// consumer's ConsumeFromWhere policy, for first-time callers with no
// locally-tracked offset.
func (c *PullConsumer) ComputePullFromWhere(ctx context.Context, mq primitive.MessageQueue) (int64, error) {
	return c.client.ComputePullFromWhere(ctx, mq, c.fromWhere, 0)
}

// Pull issues exactly one pull RPC for mq starting at offset, requesting
// up to maxNums messages. The caller is responsible for advancing its own
// offset tracking from the returned PullResult.NextBeginOffset and for
// calling UpdateConsumeOffset if it wants the broker's committed offset to
// move.
func (c *PullConsumer) Pull(ctx context.Context, mq primitive.MessageQueue, offset int64, maxNums int32) (*PullResult, error) {
	c.mu.Lock()
	sub, ok := c.sub[mq.Topic]
	c.mu.Unlock()
	if !ok {
		sub = primitive.ParseSubscription(mq.Topic, primitive.SubExprAll, time.Now().UnixNano())
	}

	req := PullMessageRequest{
		ConsumerGroup: c.group,
		Topic:         mq.Topic,
		QueueId:       mq.QueueId,
		BrokerName:    mq.BrokerName,
		QueueOffset:   offset,
		MaxMsgNums:    maxNums,
		Subscription:  sub,
		SuspendTimeout: c.cfg.SuspendTimeoutMillis,
		Timeout:        c.cfg.TimeoutMillis,
		SysFlag:        SysFlagSubscription | SysFlagSuspend,
	}
	result, err := c.client.PullMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	if !sub.MatchesAll() {
		filtered := result.Messages[:0]
		for _, m := range result.Messages {
			if sub.Match(m.Tags) {
				filtered = append(filtered, m)
			}
		}
		result.Messages = filtered
	}
	return result, nil
}

// UpdateConsumeOffset persists offset for mq to the broker, one-way.
func (c *PullConsumer) UpdateConsumeOffset(ctx context.Context, mq primitive.MessageQueue, offset int64) {
	c.client.UpdateConsumerOffset(ctx, c.group, mq, offset)
}
