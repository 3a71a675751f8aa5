// Package producer implements a small programmatic send API for
// straightforward producers (the consumer runtime's send-back path goes
// through consumer.MQClient.SendMessageBack, not this package): round-robin
// queue selection per topic, a
// synchronous Send with broker-failure retry across queues, a SendOneWay
// for fire-and-forget delivery, and a callback-based SendAsync.
package producer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/rerr"
	"github.com/twmb/rocketmq-go/rlog"
)

// Config tunes retry and timeout behavior.
type Config struct {
	// RetryTimes is how many times Send retries after a failed attempt, so
	// Send makes at most RetryTimes+1 attempts before giving up.
	RetryTimes int
	// SendMsgTimeout bounds a single SEND_MESSAGE RPC.
	SendMsgTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{RetryTimes: 2, SendMsgTimeout: 3 * time.Second}
}

// Producer sends messages to one or more topics under one producer group.
// It is safe for concurrent use.
type Producer struct {
	group  string
	client MQClient
	cfg    Config
	log    rlog.Logger

	counters atomicCounters
}

// atomicCounters gives every topic its own round-robin cursor; the map
// itself is guarded by mu, but the cursor increment on the hot path is a
// lock-free atomic add once the *int64 is in hand.
type atomicCounters struct {
	mu      sync.Mutex
	byTopic map[string]*int64
}

// NewProducer constructs a Producer for group, reaching the broker world
// through client.
func NewProducer(group string, client MQClient, cfg Config, log rlog.Logger) *Producer {
	if log == nil {
		log = rlog.Nop()
	}
	return &Producer{
		group:  group,
		client: client,
		cfg:    cfg,
		log:    log,
		counters: atomicCounters{byTopic: make(map[string]*int64)},
	}
}

func (p *Producer) nextCounter(topic string) *int64 {
	p.counters.mu.Lock()
	defer p.counters.mu.Unlock()
	if c, ok := p.counters.byTopic[topic]; ok {
		return c
	}
	c := new(int64)
	p.counters.byTopic[topic] = c
	return c
}

// selectQueue picks the next queue for topic in round-robin order among its
// currently known writable queues.
func (p *Producer) selectQueue(ctx context.Context, topic string, skip map[primitive.MessageQueue]bool) (primitive.MessageQueue, error) {
	mqs, err := p.client.FetchPublishMessageQueues(ctx, topic)
	if err != nil {
		return primitive.MessageQueue{}, err
	}
	if len(mqs) == 0 {
		return primitive.MessageQueue{}, rerr.Client("no writable queues for topic %s", topic)
	}
	counter := p.nextCounter(topic)
	for i := 0; i < len(mqs); i++ {
		idx := int(atomic.AddInt64(counter, 1)-1) % len(mqs)
		if idx < 0 {
			idx += len(mqs)
		}
		mq := mqs[idx]
		if !skip[mq] {
			return mq, nil
		}
	}
	return mqs[0], nil
}

// Send delivers msg synchronously, retrying against a different queue (per
// round-robin selection) up to cfg.RetryTimes times on a broker/transport
// error. It does not retry on a successfully stored-but-degraded response
// (SendFlushDiskTimeout etc.) -- those are reported as-is.
func (p *Producer) Send(ctx context.Context, msg *primitive.Message) (*SendResult, error) {
	if err := primitive.ValidateTopic(msg.Topic); err != nil {
		return nil, err
	}
	if err := primitive.ValidateGroup(p.group); err != nil {
		return nil, err
	}
	tried := make(map[primitive.MessageQueue]bool)
	var lastErr error
	for attempt := 0; attempt <= p.cfg.RetryTimes; attempt++ {
		mq, err := p.selectQueue(ctx, msg.Topic, tried)
		if err != nil {
			return nil, err
		}
		tried[mq] = true

		sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendMsgTimeout)
		result, err := p.client.SendMessage(sendCtx, p.group, mq, msg)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		p.log.Log(rlog.LevelWarn, "send attempt failed", "topic", msg.Topic, "mq", mq.String(), "attempt", attempt, "err", err)
	}
	return nil, rerr.Transport(lastErr, "send to topic %s failed after %d attempts", msg.Topic, p.cfg.RetryTimes+1)
}

// SendOneWay delivers msg without waiting for the broker's acknowledgment.
func (p *Producer) SendOneWay(ctx context.Context, msg *primitive.Message) error {
	if err := primitive.ValidateTopic(msg.Topic); err != nil {
		return err
	}
	mq, err := p.selectQueue(ctx, msg.Topic, nil)
	if err != nil {
		return err
	}
	p.client.SendMessageOneWay(ctx, p.group, mq, msg)
	return nil
}

// SendAsync delivers msg and invokes done on a separate goroutine once the
// broker responds or the attempt budget is exhausted.
func (p *Producer) SendAsync(ctx context.Context, msg *primitive.Message, done func(*SendResult, error)) {
	go func() {
		result, err := p.Send(ctx, msg)
		done(result, err)
	}()
}
