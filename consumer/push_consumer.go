package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/rerr"
	"github.com/twmb/rocketmq-go/rlog"
)

type pushState int32

const (
	pushCreated pushState = iota
	pushRunning
	pushStopped
)

// PushConsumer is the callback-driven consumer surface: subscribe to
// topics, register a listener, call Start, and messages arrive on the
// listener's goroutine pool until Shutdown. It owns one Rebalance, one
// PullScheduler, and one ConsumeDispatcher (concurrent or orderly,
// decided once at construction by whether WithOrderly was passed).
type PushConsumer struct {
	group    string
	clientID string
	client   MQClient
	opts     options
	log      rlog.Logger

	mu    sync.Mutex
	state pushState

	rebalance   *Rebalance
	scheduler   *PullScheduler
	dispatcher  ConsumeDispatcher
	offsetStore OffsetStore

	listenerConcurrently ListenerConcurrently
	listenerOrderly      ListenerOrderly

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPushConsumer constructs a PushConsumer for group, reaching the broker
// world through client (an already-constructed, not-yet-started
// internal/client.ClientFactory, or any other MQClient implementation).
// clientID identifies this process to the broker (locks, heartbeats).
func NewPushConsumer(group, clientID string, client MQClient, opts ...Option) *PushConsumer {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.Log == nil {
		o.Log = rlog.Nop()
	}
	return &PushConsumer{
		group:    group,
		clientID: clientID,
		client:   client,
		opts:     o,
		log:      o.Log,
		stopCh:   make(chan struct{}),
	}
}

// RegisterMessageListener sets the concurrent-mode callback. Calling this
// after Start has no effect.
func (c *PushConsumer) RegisterMessageListener(fn ListenerConcurrently) {
	c.listenerConcurrently = fn
}

// RegisterOrderlyListener sets the orderly-mode callback; combine with
// WithOrderly() at construction.
func (c *PushConsumer) RegisterOrderlyListener(fn ListenerOrderly) {
	c.listenerOrderly = fn
}

// Subscribe registers topic with a tag expression ("*" or "TAG_A || TAG_B").
// Rebalance reads the subscription table on every pass, so a topic
// subscribed after Start is picked up on the next pass.
func (c *PushConsumer) Subscribe(topic, tagExpr string) error {
	// the first Subscribe constructs the rebalance (Start reuses it), so
	// Subscribe can be called any number of times before Start.
	c.ensureRebalance()
	return c.rebalance.Subscribe(topic, tagExpr)
}

func (c *PushConsumer) ensureRebalance() {
	if c.rebalance != nil {
		return
	}
	if c.offsetStore == nil {
		c.offsetStore = c.newOffsetStore()
	}
	c.rebalance = NewRebalance(c.group, c.clientID, c.opts.Model, c.opts.ConsumeType, c.client, c.offsetStore, c.log)
	c.rebalance.Strategy = c.opts.Strategy
	c.rebalance.FromWhere = c.opts.FromWhere
	c.rebalance.FromTimestamp = c.opts.FromTimestamp
}

func (c *PushConsumer) newOffsetStore() OffsetStore {
	if c.opts.UseRemoteOffsetStore || c.opts.Model == Broadcasting {
		return NewRemoteBrokerOffsetStore(c.group, c.client, c.log)
	}
	return NewLocalFileOffsetStore(c.clientID, c.group, c.log)
}

// Start subscribes this consumer's listener into the pull/consume pipeline
// and begins the rebalance/lock/persist timer loops. Subscribe and
// RegisterMessageListener/RegisterOrderlyListener must be called first.
func (c *PushConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != pushCreated {
		return nil
	}
	if err := primitive.ValidateGroup(c.group); err != nil {
		return err
	}
	c.ensureRebalance()

	if c.opts.ConsumeType == ConsumeOrderly {
		if c.listenerOrderly == nil {
			return rerr.Client("push consumer: WithOrderly set but no orderly listener registered")
		}
		c.dispatcher = NewOrderlyConsumeService(c.group, c.client, c.offsetStore, c.listenerOrderly, c.opts.Orderly, c.log)
	} else {
		if c.listenerConcurrently == nil {
			return rerr.Client("push consumer: no concurrent listener registered")
		}
		c.dispatcher = NewConcurrentConsumeService(c.group, c.client, c.offsetStore, c.opts.Model, c.listenerConcurrently, c.opts.Concurrent, c.log)
	}

	if err := c.offsetStore.Load(); err != nil {
		return err
	}

	c.scheduler = NewPullScheduler(c.opts.Scheduler, c.client, c.opts.ConsumeType, c.offsetStore, c.dispatcher, c.rebalance.Subscription, c.log)
	if c.opts.ConsumeType == ConsumeOrderly {
		c.scheduler.SetLockNeededCallback(func(pr *PullRequest) {
			granted, err := c.client.LockBatchMQ(context.Background(), c.group, c.clientID, []primitive.MessageQueue{pr.MessageQueue})
			if err != nil {
				c.log.Log(rlog.LevelWarn, "on-demand lock failed", "mq", pr.MessageQueue.String(), "err", err)
				return
			}
			pr.SetLocked(len(granted) == 1)
		})
	}
	c.scheduler.Start(ctx)

	c.rebalance.SetCallbacks(
		func(topic string, pr *PullRequest) { c.scheduler.AddPullRequest(pr) },
		func(topic string, pr *PullRequest) {},
	)

	c.rebalance.DoRebalance(ctx)

	c.client.RegisterConsumer(c.group, c.opts.Model, c.opts.ConsumeType, c.rebalance.AllSubscriptions)

	c.state = pushRunning
	c.wg.Add(1)
	go c.rebalanceLoop(ctx)
	if c.opts.ConsumeType == ConsumeOrderly {
		c.wg.Add(1)
		go c.lockLoop(ctx)
	}
	c.wg.Add(1)
	go c.persistLoop(ctx)
	return nil
}

func (c *PushConsumer) rebalanceLoop(ctx context.Context) {
	defer c.wg.Done()
	t := time.NewTicker(20 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.rebalance.DoRebalance(ctx)
		case <-c.stopCh:
			return
		}
	}
}

func (c *PushConsumer) lockLoop(ctx context.Context) {
	defer c.wg.Done()
	t := time.NewTicker(20 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.rebalance.LockAll(ctx)
		case <-c.stopCh:
			return
		}
	}
}

func (c *PushConsumer) persistLoop(ctx context.Context) {
	defer c.wg.Done()
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.persistAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *PushConsumer) persistAll() {
	assigned := c.rebalance.AssignedQueues()
	mqs := make([]primitive.MessageQueue, len(assigned))
	for i, pr := range assigned {
		mqs[i] = pr.MessageQueue
	}
	c.offsetStore.PersistAll(mqs)
}

// Shutdown stops every timer loop, the pull scheduler, and (orderly mode
// only) releases this client's broker locks before returning.
func (c *PushConsumer) Shutdown(ctx context.Context) {
	c.mu.Lock()
	if c.state != pushRunning {
		c.mu.Unlock()
		return
	}
	c.state = pushStopped
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
	c.scheduler.Stop()
	c.persistAll()
	c.client.UnregisterConsumer(c.group)

	if svc, ok := c.dispatcher.(*orderlyConsumeService); ok {
		svc.Shutdown(ctx, c.clientID, c.rebalance.AssignedQueues())
	}
}

// RunningInfo returns a diagnostic snapshot of this consumer's current
// assignment and per-queue backlog, the programmatic equivalent of the
// broker's CONSUMER_RUNNING_INFO admin query.
func (c *PushConsumer) RunningInfo() ConsumerRunningInfo {
	c.mu.Lock()
	rebalance := c.rebalance
	ct := c.opts.ConsumeType
	model := c.opts.Model
	c.mu.Unlock()

	info := ConsumerRunningInfo{
		Group:       c.group,
		ClientID:    c.clientID,
		ConsumeType: ct,
		Model:       model,
	}
	if rebalance == nil {
		return info
	}
	for _, pr := range rebalance.AssignedQueues() {
		info.Queues = append(info.Queues, QueueRunningInfo{
			MessageQueue:    pr.MessageQueue,
			NextOffset:      pr.NextOffset(),
			CachedMsgCount:  pr.ProcessQueue.GetCachedMsgCount(),
			CachedMsgSize:   pr.ProcessQueue.GetCachedMsgSize(),
			Locked:          pr.Locked(),
			LastConsumeTime: pr.ProcessQueue.LastConsumeTime(),
		})
	}
	return info
}
