package consumer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/rlog"
)

// Rebalance computes queue assignment for one consumer and reconciles the
// local requestTable with that assignment. Without callbacks it only
// tracks assignment; PushConsumer sets callbacks so the resulting
// PullRequests drive its PullScheduler.
type Rebalance struct {
	Group        string
	ClientID     string
	Model        MessageModel
	ConsumeType  ConsumeType
	Strategy     AllocateMQStrategy
	FromWhere    ConsumeFromWhere
	FromTimestamp int64

	client MQClient
	log    rlog.Logger

	mu            sync.Mutex
	subscriptions map[string]primitive.SubscriptionData // topic -> subscription
	requestTable  map[primitive.MessageQueue]*PullRequest

	// onAssigned is invoked with (topic, newRequest) whenever rebalance
	// creates a PullRequest; PushConsumer wires this to the PullScheduler.
	// Left nil, rebalance only tracks assignment.
	onAssigned func(topic string, pr *PullRequest)
	// onRevoked is invoked just before a dropped PullRequest is removed
	// from requestTable, after its final offset has been persisted.
	onRevoked func(topic string, pr *PullRequest)

	offsetStore OffsetStore
}

// NewRebalance constructs a Rebalance. offsetStore is used to persist the
// final commit offset of revoked queues.
func NewRebalance(group, clientID string, model MessageModel, consumeType ConsumeType, client MQClient, offsetStore OffsetStore, log rlog.Logger) *Rebalance {
	if log == nil {
		log = rlog.Nop()
	}
	return &Rebalance{
		Group:         group,
		ClientID:      clientID,
		Model:         model,
		ConsumeType:   consumeType,
		Strategy:      AllocateByAveragely{},
		FromWhere:     ConsumeFromLastOffset,
		client:        client,
		log:           log,
		subscriptions: make(map[string]primitive.SubscriptionData),
		requestTable:  make(map[primitive.MessageQueue]*PullRequest),
		offsetStore:   offsetStore,
	}
}

func (r *Rebalance) SetCallbacks(onAssigned, onRevoked func(topic string, pr *PullRequest)) {
	r.mu.Lock()
	r.onAssigned = onAssigned
	r.onRevoked = onRevoked
	r.mu.Unlock()
}

// Subscribe registers topic with the given subscription expression, parsed
// into a SubscriptionData at call time.
func (r *Rebalance) Subscribe(topic, expr string) error {
	if err := primitive.ValidateTopic(topic); err != nil {
		return err
	}
	r.mu.Lock()
	r.subscriptions[topic] = primitive.ParseSubscription(topic, expr, time.Now().UnixNano())
	r.mu.Unlock()
	return nil
}

func (r *Rebalance) Unsubscribe(topic string) {
	r.mu.Lock()
	delete(r.subscriptions, topic)
	r.mu.Unlock()
}

// Topics returns the currently subscribed topic names.
func (r *Rebalance) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subscriptions))
	for t := range r.subscriptions {
		out = append(out, t)
	}
	return out
}

func (r *Rebalance) Subscription(topic string) (primitive.SubscriptionData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sd, ok := r.subscriptions[topic]
	return sd, ok
}

// AllSubscriptions returns every currently subscribed topic's
// SubscriptionData, for the heartbeat's ConsumerData.SubscriptionData field.
func (r *Rebalance) AllSubscriptions() []primitive.SubscriptionData {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]primitive.SubscriptionData, 0, len(r.subscriptions))
	for _, sd := range r.subscriptions {
		out = append(out, sd)
	}
	return out
}

// AssignedQueues returns a snapshot of this consumer's currently owned,
// non-dropped queues, used by the lock-acquisition loop and diagnostics.
func (r *Rebalance) AssignedQueues() []*PullRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PullRequest, 0, len(r.requestTable))
	for _, pr := range r.requestTable {
		if !pr.IsDropped() {
			out = append(out, pr)
		}
	}
	return out
}

// DoRebalance runs one full rebalance pass over every subscribed topic.
// It is safe to call concurrently with itself only in the
// sense that calls serialize on r.mu per topic; callers should not overlap
// calls for the same Rebalance. PushConsumer calls it once from Start and
// afterwards only from its single rebalanceLoop goroutine.
func (r *Rebalance) DoRebalance(ctx context.Context) {
	for _, topic := range r.Topics() {
		r.rebalanceOneTopic(ctx, topic)
	}
}

func (r *Rebalance) rebalanceOneTopic(ctx context.Context, topic string) {
	allQueues, err := r.client.FetchSubscribeMessageQueues(ctx, topic)
	if err != nil {
		r.log.Log(rlog.LevelWarn, "rebalance: fetch queues failed, will retry next tick", "topic", topic, "err", err)
		return
	}
	primitive.SortMessageQueues(allQueues)

	allClients, err := r.client.FindConsumerIDList(ctx, topic, r.Group)
	if err != nil {
		r.log.Log(rlog.LevelWarn, "rebalance: fetch consumer id list failed, will retry next tick", "topic", topic, "err", err)
		return
	}
	sort.Strings(allClients)

	var assigned []primitive.MessageQueue
	if r.Model == Broadcasting {
		assigned = allQueues // broadcasting: every consumer owns every queue
	} else {
		assigned = r.Strategy.Allocate(r.ClientID, allClients, allQueues)
	}

	changed := r.reconcile(ctx, topic, assigned)
	if changed {
		r.messageQueueChanged(topic, allQueues, assigned)
	}
}

// reconcile diffs assigned against r.requestTable for topic, creating
// PullRequests for newly-assigned queues and dropping ones no longer
// assigned. Returns whether the assignment changed.
func (r *Rebalance) reconcile(ctx context.Context, topic string, assigned []primitive.MessageQueue) bool {
	want := make(map[primitive.MessageQueue]struct{}, len(assigned))
	for _, mq := range assigned {
		want[mq] = struct{}{}
	}

	r.mu.Lock()
	var toCreate []primitive.MessageQueue
	var toDrop []*PullRequest
	changed := false

	for mq := range want {
		if mq.Topic != topic {
			continue
		}
		if _, ok := r.requestTable[mq]; !ok {
			toCreate = append(toCreate, mq)
			changed = true
		}
	}
	for mq, pr := range r.requestTable {
		if mq.Topic != topic {
			continue
		}
		if _, ok := want[mq]; !ok {
			toDrop = append(toDrop, pr)
			delete(r.requestTable, mq)
			changed = true
		}
	}
	onAssigned := r.onAssigned
	onRevoked := r.onRevoked
	r.mu.Unlock()

	for _, pr := range toDrop {
		commitOffset := pr.ProcessQueue.SafeCommitOffset()
		pr.MarkDropped()
		if r.ConsumeType == ConsumeOrderly {
			r.client.UnlockBatchMQ(ctx, r.Group, r.ClientID, []primitive.MessageQueue{pr.MessageQueue})
		}
		if r.offsetStore != nil && commitOffset >= 0 {
			r.offsetStore.UpdateOffset(pr.MessageQueue, commitOffset)
			r.offsetStore.Persist(pr.MessageQueue)
		}
		pr.ProcessQueue.ClearAllMsgs()
		if onRevoked != nil {
			onRevoked(topic, pr)
		}
	}

	for _, mq := range toCreate {
		offset, err := r.computePullFromWhere(ctx, mq)
		if err != nil {
			r.log.Log(rlog.LevelWarn, "rebalance: computePullFromWhere failed, falling back to last offset", "mq", mq.String(), "err", err)
			offset, _ = r.client.ComputePullFromWhere(ctx, mq, ConsumeFromLastOffset, 0)
		}
		pr := NewPullRequest(r.Group, mq, offset)

		r.mu.Lock()
		r.requestTable[mq] = pr
		r.mu.Unlock()

		if onAssigned != nil {
			onAssigned(topic, pr)
		}
	}

	return changed
}

func (r *Rebalance) computePullFromWhere(ctx context.Context, mq primitive.MessageQueue) (int64, error) {
	return r.client.ComputePullFromWhere(ctx, mq, r.FromWhere, r.FromTimestamp)
}

// messageQueueChanged is invoked whenever a topic's assignment changes; it
// logs the topic's queue count and this client's share. It keeps no
// snapshot: PushConsumer.RunningInfo reads the live requestTable instead.
func (r *Rebalance) messageQueueChanged(topic string, all, assigned []primitive.MessageQueue) {
	r.log.Log(rlog.LevelInfo, "rebalance result changed", "topic", topic, "all", len(all), "assigned", len(assigned))
}

// LockAll runs the orderly lock-acquisition loop for every currently
// assigned queue. No-op outside
// ConsumeOrderly.
func (r *Rebalance) LockAll(ctx context.Context) {
	if r.ConsumeType != ConsumeOrderly {
		return
	}
	assigned := r.AssignedQueues()
	if len(assigned) == 0 {
		return
	}
	mqs := make([]primitive.MessageQueue, len(assigned))
	byMQ := make(map[primitive.MessageQueue]*PullRequest, len(assigned))
	for i, pr := range assigned {
		mqs[i] = pr.MessageQueue
		byMQ[pr.MessageQueue] = pr
	}

	granted, err := r.client.LockBatchMQ(ctx, r.Group, r.ClientID, mqs)
	if err != nil {
		r.log.Log(rlog.LevelWarn, "lock batch failed, will retry next tick", "err", err)
		return
	}
	grantedSet := make(map[primitive.MessageQueue]struct{}, len(granted))
	for _, mq := range granted {
		grantedSet[mq] = struct{}{}
	}
	for mq, pr := range byMQ {
		_, ok := grantedSet[mq]
		pr.SetLocked(ok)
	}
}
