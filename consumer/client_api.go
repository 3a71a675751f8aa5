package consumer

import (
	"context"

	"github.com/twmb/rocketmq-go/primitive"
)

// MQClient is the narrow, non-owning handle the core consumer
// subsystems use to reach the broker/name-server world. It is implemented
// by internal/client.ClientFactory. Per DESIGN.md, this replaces the
// source's cyclic factory<->consumer<->rebalance references with one-way
// ownership: the factory owns consumers; consumers reach the factory only
// through this interface, resolved once at construction time.
type MQClient interface {
	// FetchSubscribeMessageQueues returns every live, readable queue for
	// topic, refreshing the route cache if it is empty.
	FetchSubscribeMessageQueues(ctx context.Context, topic string) ([]primitive.MessageQueue, error)

	// FindConsumerIDList returns the sorted, live client IDs in group
	// currently subscribed to topic.
	FindConsumerIDList(ctx context.Context, topic, group string) ([]string, error)

	// ComputePullFromWhere resolves the initial offset for a
	// newly-assigned queue per the consumer's ConsumeFromWhere policy.
	ComputePullFromWhere(ctx context.Context, mq primitive.MessageQueue, where ConsumeFromWhere, fromTimestamp int64) (int64, error)

	// PullMessage issues one long-poll pull RPC.
	PullMessage(ctx context.Context, req PullMessageRequest) (*PullResult, error)

	// SendMessageBack returns the message to the broker for clustering-mode
	// retry, at the given delay level (0 lets the broker choose).
	SendMessageBack(ctx context.Context, group string, msg *primitive.MessageExt, delayLevel int32) error

	// LockBatchMQ asks the broker to grant ownership of mqs to clientID for
	// orderly consumption, returning the subset actually granted.
	LockBatchMQ(ctx context.Context, group, clientID string, mqs []primitive.MessageQueue) ([]primitive.MessageQueue, error)

	// UnlockBatchMQ releases ownership of mqs, one-way, no response awaited.
	UnlockBatchMQ(ctx context.Context, group, clientID string, mqs []primitive.MessageQueue)

	// QueryConsumerOffset fetches the committed offset for mq from its
	// master broker. Returns -1 if not found.
	QueryConsumerOffset(ctx context.Context, group string, mq primitive.MessageQueue) (int64, error)

	// UpdateConsumerOffset persists offset for mq to its master broker,
	// one-way.
	UpdateConsumerOffset(ctx context.Context, group string, mq primitive.MessageQueue, offset int64)

	// RegisterConsumer makes group visible to the periodic heartbeat: every
	// broker this client talks to learns this client ID is a live member of
	// group, consuming with consumeType under model, with subscriptions
	// reporting the group's current topic/tag filters at heartbeat time.
	RegisterConsumer(group string, model MessageModel, consumeType ConsumeType, subscriptions func() []primitive.SubscriptionData)

	// UnregisterConsumer drops group from the heartbeat; a subsequent
	// heartbeat tells brokers this client is no longer a member.
	UnregisterConsumer(group string)
}

// ConsumeFromWhere selects the initial offset policy for a queue a consumer
// has never seen before.
type ConsumeFromWhere int8

const (
	ConsumeFromLastOffset ConsumeFromWhere = iota
	ConsumeFromFirstOffset
	ConsumeFromTimestamp
)

// PullMessageRequest carries the fields one pull RPC needs.
type PullMessageRequest struct {
	ConsumerGroup   string
	Topic           string
	QueueId         int32
	QueueOffset     int64
	MaxMsgNums      int32
	Subscription    primitive.SubscriptionData
	CommitOffset    int64
	SuspendTimeout  int64 // millis
	Timeout         int64 // millis
	SysFlag         int32
	BrokerName      string
}

// PullSysFlag bits set on a pull request to tell the broker which optional
// fields are present and how to treat them.
const (
	SysFlagCommitOffset  int32 = 1 << 0
	SysFlagSuspend       int32 = 1 << 1
	SysFlagSubscription  int32 = 1 << 2
	SysFlagClassFilter   int32 = 1 << 3
	SysFlagCompressed    int32 = 1 << 4
)

// PullStatus is the local interpretation of a broker's pull response code,
// this client assigns to a broker's raw pull response code.
type PullStatus int8

const (
	PullFound PullStatus = iota
	PullNoNewMsg
	PullNoMatchedMsg
	PullOffsetIllegal
	PullBrokerTimeout
)

// PullResult is the decoded outcome of one pull RPC.
type PullResult struct {
	Status          PullStatus
	NextBeginOffset int64
	MinOffset       int64
	MaxOffset       int64
	Messages        []*primitive.MessageExt
}
