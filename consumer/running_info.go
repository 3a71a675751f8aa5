package consumer

import (
	"time"

	"github.com/twmb/rocketmq-go/primitive"
)

// ConsumerRunningInfo is a diagnostic snapshot of one consumer's current
// assignment, the programmatic equivalent of the broker's admin-triggered
// CONSUMER_RUNNING_INFO query.
type ConsumerRunningInfo struct {
	Group       string
	ClientID    string
	ConsumeType ConsumeType
	Model       MessageModel
	Queues      []QueueRunningInfo
}

// QueueRunningInfo reports one assigned queue's pull/consume state.
type QueueRunningInfo struct {
	MessageQueue    primitive.MessageQueue
	NextOffset      int64
	CachedMsgCount  int
	CachedMsgSize   int64
	Locked          bool
	LastConsumeTime time.Time
}
