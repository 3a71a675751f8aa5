package consumer

// MessageModel selects how a consumer group shares a topic's queues.
type MessageModel int8

const (
	// Clustering: each message is delivered to exactly one consumer in the
	// group; queues are partitioned across the group's live members.
	Clustering MessageModel = iota
	// Broadcasting: every consumer in the group sees every message; there
	// is no partitioning and send-back-on-failure is not possible: there is
	// no other group member to redeliver to.
	Broadcasting
)

// ConsumeType is a closed tag set standing in for a class hierarchy over
// consumption strategy.
type ConsumeType int8

const (
	ConsumeConcurrently ConsumeType = iota
	ConsumeOrderly
)

// ConsumeResult is the verdict a user listener returns for a batch.
type ConsumeResult int8

const (
	ConsumeSuccess ConsumeResult = iota
	ReconsumeLater
	// SuspendCurrentQueueAMoment is returned by an orderly listener to push
	// the current batch back and retry shortly.
	SuspendCurrentQueueAMoment
)

// ListenerConcurrently is the user callback for concurrent consumption: it
// receives a batch and returns one verdict for the whole batch.
type ListenerConcurrently func(msgs []*MessageView) ConsumeResult

// ListenerOrderly is the user callback for orderly consumption.
type ListenerOrderly func(msgs []*MessageView) ConsumeResult

// MessageView is what user callbacks see: a read-only projection of a
// MessageExt plus the queue it arrived on, kept separate from
// primitive.MessageExt so internal bookkeeping fields never leak into user
// code.
type MessageView struct {
	MsgId          string
	Topic          string
	Tags           string
	Keys           []string
	Body           []byte
	Properties     map[string]string
	QueueId        int32
	QueueOffset    int64
	BrokerName     string
	BornTimestamp  int64
	ReconsumeTimes int32
}
