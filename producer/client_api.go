package producer

import (
	"context"

	"github.com/twmb/rocketmq-go/primitive"
)

// MQClient is the narrow handle Producer uses to reach the broker world,
// implemented by internal/client.ClientFactory. It mirrors the
// interface-segregation shape of consumer.MQClient: Producer never imports
// internal/client directly, so the factory remains free to own both a
// Producer and any number of consumers without a cyclic reference.
type MQClient interface {
	// FetchPublishMessageQueues returns every writable queue for topic,
	// refreshing the route cache if it is empty.
	FetchPublishMessageQueues(ctx context.Context, topic string) ([]primitive.MessageQueue, error)

	// SendMessage delivers msg to mq under group and waits for the
	// broker's store acknowledgment.
	SendMessage(ctx context.Context, group string, mq primitive.MessageQueue, msg *primitive.Message) (*SendResult, error)

	// SendMessageOneWay delivers msg to mq under group without waiting for
	// a response.
	SendMessageOneWay(ctx context.Context, group string, mq primitive.MessageQueue, msg *primitive.Message)
}

// SendStatus classifies a broker's SEND_MESSAGE response.
type SendStatus int8

const (
	SendOK SendStatus = iota
	SendFlushDiskTimeout
	SendFlushSlaveTimeout
	SendSlaveNotAvailable
)

// SendResult is the decoded outcome of one SendMessage call.
type SendResult struct {
	Status        SendStatus
	MsgId         string
	MessageQueue  primitive.MessageQueue
	QueueOffset   int64
	TransactionID string
}
