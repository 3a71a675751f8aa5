package consumer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/rocketmq-go/consumer"
	"github.com/twmb/rocketmq-go/primitive"
)

func TestRemoteBrokerOffsetStore_ReadFromMemoryMiss(t *testing.T) {
	client := newFakeMQClient()
	store := consumer.NewRemoteBrokerOffsetStore("g1", client, nil)
	mq := primitive.MessageQueue{Topic: "t", BrokerName: "b", QueueId: 0}
	assert.Equal(t, consumer.OffsetNotFound, store.ReadOffset(mq, consumer.ReadFromMemory))
}

func TestRemoteBrokerOffsetStore_ReadFromStoreFetchesAndCaches(t *testing.T) {
	client := newFakeMQClient()
	mq := primitive.MessageQueue{Topic: "t", BrokerName: "b", QueueId: 0}
	client.offsets[mq] = 99

	store := consumer.NewRemoteBrokerOffsetStore("g1", client, nil)
	assert.Equal(t, int64(99), store.ReadOffset(mq, consumer.ReadFromStore))
	// now cached in memory without another broker round trip.
	assert.Equal(t, int64(99), store.ReadOffset(mq, consumer.ReadFromMemory))
}

func TestRemoteBrokerOffsetStore_PersistPushesToBroker(t *testing.T) {
	client := newFakeMQClient()
	mq := primitive.MessageQueue{Topic: "t", BrokerName: "b", QueueId: 0}

	store := consumer.NewRemoteBrokerOffsetStore("g1", client, nil)
	store.UpdateOffset(mq, 5)
	store.Persist(mq)

	assert.Equal(t, int64(5), client.offsets[mq])
}

func TestRemoteBrokerOffsetStore_UpdateOffsetIgnoresNegative(t *testing.T) {
	client := newFakeMQClient()
	mq := primitive.MessageQueue{Topic: "t", BrokerName: "b", QueueId: 0}

	store := consumer.NewRemoteBrokerOffsetStore("g1", client, nil)
	store.UpdateOffset(mq, -1)
	assert.Equal(t, consumer.OffsetNotFound, store.ReadOffset(mq, consumer.ReadFromMemory))
}

func TestRemoteBrokerOffsetStore_PersistWithoutPriorUpdateIsNoOp(t *testing.T) {
	client := newFakeMQClient()
	mq := primitive.MessageQueue{Topic: "t", BrokerName: "b", QueueId: 0}

	store := consumer.NewRemoteBrokerOffsetStore("g1", client, nil)
	store.Persist(mq)

	_, ok := client.offsets[mq]
	assert.False(t, ok, "persisting a queue never locally updated should not call UpdateConsumerOffset")
}
