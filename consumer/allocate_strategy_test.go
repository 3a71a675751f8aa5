package consumer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/rocketmq-go/consumer"
	"github.com/twmb/rocketmq-go/primitive"
)

func makeQueues(n int) []primitive.MessageQueue {
	out := make([]primitive.MessageQueue, n)
	for i := range out {
		out[i] = primitive.MessageQueue{Topic: "t", BrokerName: "b", QueueId: int32(i)}
	}
	return out
}

func TestAllocateByAveragely_PartitionsExactlyOnce(t *testing.T) {
	queues := makeQueues(10)
	clients := []string{"c0", "c1", "c2"}
	strategy := consumer.AllocateByAveragely{}

	seen := make(map[primitive.MessageQueue]string)
	for _, c := range clients {
		for _, mq := range strategy.Allocate(c, clients, queues) {
			if owner, ok := seen[mq]; ok {
				t.Fatalf("queue %v assigned to both %s and %s", mq, owner, c)
			}
			seen[mq] = c
		}
	}
	assert.Len(t, seen, len(queues), "every queue must be assigned to exactly one client")
}

func TestAllocateByAveragely_UnknownClientGetsNothing(t *testing.T) {
	strategy := consumer.AllocateByAveragely{}
	out := strategy.Allocate("ghost", []string{"c0", "c1"}, makeQueues(4))
	assert.Nil(t, out)
}

func TestAllocateByAveragely_FewerQueuesThanClients(t *testing.T) {
	queues := makeQueues(2)
	clients := []string{"c0", "c1", "c2"}
	strategy := consumer.AllocateByAveragely{}

	total := 0
	for _, c := range clients {
		total += len(strategy.Allocate(c, clients, queues))
	}
	assert.Equal(t, len(queues), total, "no queue should be dropped or duplicated when clients outnumber queues")
}

func TestAllocateByAveragelyCircle_PartitionsExactlyOnce(t *testing.T) {
	queues := makeQueues(11)
	clients := []string{"c0", "c1", "c2", "c3"}
	strategy := consumer.AllocateByAveragelyCircle{}

	seen := make(map[primitive.MessageQueue]bool)
	for _, c := range clients {
		for _, mq := range strategy.Allocate(c, clients, queues) {
			assert.False(t, seen[mq], "queue %v assigned twice", mq)
			seen[mq] = true
		}
	}
	assert.Len(t, seen, len(queues))
}

func TestAllocateByMachineRoom_FiltersByPrefix(t *testing.T) {
	queues := []primitive.MessageQueue{
		{Topic: "t", BrokerName: "room-a-broker1", QueueId: 0},
		{Topic: "t", BrokerName: "room-a-broker2", QueueId: 0},
		{Topic: "t", BrokerName: "room-b-broker1", QueueId: 0},
	}
	clients := []string{"c0"}
	strategy := consumer.AllocateByMachineRoom{MachineRoomPrefixes: []string{"room-a"}}

	out := strategy.Allocate("c0", clients, queues)
	assert.Len(t, out, 2)
	for _, mq := range out {
		assert.Equal(t, "room-a", mq.BrokerName[:len("room-a")])
	}
}

func TestAllocateByMachineRoom_NoPrefixesFallsBackToAveragely(t *testing.T) {
	queues := makeQueues(4)
	clients := []string{"c0", "c1"}
	strategy := consumer.AllocateByMachineRoom{}
	want := consumer.AllocateByAveragely{}.Allocate("c0", clients, queues)
	got := strategy.Allocate("c0", clients, queues)
	assert.Equal(t, want, got)
}
