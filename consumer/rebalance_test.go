package consumer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/rocketmq-go/consumer"
	"github.com/twmb/rocketmq-go/primitive"
)

func newRebalance(client *fakeMQClient, store consumer.OffsetStore) *consumer.Rebalance {
	return consumer.NewRebalance("g1", "client-1", consumer.Clustering, consumer.ConsumeConcurrently, client, store, nil)
}

func TestRebalance_Subscribe_RejectsInvalidTopic(t *testing.T) {
	r := newRebalance(newFakeMQClient(), newFakeOffsetStore())
	assert.Error(t, r.Subscribe("", "*"))
	assert.Empty(t, r.Topics())
}

func TestRebalance_DoRebalance_AssignsQueuesForSoleConsumer(t *testing.T) {
	client := newFakeMQClient()
	client.queues = []primitive.MessageQueue{
		{Topic: "t", BrokerName: "b", QueueId: 0},
		{Topic: "t", BrokerName: "b", QueueId: 1},
	}
	client.consumerIDs = []string{"client-1"}

	r := newRebalance(client, newFakeOffsetStore())
	require.NoError(t, r.Subscribe("t", "*"))

	var assignedCalls int
	r.SetCallbacks(func(topic string, pr *consumer.PullRequest) { assignedCalls++ }, nil)

	r.DoRebalance(context.Background())

	assert.Len(t, r.AssignedQueues(), 2)
	assert.Equal(t, 2, assignedCalls)
}

func TestRebalance_DoRebalance_RevokesQueuesNoLongerAssigned(t *testing.T) {
	client := newFakeMQClient()
	client.queues = []primitive.MessageQueue{
		{Topic: "t", BrokerName: "b", QueueId: 0},
		{Topic: "t", BrokerName: "b", QueueId: 1},
	}
	client.consumerIDs = []string{"client-1"}

	r := newRebalance(client, newFakeOffsetStore())
	require.NoError(t, r.Subscribe("t", "*"))
	r.DoRebalance(context.Background())
	require.Len(t, r.AssignedQueues(), 2)

	var revoked []string
	r.SetCallbacks(func(topic string, pr *consumer.PullRequest) {}, func(topic string, pr *consumer.PullRequest) {
		revoked = append(revoked, pr.MessageQueue.String())
	})

	// a second client joins, halving this client's share.
	client.consumerIDs = []string{"client-0", "client-1"}
	r.DoRebalance(context.Background())

	assert.Len(t, r.AssignedQueues(), 1)
	assert.Len(t, revoked, 1)
}

func TestRebalance_AllSubscriptions(t *testing.T) {
	r := newRebalance(newFakeMQClient(), newFakeOffsetStore())
	require.NoError(t, r.Subscribe("t1", "*"))
	require.NoError(t, r.Subscribe("t2", "TAG_A"))

	subs := r.AllSubscriptions()
	assert.Len(t, subs, 2)
}

func TestRebalance_LockAll_NoOpOutsideOrderly(t *testing.T) {
	client := newFakeMQClient()
	r := newRebalance(client, newFakeOffsetStore())
	r.LockAll(context.Background()) // must not panic or call LockBatchMQ
	client.mu.Lock()
	defer client.mu.Unlock()
}
