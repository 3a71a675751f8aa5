package consumer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/rocketmq-go/consumer"
	"github.com/twmb/rocketmq-go/primitive"
)

func TestConcurrentConsumeService_SuccessCommitsOffset(t *testing.T) {
	client := newFakeMQClient()
	store := newFakeOffsetStore()

	done := make(chan []*consumer.MessageView, 1)
	listener := func(msgs []*consumer.MessageView) consumer.ConsumeResult {
		done <- msgs
		return consumer.ConsumeSuccess
	}

	svc := consumer.NewConcurrentConsumeService("g1", client, store, consumer.Clustering, listener, consumer.DefaultConcurrentConsumeConfig(), nil)

	mq := primitive.MessageQueue{Topic: "t", BrokerName: "b", QueueId: 0}
	pr := consumer.NewPullRequest("g1", mq, 0)
	msgs := []*primitive.MessageExt{{Message: primitive.Message{Topic: "t", Body: []byte("x")}, QueueOffset: 0}}

	svc.Submit(pr, msgs)

	select {
	case got := <-done:
		require.Len(t, got, 1)
		assert.Equal(t, "x", string(got[0].Body))
	case <-time.After(2 * time.Second):
		t.Fatal("listener was never invoked")
	}

	assert.Eventually(t, func() bool {
		return store.ReadOffset(mq, consumer.ReadFromMemory) == 1
	}, time.Second, 10*time.Millisecond, "successful consumption should advance the committed offset past the consumed message")
}

func TestConcurrentConsumeService_FailureInClusteringSendsBack(t *testing.T) {
	client := newFakeMQClient()
	store := newFakeOffsetStore()

	called := make(chan struct{}, 1)
	listener := func(msgs []*consumer.MessageView) consumer.ConsumeResult {
		called <- struct{}{}
		return consumer.ReconsumeLater
	}

	svc := consumer.NewConcurrentConsumeService("g1", client, store, consumer.Clustering, listener, consumer.DefaultConcurrentConsumeConfig(), nil)

	mq := primitive.MessageQueue{Topic: "t", BrokerName: "b", QueueId: 0}
	pr := consumer.NewPullRequest("g1", mq, 0)
	msgs := []*primitive.MessageExt{{Message: primitive.Message{Topic: "t", Body: []byte("x")}, QueueOffset: 0}}

	svc.Submit(pr, msgs)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("listener was never invoked")
	}

	assert.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.sentBack) == 1
	}, time.Second, 10*time.Millisecond, "a failed message in clustering mode should be sent back to the broker for redelivery")
}

func TestConcurrentConsumeService_FailureInBroadcastingDropsWithoutSendBack(t *testing.T) {
	client := newFakeMQClient()
	store := newFakeOffsetStore()

	called := make(chan struct{}, 1)
	listener := func(msgs []*consumer.MessageView) consumer.ConsumeResult {
		called <- struct{}{}
		return consumer.ReconsumeLater
	}

	svc := consumer.NewConcurrentConsumeService("g1", client, store, consumer.Broadcasting, listener, consumer.DefaultConcurrentConsumeConfig(), nil)

	mq := primitive.MessageQueue{Topic: "t", BrokerName: "b", QueueId: 0}
	pr := consumer.NewPullRequest("g1", mq, 0)
	msgs := []*primitive.MessageExt{{Message: primitive.Message{Topic: "t", Body: []byte("x")}, QueueOffset: 0}}

	svc.Submit(pr, msgs)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("listener was never invoked")
	}

	assert.Eventually(t, func() bool {
		return store.ReadOffset(mq, consumer.ReadFromMemory) == 1
	}, time.Second, 10*time.Millisecond, "broadcasting has no peer to redeliver to, so the message should still be acked")

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Empty(t, client.sentBack, "broadcasting should never send a message back to the broker")
}
