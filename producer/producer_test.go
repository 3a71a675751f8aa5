package producer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/producer"
	"github.com/twmb/rocketmq-go/rerr"
	"github.com/twmb/rocketmq-go/rlog"
)

type fakeClient struct {
	mu      sync.Mutex
	queues  []primitive.MessageQueue
	fail    map[primitive.MessageQueue]bool
	sent    []primitive.MessageQueue
	oneWays []primitive.MessageQueue
}

func (f *fakeClient) FetchPublishMessageQueues(ctx context.Context, topic string) ([]primitive.MessageQueue, error) {
	return f.queues, nil
}

func (f *fakeClient) SendMessage(ctx context.Context, group string, mq primitive.MessageQueue, msg *primitive.Message) (*producer.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, mq)
	if f.fail[mq] {
		return nil, rerr.Transport(nil, "broker unavailable")
	}
	return &producer.SendResult{Status: producer.SendOK, MsgId: "id-1", MessageQueue: mq}, nil
}

func (f *fakeClient) SendMessageOneWay(ctx context.Context, group string, mq primitive.MessageQueue, msg *primitive.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oneWays = append(f.oneWays, mq)
}

func testQueues(n int) []primitive.MessageQueue {
	out := make([]primitive.MessageQueue, n)
	for i := range out {
		out[i] = primitive.MessageQueue{Topic: "t", BrokerName: "b", QueueId: int32(i)}
	}
	return out
}

func TestProducer_Send_Succeeds(t *testing.T) {
	client := &fakeClient{queues: testQueues(3)}
	p := producer.NewProducer("g1", client, producer.DefaultConfig(), rlog.Nop())

	result, err := p.Send(context.Background(), &primitive.Message{Topic: "t", Body: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, producer.SendOK, result.Status)
}

func TestProducer_Send_RetriesAgainstADifferentQueueOnFailure(t *testing.T) {
	queues := testQueues(3)
	client := &fakeClient{queues: queues, fail: map[primitive.MessageQueue]bool{queues[0]: true}}
	p := producer.NewProducer("g1", client, producer.DefaultConfig(), rlog.Nop())

	_, err := p.Send(context.Background(), &primitive.Message{Topic: "t", Body: []byte("hi")})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(client.sent), 2, "a failed attempt should be retried against another queue")
}

func TestProducer_Send_FailsAfterExhaustingRetries(t *testing.T) {
	queues := testQueues(2)
	client := &fakeClient{queues: queues, fail: map[primitive.MessageQueue]bool{queues[0]: true, queues[1]: true}}
	cfg := producer.Config{RetryTimes: 1, SendMsgTimeout: time.Second}
	p := producer.NewProducer("g1", client, cfg, rlog.Nop())

	_, err := p.Send(context.Background(), &primitive.Message{Topic: "t", Body: []byte("hi")})
	assert.Error(t, err)
}

func TestProducer_Send_RejectsInvalidTopic(t *testing.T) {
	client := &fakeClient{queues: testQueues(1)}
	p := producer.NewProducer("g1", client, producer.DefaultConfig(), rlog.Nop())

	_, err := p.Send(context.Background(), &primitive.Message{Topic: "", Body: []byte("hi")})
	assert.Error(t, err)
}

func TestProducer_Send_RejectsInvalidGroup(t *testing.T) {
	client := &fakeClient{queues: testQueues(1)}
	p := producer.NewProducer("bad group", client, producer.DefaultConfig(), rlog.Nop())

	_, err := p.Send(context.Background(), &primitive.Message{Topic: "t", Body: []byte("hi")})
	assert.Error(t, err)
}

func TestProducer_Send_NoWritableQueues(t *testing.T) {
	client := &fakeClient{}
	p := producer.NewProducer("g1", client, producer.DefaultConfig(), rlog.Nop())

	_, err := p.Send(context.Background(), &primitive.Message{Topic: "t", Body: []byte("hi")})
	assert.Error(t, err)
}

func TestProducer_SelectQueue_RoundRobinsAcrossCalls(t *testing.T) {
	queues := testQueues(4)
	client := &fakeClient{queues: queues}
	p := producer.NewProducer("g1", client, producer.DefaultConfig(), rlog.Nop())

	for i := 0; i < 8; i++ {
		_, err := p.Send(context.Background(), &primitive.Message{Topic: "t", Body: []byte("x")})
		require.NoError(t, err)
	}
	seen := make(map[primitive.MessageQueue]int)
	for _, mq := range client.sent {
		seen[mq]++
	}
	assert.Len(t, seen, len(queues), "round robin should spread sends across every known queue")
}

func TestProducer_SendOneWay(t *testing.T) {
	client := &fakeClient{queues: testQueues(2)}
	p := producer.NewProducer("g1", client, producer.DefaultConfig(), rlog.Nop())

	err := p.SendOneWay(context.Background(), &primitive.Message{Topic: "t", Body: []byte("x")})
	require.NoError(t, err)
	assert.Len(t, client.oneWays, 1)
}

func TestProducer_SendAsync(t *testing.T) {
	client := &fakeClient{queues: testQueues(1)}
	p := producer.NewProducer("g1", client, producer.DefaultConfig(), rlog.Nop())

	done := make(chan struct{})
	var result *producer.SendResult
	var sendErr error
	p.SendAsync(context.Background(), &primitive.Message{Topic: "t", Body: []byte("x")}, func(r *producer.SendResult, err error) {
		result, sendErr = r, err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SendAsync callback never fired")
	}
	require.NoError(t, sendErr)
	assert.Equal(t, producer.SendOK, result.Status)
}
