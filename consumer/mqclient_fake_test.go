package consumer_test

import (
	"context"
	"sync"

	"github.com/twmb/rocketmq-go/consumer"
	"github.com/twmb/rocketmq-go/primitive"
)

// fakeMQClient is a minimal in-process stand-in for consumer.MQClient,
// recording calls the tests assert against instead of talking to a broker.
type fakeMQClient struct {
	mu sync.Mutex

	sentBack   []sentBackCall
	lockResult []primitive.MessageQueue
	offsets    map[primitive.MessageQueue]int64

	queues      []primitive.MessageQueue
	consumerIDs []string
	pullFrom    int64
}

type sentBackCall struct {
	group      string
	msgOffset  int64
	delayLevel int32
}

func newFakeMQClient() *fakeMQClient {
	return &fakeMQClient{offsets: make(map[primitive.MessageQueue]int64)}
}

func (f *fakeMQClient) FetchSubscribeMessageQueues(ctx context.Context, topic string) ([]primitive.MessageQueue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queues, nil
}

func (f *fakeMQClient) FindConsumerIDList(ctx context.Context, topic, group string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumerIDs, nil
}

func (f *fakeMQClient) ComputePullFromWhere(ctx context.Context, mq primitive.MessageQueue, where consumer.ConsumeFromWhere, fromTimestamp int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pullFrom, nil
}

func (f *fakeMQClient) PullMessage(ctx context.Context, req consumer.PullMessageRequest) (*consumer.PullResult, error) {
	return &consumer.PullResult{Status: consumer.PullNoNewMsg}, nil
}

func (f *fakeMQClient) SendMessageBack(ctx context.Context, group string, msg *primitive.MessageExt, delayLevel int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentBack = append(f.sentBack, sentBackCall{group: group, msgOffset: msg.QueueOffset, delayLevel: delayLevel})
	return nil
}

func (f *fakeMQClient) LockBatchMQ(ctx context.Context, group, clientID string, mqs []primitive.MessageQueue) ([]primitive.MessageQueue, error) {
	return f.lockResult, nil
}

func (f *fakeMQClient) UnlockBatchMQ(ctx context.Context, group, clientID string, mqs []primitive.MessageQueue) {
}

func (f *fakeMQClient) QueryConsumerOffset(ctx context.Context, group string, mq primitive.MessageQueue) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset, ok := f.offsets[mq]; ok {
		return offset, nil
	}
	return consumer.OffsetNotFound, nil
}

func (f *fakeMQClient) UpdateConsumerOffset(ctx context.Context, group string, mq primitive.MessageQueue, offset int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsets[mq] = offset
}

func (f *fakeMQClient) RegisterConsumer(group string, model consumer.MessageModel, consumeType consumer.ConsumeType, subscriptions func() []primitive.SubscriptionData) {
}

func (f *fakeMQClient) UnregisterConsumer(group string) {}

// fakeOffsetStore is a minimal in-memory OffsetStore for tests that don't
// care about durability, only about what got written.
type fakeOffsetStore struct {
	mu       sync.Mutex
	table    map[primitive.MessageQueue]int64
	persists int
}

func newFakeOffsetStore() *fakeOffsetStore {
	return &fakeOffsetStore{table: make(map[primitive.MessageQueue]int64)}
}

func (s *fakeOffsetStore) Load() error { return nil }

func (s *fakeOffsetStore) UpdateOffset(mq primitive.MessageQueue, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table[mq] = offset
}

func (s *fakeOffsetStore) ReadOffset(mq primitive.MessageQueue, mode consumer.ReadOffsetMode) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset, ok := s.table[mq]; ok {
		return offset
	}
	return consumer.OffsetNotFound
}

func (s *fakeOffsetStore) Persist(mq primitive.MessageQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persists++
}

func (s *fakeOffsetStore) PersistAll(mqs []primitive.MessageQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persists++
}

func (s *fakeOffsetStore) RemoveOffset(mq primitive.MessageQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.table, mq)
}
