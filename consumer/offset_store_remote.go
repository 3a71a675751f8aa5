package consumer

import (
	"context"
	"sync"

	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/rlog"
)

// remoteBrokerOffsetStore keeps offsets in memory and pushes/pulls them to
// the owning broker over the wire. UpdateOffset never does
// I/O; Persist issues a one-way UPDATE_CONSUMER_OFFSET; ReadOffset with
// ReadFromStore issues a synchronous QUERY_CONSUMER_OFFSET.
type remoteBrokerOffsetStore struct {
	mu    sync.Mutex
	table map[primitive.MessageQueue]int64

	group  string
	client MQClient
	log    rlog.Logger
}

// NewRemoteBrokerOffsetStore constructs a store that commits through client.
func NewRemoteBrokerOffsetStore(group string, client MQClient, log rlog.Logger) OffsetStore {
	if log == nil {
		log = rlog.Nop()
	}
	return &remoteBrokerOffsetStore{
		table:  make(map[primitive.MessageQueue]int64),
		group:  group,
		client: client,
		log:    log,
	}
}

// Load is a no-op for the remote variant: there is no local file to
// rebuild from, offsets live on the broker and are fetched lazily via
// ReadOffset(..., ReadFromStore).
func (s *remoteBrokerOffsetStore) Load() error { return nil }

func (s *remoteBrokerOffsetStore) UpdateOffset(mq primitive.MessageQueue, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 {
		return
	}
	s.table[mq] = offset
}

func (s *remoteBrokerOffsetStore) ReadOffset(mq primitive.MessageQueue, mode ReadOffsetMode) int64 {
	switch mode {
	case ReadFromMemory, ReadMemoryThenStore:
		s.mu.Lock()
		offset, ok := s.table[mq]
		s.mu.Unlock()
		if ok {
			return offset
		}
		if mode == ReadFromMemory {
			return OffsetNotFound
		}
		fallthrough
	case ReadFromStore:
		offset, err := s.client.QueryConsumerOffset(context.Background(), s.group, mq)
		if err != nil {
			s.log.Log(rlog.LevelError, "query consumer offset failed", "mq", mq.String(), "err", err)
			return OffsetHardErr
		}
		if offset >= 0 {
			s.mu.Lock()
			s.table[mq] = offset
			s.mu.Unlock()
		}
		return offset
	}
	return OffsetNotFound
}

func (s *remoteBrokerOffsetStore) Persist(mq primitive.MessageQueue) {
	s.mu.Lock()
	offset, ok := s.table[mq]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.client.UpdateConsumerOffset(context.Background(), s.group, mq, offset)
}

func (s *remoteBrokerOffsetStore) PersistAll(mqs []primitive.MessageQueue) {
	for _, mq := range mqs {
		s.Persist(mq)
	}
}

func (s *remoteBrokerOffsetStore) RemoveOffset(mq primitive.MessageQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.table, mq)
}
