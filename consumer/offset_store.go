package consumer

import "github.com/twmb/rocketmq-go/primitive"

// ReadOffsetMode selects where OffsetStore.ReadOffset looks.
type ReadOffsetMode int8

const (
	ReadFromMemory ReadOffsetMode = iota
	ReadMemoryThenStore
	ReadFromStore
)

// Offset miss/error sentinels.
const (
	OffsetNotFound int64 = -1
	OffsetHardErr  int64 = -2
)

// OffsetStore maps (group, queue) -> committed offset, persisted either to a
// local file or to the broker. Both variants guard every map
// mutation with a single mutex; implementations must be safe for concurrent
// use by the pull scheduler and the periodic persistence timer.
type OffsetStore interface {
	// Load rebuilds the in-memory table from backing storage. At-most-once,
	// called on startup.
	Load() error
	// UpdateOffset is an in-memory-only write; it performs no I/O.
	UpdateOffset(mq primitive.MessageQueue, offset int64)
	// ReadOffset returns the offset for mq, OffsetNotFound on miss, or
	// OffsetHardErr on a hard error (remote variant only).
	ReadOffset(mq primitive.MessageQueue, mode ReadOffsetMode) int64
	// Persist flushes the durable copy for one queue.
	Persist(mq primitive.MessageQueue)
	// PersistAll flushes the durable copy for every given queue.
	PersistAll(mqs []primitive.MessageQueue)
	// RemoveOffset drops mq from the in-memory table.
	RemoveOffset(mq primitive.MessageQueue)
}
