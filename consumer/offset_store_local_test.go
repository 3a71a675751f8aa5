package consumer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/rocketmq-go/consumer"
	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/rlog"
)

func TestLocalFileOffsetStore_PersistThenLoadRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	mq := primitive.MessageQueue{Topic: "t", BrokerName: "b", QueueId: 0}

	store := consumer.NewLocalFileOffsetStore("127.0.0.1@instance", "g1", rlog.Nop())
	require.NoError(t, store.Load())
	store.UpdateOffset(mq, 42)
	store.PersistAll([]primitive.MessageQueue{mq})

	reloaded := consumer.NewLocalFileOffsetStore("127.0.0.1@instance", "g1", rlog.Nop())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, int64(42), reloaded.ReadOffset(mq, consumer.ReadFromMemory))
}

func TestLocalFileOffsetStore_ReadFromMemoryMissReturnsNotFound(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := consumer.NewLocalFileOffsetStore("127.0.0.1@instance", "g1", rlog.Nop())
	require.NoError(t, store.Load())

	mq := primitive.MessageQueue{Topic: "t", BrokerName: "b", QueueId: 0}
	assert.Equal(t, consumer.OffsetNotFound, store.ReadOffset(mq, consumer.ReadFromMemory))
}

func TestLocalFileOffsetStore_RemoveOffset(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := consumer.NewLocalFileOffsetStore("127.0.0.1@instance", "g1", rlog.Nop())
	require.NoError(t, store.Load())

	mq := primitive.MessageQueue{Topic: "t", BrokerName: "b", QueueId: 0}
	store.UpdateOffset(mq, 7)
	store.RemoveOffset(mq)
	assert.Equal(t, consumer.OffsetNotFound, store.ReadOffset(mq, consumer.ReadFromMemory))
}

func TestLocalFileOffsetStore_LoadOnMissingFileStartsEmpty(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := consumer.NewLocalFileOffsetStore("127.0.0.1@instance", "nonexistent-group", rlog.Nop())
	assert.NoError(t, store.Load())
}
