package consumer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/rocketmq-go/consumer"
	"github.com/twmb/rocketmq-go/primitive"
)

func extMsg(offset int64, body string) *primitive.MessageExt {
	return &primitive.MessageExt{
		Message:     primitive.Message{Body: []byte(body)},
		QueueOffset: offset,
	}
}

func TestProcessQueue_PutMessages_DiscardsDuplicatesAndTracksSize(t *testing.T) {
	pq := consumer.NewProcessQueue()

	inserted := pq.PutMessages([]*primitive.MessageExt{extMsg(0, "aaa"), extMsg(1, "bb")})
	assert.True(t, inserted)
	assert.Equal(t, 2, pq.GetCachedMsgCount())
	assert.Equal(t, int64(5), pq.GetCachedMsgSize())

	inserted = pq.PutMessages([]*primitive.MessageExt{extMsg(0, "aaa")})
	assert.False(t, inserted, "re-inserting an already-present offset should report nothing new")
	assert.Equal(t, 2, pq.GetCachedMsgCount())
}

func TestProcessQueue_RemoveMessage_AdvancesSafeCommitOffset(t *testing.T) {
	pq := consumer.NewProcessQueue()
	pq.PutMessages([]*primitive.MessageExt{extMsg(0, "a"), extMsg(1, "b"), extMsg(2, "c")})

	next := pq.RemoveMessage([]*primitive.MessageExt{extMsg(0, "a")})
	assert.Equal(t, int64(1), next, "safe commit offset should be the smallest remaining offset")

	next = pq.RemoveMessage([]*primitive.MessageExt{extMsg(1, "b"), extMsg(2, "c")})
	assert.Equal(t, int64(3), next, "once empty, safe commit offset is queueOffsetMax+1")
	assert.Equal(t, 0, pq.GetCachedMsgCount())
}

func TestProcessQueue_RemoveMessage_DroppedReturnsNegativeOne(t *testing.T) {
	pq := consumer.NewProcessQueue()
	pq.PutMessages([]*primitive.MessageExt{extMsg(0, "a")})
	pq.MarkDropped()

	assert.Equal(t, int64(-1), pq.RemoveMessage([]*primitive.MessageExt{extMsg(0, "a")}))
	assert.True(t, pq.IsDropped())
}

func TestProcessQueue_PutMessages_NoOpOnceDropped(t *testing.T) {
	pq := consumer.NewProcessQueue()
	pq.MarkDropped()
	inserted := pq.PutMessages([]*primitive.MessageExt{extMsg(0, "a")})
	assert.False(t, inserted)
	assert.Equal(t, 0, pq.GetCachedMsgCount())
}

func TestProcessQueue_TakeMessagesThenCommit(t *testing.T) {
	pq := consumer.NewProcessQueue()
	pq.PutMessages([]*primitive.MessageExt{extMsg(0, "a"), extMsg(1, "b"), extMsg(2, "c")})

	taken := pq.TakeMessages(2)
	assert.Len(t, taken, 2)
	assert.Equal(t, int64(0), taken[0].QueueOffset)
	assert.Equal(t, int64(1), taken[1].QueueOffset)

	// offset 2 is still pending in the main mapping.
	assert.Equal(t, int64(2), pq.SafeCommitOffset())

	next := pq.Commit()
	assert.Equal(t, int64(2), next, "committing the taken batch should not move past the still-pending offset")
	assert.Equal(t, 1, pq.GetCachedMsgCount())
}

func TestProcessQueue_MakeMessageToConsumeAgain(t *testing.T) {
	pq := consumer.NewProcessQueue()
	pq.PutMessages([]*primitive.MessageExt{extMsg(0, "a")})

	taken := pq.TakeMessages(1)
	assert.Len(t, taken, 1)

	pq.MakeMessageToConsumeAgain(taken)
	again := pq.TakeMessages(1)
	assert.Len(t, again, 1, "message returned to the queue should be takeable again")
	assert.Equal(t, int64(0), again[0].QueueOffset)
}

func TestProcessQueue_ClearAllMsgs(t *testing.T) {
	pq := consumer.NewProcessQueue()
	pq.PutMessages([]*primitive.MessageExt{extMsg(0, "a"), extMsg(1, "b")})
	pq.ClearAllMsgs()
	assert.Equal(t, 0, pq.GetCachedMsgCount())
	assert.Equal(t, int64(0), pq.GetCachedMsgSize())
}

func TestProcessQueue_GetMaxSpan(t *testing.T) {
	pq := consumer.NewProcessQueue()
	assert.Equal(t, int64(0), pq.GetMaxSpan(), "empty queue has zero span")

	pq.PutMessages([]*primitive.MessageExt{extMsg(5, "a"), extMsg(9, "b")})
	assert.Equal(t, int64(4), pq.GetMaxSpan())
}

func TestProcessQueue_LockState(t *testing.T) {
	pq := consumer.NewProcessQueue()
	assert.False(t, pq.IsLocked())
	pq.SetLocked(true)
	assert.True(t, pq.IsLocked())
	assert.False(t, pq.IsLockExpired(), "a lock just granted should not be expired")
}
