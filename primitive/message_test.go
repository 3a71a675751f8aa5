package primitive_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/rocketmq-go/primitive"
)

func TestMessage_WireProperties_FoldsTagsAndKeys(t *testing.T) {
	m := &primitive.Message{
		Topic:      "t",
		Tags:       "tagA",
		Keys:       []string{"k1", "k2"},
		Properties: map[string]string{"custom": "value"},
	}
	wire := m.WireProperties()

	decoded := decodeWireProps(t, wire)
	assert.Equal(t, "tagA", decoded["TAGS"])
	assert.Equal(t, "k1 k2", decoded["KEYS"])
	assert.Equal(t, "value", decoded["custom"])
}

func TestMessage_WireProperties_EmptyWhenNothingSet(t *testing.T) {
	m := &primitive.Message{Topic: "t"}
	assert.Equal(t, "", m.WireProperties())
}

func TestEncodeProperties_RoundTripsThroughDecode(t *testing.T) {
	props := map[string]string{"a": "1", "b": "2", "c": "3"}
	wire := primitive.EncodeProperties(props)
	assert.Equal(t, props, decodeWireProps(t, wire))
}

func TestMessage_GetSetProperty(t *testing.T) {
	m := &primitive.Message{}
	assert.Equal(t, "", m.GetProperty("missing"))
	m.SetProperty("k", "v")
	assert.Equal(t, "v", m.GetProperty("k"))
}

func TestDecodeMessages_SingleEntryRoundTrips(t *testing.T) {
	entry := buildWireMessage(t, 7, "hello world", "t", "BROKER_A", "tagX")
	msgs, err := primitive.DecodeMessages(entry, "t", "BROKER_A", 7)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello world", string(msgs[0].Body))
	assert.Equal(t, int64(7), msgs[0].QueueOffset)
	assert.Equal(t, "tagX", msgs[0].Tags)
	assert.Equal(t, "BROKER_A", msgs[0].BrokerName)
}

func TestDecodeMessages_TruncatedTrailingEntryDropped(t *testing.T) {
	whole := buildWireMessage(t, 1, "body", "t", "b", "")
	truncated := whole[:len(whole)-2]
	msgs, err := primitive.DecodeMessages(truncated, "t", "b", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "a short trailing entry should be dropped, not treated as an error")
}

func TestDecodeMessages_MultipleEntries(t *testing.T) {
	first := buildWireMessage(t, 0, "one", "t", "b", "")
	second := buildWireMessage(t, 1, "two", "t", "b", "")
	msgs, err := primitive.DecodeMessages(append(first, second...), "t", "b", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", string(msgs[0].Body))
	assert.Equal(t, "two", string(msgs[1].Body))
}

// decodeWireProps mirrors the broker's \x01/\x02-delimited property format
// for test assertions without reaching into the unexported parser.
func decodeWireProps(t *testing.T, wire string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	if wire == "" {
		return out
	}
	for _, entry := range splitOn(wire, 2) {
		kv := splitOn(entry, 1)
		require.Len(t, kv, 2, "malformed property entry %q", entry)
		out[kv[0]] = kv[1]
	}
	return out
}

func splitOn(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// buildWireMessage hand-assembles one PULL_MESSAGE binary entry matching
// the broker's fixed layout, for exercising DecodeMessages without a live
// broker.
func buildWireMessage(t *testing.T, queueOffset int64, body, topic, brokerName, tags string) []byte {
	t.Helper()
	props := ""
	if tags != "" {
		props = primitive.EncodeProperties(map[string]string{"TAGS": tags})
	}

	buf := make([]byte, 0, 128)
	put32 := func(v uint32) { buf = binary.BigEndian.AppendUint32(buf, v) }
	put64 := func(v uint64) { buf = binary.BigEndian.AppendUint64(buf, v) }

	put32(0) // totalSize placeholder, patched below
	put32(0) // magicCode
	put32(0) // bodyCRC
	put32(0) // qid
	put32(0) // flag
	put64(uint64(queueOffset))
	put64(0) // physicalOffset
	put32(0) // sysFlag
	put64(0) // bornTimestamp
	put32(0) // bornHost ip
	put32(0) // bornHost port
	put64(0) // storeTimestamp
	put32(0) // storeHost ip
	put32(0) // storeHost port
	put32(0) // reconsumeTimes
	put64(0) // preparedTransactionOffset

	put32(uint32(len(body)))
	buf = append(buf, body...)

	buf = append(buf, byte(len(topic)))
	buf = append(buf, topic...)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(props)))
	buf = append(buf, props...)

	binary.BigEndian.PutUint32(buf, uint32(len(buf)))
	_ = brokerName // brokerName is supplied to DecodeMessages by the caller, not encoded on the wire
	return buf
}
