package primitive

import (
	"encoding/binary"
	"fmt"

	"github.com/twmb/rocketmq-go/internal/remote"
)

// DecodeMessages parses a PULL_MESSAGE response body: a back-to-back
// sequence of fixed-layout binary messages. Each entry is self-describing
// (totalSize is its own first field), so a short or truncated trailing
// entry is simply dropped rather than treated as corruption -- the broker
// can legitimately cap a batch mid-message when it hits its own size limit.
func DecodeMessages(body []byte, topic, brokerName string, queueID int32) ([]*MessageExt, error) {
	var out []*MessageExt
	for len(body) > 4 {
		totalSize := int(binary.BigEndian.Uint32(body))
		if totalSize <= 0 || totalSize > len(body) {
			break
		}
		entry := body[:totalSize]
		body = body[totalSize:]

		m, err := decodeOneMessage(entry, topic, brokerName, queueID)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func decodeOneMessage(b []byte, topic, brokerName string, queueID int32) (*MessageExt, error) {
	r := &byteReader{b: b}

	r.u32() // totalSize, already consumed by the caller
	r.u32() // magicCode
	r.u32() // bodyCRC
	qid := int32(r.u32())
	r.u32() // flag
	queueOffset := int64(r.u64())
	r.u64() // physicalOffset
	sysFlag := int32(r.u32())
	bornTimestamp := int64(r.u64())
	r.u32() // bornHost ip
	r.u32() // bornHost port
	storeTimestamp := int64(r.u64())
	r.u32() // storeHost ip
	r.u32() // storeHost port
	reconsumeTimes := int32(r.u32())
	r.u64() // preparedTransactionOffset

	bodyLen := int(r.u32())
	msgBody := r.bytes(bodyLen)
	if codec := remote.CodecFromSysFlag(sysFlag); codec != remote.CodecNone {
		decompressed, err := remote.Decompress(codec, msgBody)
		if err != nil {
			return nil, fmt.Errorf("decompress message body: %w", err)
		}
		msgBody = decompressed
	}

	topicLen := int(r.u8())
	msgTopic := string(r.bytes(topicLen))
	if msgTopic == "" {
		msgTopic = topic
	}

	propLen := int(r.u16())
	props := parseMessageProperties(r.bytes(propLen))

	if r.err != nil {
		return nil, fmt.Errorf("decode message body: %w", r.err)
	}

	m := &MessageExt{
		Message: Message{
			Topic:      msgTopic,
			Body:       msgBody,
			Tags:       props[propertyTags],
			Properties: props,
		},
		MsgId:          props[propertyUniqueClientMsgIDKey],
		QueueId:        qid,
		QueueOffset:    queueOffset,
		BrokerName:     brokerName,
		BornTimestamp:  bornTimestamp,
		StoreTimestamp: storeTimestamp,
		ReconsumeTimes: reconsumeTimes,
		SysFlag:        sysFlag,
	}
	if m.QueueId == 0 && qid == 0 {
		m.QueueId = queueID
	}
	if m.MsgId == "" {
		m.MsgId = fmt.Sprintf("%s-%d", brokerName, queueOffset)
	}
	return m, nil
}

const (
	propertyTags                 = "TAGS"
	propertyUniqueClientMsgIDKey = "UNIQ_KEY"
)

// parseMessageProperties splits the broker's properties blob: entries
// separated by \x02, key/value within an entry separated by \x01.
func parseMessageProperties(raw []byte) map[string]string {
	props := make(map[string]string)
	if len(raw) == 0 {
		return props
	}
	for _, entry := range splitByte(raw, 2) {
		kv := splitByte(entry, 1)
		if len(kv) == 2 {
			props[string(kv[0])] = string(kv[1])
		}
	}
	return props
}

func splitByte(b []byte, sep byte) [][]byte {
	var out [][]byte
	start := 0
	for i, c := range b {
		if c == sep {
			out = append(out, b[start:i])
			start = i + 1
		}
	}
	out = append(out, b[start:])
	return out
}

type byteReader struct {
	b   []byte
	err error
}

func (r *byteReader) need(n int) bool {
	if r.err != nil || len(r.b) < n {
		if r.err == nil {
			r.err = fmt.Errorf("short message buffer: need %d, have %d", n, len(r.b))
		}
		return false
	}
	return true
}

func (r *byteReader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v
}

func (r *byteReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.b)
	r.b = r.b[2:]
	return v
}

func (r *byteReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.b)
	r.b = r.b[4:]
	return v
}

func (r *byteReader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.b)
	r.b = r.b[8:]
	return v
}

func (r *byteReader) bytes(n int) []byte {
	if n == 0 {
		return nil
	}
	if !r.need(n) {
		return nil
	}
	v := r.b[:n]
	r.b = r.b[n:]
	return v
}
