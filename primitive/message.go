// Package primitive holds the wire-level value types shared by producer
// and consumer: messages, queues, and subscription expressions.
package primitive

import (
	"fmt"
	"sort"
	"strings"
)

// MessageQueue identifies a single physical queue shard: a topic hosted by
// one broker, at one queue index. MessageQueue is a value type: equality
// and ordering are field-based, never pointer-based.
type MessageQueue struct {
	Topic      string `json:"topic"`
	BrokerName string `json:"brokerName"`
	QueueId    int32  `json:"queueId"`
}

func (mq MessageQueue) String() string {
	return fmt.Sprintf("%s/%s/%d", mq.Topic, mq.BrokerName, mq.QueueId)
}

// Less orders MessageQueues lexicographically by (Topic, BrokerName, QueueId),
// matching the ordering relied on by rebalance to produce a canonical,
// cross-client-consistent sort of a topic's queues.
func (mq MessageQueue) Less(other MessageQueue) bool {
	if mq.Topic != other.Topic {
		return mq.Topic < other.Topic
	}
	if mq.BrokerName != other.BrokerName {
		return mq.BrokerName < other.BrokerName
	}
	return mq.QueueId < other.QueueId
}

// SortMessageQueues sorts a slice of MessageQueue in place using Less.
func SortMessageQueues(mqs []MessageQueue) {
	sort.Slice(mqs, func(i, j int) bool { return mqs[i].Less(mqs[j]) })
}

// Message is the payload a producer sends.
type Message struct {
	Topic      string
	Body       []byte
	Tags       string
	Keys       []string
	Properties map[string]string
}

// MessageExt is a Message as delivered off a broker: it carries the
// broker-assigned identity and delivery metadata the consumer needs.
type MessageExt struct {
	Message

	MsgId          string
	QueueId        int32
	QueueOffset    int64
	BrokerName     string
	BornTimestamp  int64
	StoreTimestamp int64
	ReconsumeTimes int32
	SysFlag        int32
}

// Queue reconstructs the MessageQueue this message was delivered from.
func (m *MessageExt) Queue() MessageQueue {
	return MessageQueue{Topic: m.Topic, BrokerName: m.BrokerName, QueueId: m.QueueId}
}

// GetProperty returns a message property, or "" if unset.
func (m *Message) GetProperty(name string) string {
	if m.Properties == nil {
		return ""
	}
	return m.Properties[name]
}

// SetProperty sets a message property.
func (m *Message) SetProperty(name, value string) {
	if m.Properties == nil {
		m.Properties = make(map[string]string)
	}
	m.Properties[name] = value
}

// Property name constants used by the retry/DLQ send-back path.
const (
	PropertyRetryTopic      = "RETRY_TOPIC"
	PropertyReconsumeTimes  = "RECONSUME_TIME"
	PropertyMaxReconsumeTimes = "MAX_RECONSUME_TIME"
	PropertyRealTopic       = "REAL_TOPIC"
	PropertyRealQueueId     = "REAL_QID"
)

// RetryTopicPrefix / DLQTopicPrefix match the naming scheme the broker uses
// for a consumer group's private retry and dead-letter topics.
const (
	RetryTopicPrefix = "%RETRY%"
	DLQTopicPrefix   = "%DLQ%"
)

// RetryTopic returns the retry topic name for a consumer group.
func RetryTopic(group string) string { return RetryTopicPrefix + group }

// DLQTopic returns the dead-letter topic name for a consumer group.
func DLQTopic(group string) string { return DLQTopicPrefix + group }

// Property names the broker folds Tags/Keys into on the wire, alongside
// whatever a caller set via SetProperty.
const (
	propertyTagsWire = "TAGS"
	propertyKeysWire = "KEYS"
)

// WireProperties returns the full properties blob a SEND_MESSAGE request
// carries: m.Properties plus Tags and Keys folded in under their wire
// names, encoded in the broker's \x01/\x02-delimited form.
func (m *Message) WireProperties() string {
	all := make(map[string]string, len(m.Properties)+2)
	for k, v := range m.Properties {
		all[k] = v
	}
	if m.Tags != "" {
		all[propertyTagsWire] = m.Tags
	}
	if len(m.Keys) > 0 {
		all[propertyKeysWire] = strings.Join(m.Keys, " ")
	}
	return EncodeProperties(all)
}

// EncodeProperties serializes a message's properties into the broker's
// wire form: entries separated by \x02, key/value within an entry
// separated by \x01. Inverse of parseMessageProperties.
func EncodeProperties(props map[string]string) string {
	if len(props) == 0 {
		return ""
	}
	var b []byte
	first := true
	for k, v := range props {
		if !first {
			b = append(b, 2)
		}
		first = false
		b = append(b, k...)
		b = append(b, 1)
		b = append(b, v...)
	}
	return string(b)
}
