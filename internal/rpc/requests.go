package rpc

import (
	"strconv"

	"github.com/twmb/rocketmq-go/internal/remote"
)

// ExtFields is the string-keyed header map every RocketMQ request/response
// uses in place of a typed body for small scalar fields -- the broker's
// CustomHeader convention. Builders below populate it; parsers read it back.
type ExtFields = map[string]string

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
func atoi(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
func atoi32(s string) int32 {
	v, _ := strconv.ParseInt(s, 10, 32)
	return int32(v)
}

// SendMessageHeader mirrors a producer's SEND_MESSAGE request fields at the
// wire level; the message body itself travels as the command's raw Body.
type SendMessageHeader struct {
	ProducerGroup         string
	Topic                 string
	QueueId               int32
	SysFlag               int32
	BornTimestamp         int64
	Flag                  int32
	Properties            string
	ReconsumeTimes        int32
	UnitMode              bool
	MaxReconsumeTimes     int32
	DefaultTopic          string
	DefaultTopicQueueNums int32
}

func NewSendMessageRequest(opaque int32, h SendMessageHeader, body []byte) *remote.Command {
	ext := ExtFields{
		"producerGroup":         h.ProducerGroup,
		"topic":                 h.Topic,
		"defaultTopic":          h.DefaultTopic,
		"defaultTopicQueueNums": itoa(int64(h.DefaultTopicQueueNums)),
		"queueId":               itoa(int64(h.QueueId)),
		"sysFlag":               itoa(int64(h.SysFlag)),
		"bornTimestamp":         itoa(h.BornTimestamp),
		"flag":                  itoa(int64(h.Flag)),
		"properties":            h.Properties,
		"reconsumeTimes":        itoa(int64(h.ReconsumeTimes)),
		"maxReconsumeTimes":     itoa(int64(h.MaxReconsumeTimes)),
	}
	return remote.NewRequest(CodeSendMessage, opaque, ext, body)
}

// SendMessageResponse is the decoded outcome of one SEND_MESSAGE call.
type SendMessageResponse struct {
	Code          int16
	Remark        string
	MsgId         string
	QueueId       int32
	QueueOffset   int64
	TransactionID string
}

func ParseSendMessageResponse(cmd *remote.Command) SendMessageResponse {
	ext := cmd.Header.ExtFields
	return SendMessageResponse{
		Code:          cmd.Header.Code,
		Remark:        cmd.Header.Remark,
		MsgId:         ext["msgId"],
		QueueId:       atoi32(ext["queueId"]),
		QueueOffset:   atoi(ext["queueOffset"]),
		TransactionID: ext["transactionId"],
	}
}

// PullMessageHeader mirrors spec.md's pull request fields at the wire
// level: 1:1 with consumer.PullMessageRequest, just string-encoded.
type PullMessageHeader struct {
	ConsumerGroup  string
	Topic          string
	QueueId        int32
	QueueOffset    int64
	MaxMsgNums     int32
	SysFlag        int32
	CommitOffset   int64
	SuspendTimeout int64
	Subscription   string
	SubVersion     int64
}

func NewPullMessageRequest(opaque int32, h PullMessageHeader) *remote.Command {
	ext := ExtFields{
		"consumerGroup":        h.ConsumerGroup,
		"topic":                h.Topic,
		"queueId":              itoa(int64(h.QueueId)),
		"queueOffset":          itoa(h.QueueOffset),
		"maxMsgNums":           itoa(int64(h.MaxMsgNums)),
		"sysFlag":              itoa(int64(h.SysFlag)),
		"commitOffset":         itoa(h.CommitOffset),
		"suspendTimeoutMillis": itoa(h.SuspendTimeout),
		"subscription":         h.Subscription,
		"subVersion":           itoa(h.SubVersion),
	}
	return remote.NewRequest(CodePullMessage, opaque, ext, nil)
}

// PullMessageResponse is the decoded form of a pull response header; Body on
// the underlying Command carries the (possibly batched, possibly
// compressed) message payload.
type PullMessageResponse struct {
	Code            int16
	NextBeginOffset int64
	MinOffset       int64
	MaxOffset       int64
	SuggestBrokerID int64
}

func ParsePullMessageResponse(cmd *remote.Command) PullMessageResponse {
	ext := cmd.Header.ExtFields
	return PullMessageResponse{
		Code:            cmd.Header.Code,
		NextBeginOffset: atoi(ext["nextBeginOffset"]),
		MinOffset:       atoi(ext["minOffset"]),
		MaxOffset:       atoi(ext["maxOffset"]),
		SuggestBrokerID: atoi(ext["suggestWhichBrokerId"]),
	}
}

// NewQueryConsumerOffsetRequest builds a QUERY_CONSUMER_OFFSET request.
func NewQueryConsumerOffsetRequest(opaque int32, group, topic string, queueID int32) *remote.Command {
	ext := ExtFields{
		"consumerGroup": group,
		"topic":         topic,
		"queueId":       itoa(int64(queueID)),
	}
	return remote.NewRequest(CodeQueryConsumerOffset, opaque, ext, nil)
}

func ParseQueryConsumerOffsetResponse(cmd *remote.Command) int64 {
	return atoi(cmd.Header.ExtFields["offset"])
}

// NewUpdateConsumerOffsetRequest builds a one-way UPDATE_CONSUMER_OFFSET
// request.
func NewUpdateConsumerOffsetRequest(opaque int32, group, topic string, queueID int32, offset int64) *remote.Command {
	ext := ExtFields{
		"consumerGroup": group,
		"topic":         topic,
		"queueId":       itoa(int64(queueID)),
		"commitOffset":  itoa(offset),
	}
	cmd := remote.NewRequest(CodeUpdateConsumerOffset, opaque, ext, nil)
	cmd.Header.MarkOneWay()
	return cmd
}

// NewGetRouteInfoRequest builds a GET_ROUTEINFO_BY_TOPIC request.
func NewGetRouteInfoRequest(opaque int32, topic string) *remote.Command {
	ext := ExtFields{"topic": topic}
	return remote.NewRequest(CodeGetRouteInfoByTopic, opaque, ext, nil)
}

// TopicRouteData is the decoded JSON body of a route response: queue
// layout plus the broker address table needed to reach them.
type TopicRouteData struct {
	QueueDatas  []QueueData  `json:"queueDatas"`
	BrokerDatas []BrokerData `json:"brokerDatas"`
}

type QueueData struct {
	BrokerName     string `json:"brokerName"`
	ReadQueueNums  int32  `json:"readQueueNums"`
	WriteQueueNums int32  `json:"writeQueueNums"`
	Perm           int32  `json:"perm"`
}

type BrokerData struct {
	BrokerName string           `json:"brokerName"`
	Cluster    string           `json:"cluster"`
	BrokerAddrs map[int64]string `json:"brokerAddrs"` // brokerID (0 = master) -> addr
}

// NewGetConsumerListByGroupRequest builds a GET_CONSUMER_LIST_BY_GROUP
// request.
func NewGetConsumerListByGroupRequest(opaque int32, group string) *remote.Command {
	ext := ExtFields{"consumerGroup": group}
	return remote.NewRequest(CodeGetConsumerListByGroup, opaque, ext, nil)
}

// ConsumerListResponse is the JSON body of a GET_CONSUMER_LIST_BY_GROUP
// response.
type ConsumerListResponse struct {
	ConsumerIDList []string `json:"consumerIdList"`
}

// NewLockBatchMQRequest builds a LOCK_BATCH_MQ request; body is the JSON
// encoding of LockBatchRequestBody.
type LockBatchRequestBody struct {
	ConsumerGroup string       `json:"consumerGroup"`
	ClientID      string       `json:"clientId"`
	MQSet         []WireMQ     `json:"mqSet"`
}

type WireMQ struct {
	Topic      string `json:"topic"`
	BrokerName string `json:"brokerName"`
	QueueId    int32  `json:"queueId"`
}

func NewLockBatchMQRequest(opaque int32, body []byte) *remote.Command {
	return remote.NewRequest(CodeLockBatchMQ, opaque, nil, body)
}

type LockBatchResponseBody struct {
	LockOKMQSet []WireMQ `json:"lockOKMQSet"`
}

func NewUnlockBatchMQRequest(opaque int32, body []byte) *remote.Command {
	cmd := remote.NewRequest(CodeUnlockBatchMQ, opaque, nil, body)
	cmd.Header.MarkOneWay()
	return cmd
}

// NewConsumerSendMsgBackRequest builds a CONSUMER_SEND_MSG_BACK request.
func NewConsumerSendMsgBackRequest(opaque int32, group, originTopic, msgID string, delayLevel int32, offset int64) *remote.Command {
	ext := ExtFields{
		"group":        group,
		"originTopic":  originTopic,
		"originMsgId":  msgID,
		"delayLevel":   itoa(int64(delayLevel)),
		"offset":       itoa(offset),
		"maxReconsumeTimes": itoa(16),
	}
	return remote.NewRequest(CodeConsumerSendMsgBack, opaque, ext, nil)
}

// NewHeartbeatRequest builds a one-way HEART_BEAT request; body is the
// JSON-encoded client/consumer/producer registration payload, built by the
// caller (internal/client) since its shape depends on which consumer groups
// and producer groups are currently registered.
func NewHeartbeatRequest(opaque int32, body []byte) *remote.Command {
	return remote.NewRequest(CodeHeartbeat, opaque, nil, body)
}

// HeartbeatBody is the JSON payload a HEART_BEAT request carries: this
// client's identity plus every consumer group it currently has running.
type HeartbeatBody struct {
	ClientID      string         `json:"clientID"`
	ConsumerDatas []ConsumerData `json:"consumerDataSet"`
}

// ConsumerData describes one registered consumer group's current
// subscription set, enough for the broker to route
// NOTIFY_CONSUMER_IDS_CHANGED and rebalance-triggering events to the right
// group.
type ConsumerData struct {
	GroupName        string                 `json:"groupName"`
	ConsumeType      int8                   `json:"consumeType"`
	MessageModel     int8                   `json:"messageModel"`
	SubscriptionData []SubscriptionDataWire `json:"subscriptionDataSet"`
}

// SubscriptionDataWire is the wire form of a parsed tag subscription.
type SubscriptionDataWire struct {
	Topic      string `json:"topic"`
	SubString  string `json:"subString"`
	SubVersion int64  `json:"subVersion"`
}
