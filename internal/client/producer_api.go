package client

import (
	"context"
	"time"

	"github.com/twmb/rocketmq-go/internal/remote"
	"github.com/twmb/rocketmq-go/internal/rpc"
	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/producer"
	"github.com/twmb/rocketmq-go/rerr"
	"github.com/twmb/rocketmq-go/rlog"
)

// This file implements producer.MQClient on *ClientFactory, the send-side
// counterpart to mqclient.go's consumer.MQClient. Same one-way import
// relationship: ClientFactory depends on package producer for its result
// types, producer never imports internal/client.

// compressMsgBodyOverHowmuch mirrors RocketMQ's producer-side default: a
// body at or above this size is compressed before it goes on the wire.
const compressMsgBodyOverHowmuch = 4096

// defaultSendCodec is the codec used when a body crosses the compression
// threshold.
const defaultSendCodec = remote.CodecLZ4

// compressIfLarge returns body (compressed if it's large enough to be worth
// it) and the SysFlag bits the broker needs to know how to undo that.
func compressIfLarge(body []byte, log rlog.Logger) ([]byte, int32) {
	if len(body) < compressMsgBodyOverHowmuch {
		return body, 0
	}
	compressed, err := remote.Compress(defaultSendCodec, body)
	if err != nil {
		log.Log(rlog.LevelWarn, "compress message body failed, sending uncompressed", "err", err)
		return body, 0
	}
	return compressed, remote.SysFlagWithCodec(0, defaultSendCodec)
}

func (f *ClientFactory) FetchPublishMessageQueues(ctx context.Context, topic string) ([]primitive.MessageQueue, error) {
	f.routeMu.RLock()
	route, ok := f.routes[topic]
	f.routeMu.RUnlock()
	if !ok {
		var err error
		route, err = f.fetchRoute(ctx, topic)
		if err != nil {
			return nil, err
		}
	}
	var out []primitive.MessageQueue
	for _, qd := range route.QueueDatas {
		for q := int32(0); q < qd.WriteQueueNums; q++ {
			out = append(out, primitive.MessageQueue{Topic: topic, BrokerName: qd.BrokerName, QueueId: q})
		}
	}
	return out, nil
}

func (f *ClientFactory) SendMessage(ctx context.Context, group string, mq primitive.MessageQueue, msg *primitive.Message) (*producer.SendResult, error) {
	conn, err := f.brokerConn(ctx, mq.Topic, mq.BrokerName)
	if err != nil {
		return nil, err
	}

	body, sysFlag := compressIfLarge(msg.Body, f.log)
	req := rpc.NewSendMessageRequest(0, rpc.SendMessageHeader{
		ProducerGroup:         group,
		Topic:                 mq.Topic,
		QueueId:               mq.QueueId,
		SysFlag:               sysFlag,
		BornTimestamp:         time.Now().UnixMilli(),
		Properties:            msg.WireProperties(),
		DefaultTopic:          "TBW102",
		DefaultTopicQueueNums: 4,
	}, body)

	resp, err := conn.Invoke(ctx, req)
	if err != nil {
		return nil, rerr.Transport(err, "send message to %s: %v", mq.String(), err)
	}
	parsed := rpc.ParseSendMessageResponse(resp)
	if parsed.Code != rpc.RespSuccess && parsed.Code != rpc.RespFlushDiskTimeout && parsed.Code != rpc.RespSlaveNotAvailable {
		return nil, rerr.Broker(conn.Addr(), parsed.Code, "send message to %s: %s", mq.String(), parsed.Remark)
	}

	status := producer.SendOK
	switch parsed.Code {
	case rpc.RespFlushDiskTimeout:
		status = producer.SendFlushDiskTimeout
	case rpc.RespSlaveNotAvailable:
		status = producer.SendSlaveNotAvailable
	}
	return &producer.SendResult{
		Status:        status,
		MsgId:         parsed.MsgId,
		MessageQueue:  mq,
		QueueOffset:   parsed.QueueOffset,
		TransactionID: parsed.TransactionID,
	}, nil
}

func (f *ClientFactory) SendMessageOneWay(ctx context.Context, group string, mq primitive.MessageQueue, msg *primitive.Message) {
	conn, err := f.brokerConn(ctx, mq.Topic, mq.BrokerName)
	if err != nil {
		f.log.Log(rlog.LevelWarn, "send one-way: dial broker failed", "mq", mq.String(), "err", err)
		return
	}
	body, sysFlag := compressIfLarge(msg.Body, f.log)
	req := rpc.NewSendMessageRequest(0, rpc.SendMessageHeader{
		ProducerGroup:         group,
		Topic:                 mq.Topic,
		QueueId:               mq.QueueId,
		SysFlag:               sysFlag,
		BornTimestamp:         time.Now().UnixMilli(),
		Properties:            msg.WireProperties(),
		DefaultTopic:          "TBW102",
		DefaultTopicQueueNums: 4,
	}, body)
	_ = conn.InvokeOneWay(ctx, req)
}
