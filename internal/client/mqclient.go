package client

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/twmb/rocketmq-go/consumer"
	"github.com/twmb/rocketmq-go/internal/remote"
	"github.com/twmb/rocketmq-go/internal/rpc"
	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/rerr"
	"github.com/twmb/rocketmq-go/rlog"
)

// This file implements consumer.MQClient on *ClientFactory: the narrow
// interface the rebalance/pull/consume subsystems use to reach the broker
// world. ClientFactory depends on package consumer's types here (a one-way
// reference); consumer itself never imports internal/client, so no cycle
// results.

func (f *ClientFactory) FetchSubscribeMessageQueues(ctx context.Context, topic string) ([]primitive.MessageQueue, error) {
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
		for q := int32(0); q < qd.ReadQueueNums; q++ {
			out = append(out, primitive.MessageQueue{Topic: topic, BrokerName: qd.BrokerName, QueueId: q})
		}
	}
	return out, nil
}

func (f *ClientFactory) FindConsumerIDList(ctx context.Context, topic, group string) ([]string, error) {
	route, err := f.fetchRoute(ctx, topic)
	if err != nil {
		return nil, err
	}
	if len(route.BrokerDatas) == 0 {
		return nil, rerr.Client("no brokers known for topic %s", topic)
	}
	conn, err := f.brokerConn(ctx, topic, route.BrokerDatas[0].BrokerName)
	if err != nil {
		return nil, err
	}
	req := rpc.NewGetConsumerListByGroupRequest(0, group)
	resp, err := conn.Invoke(ctx, req)
	if err != nil {
		return nil, rerr.Transport(err, "get consumer list for group %s", group)
	}
	if resp.Header.Code != rpc.RespSuccess {
		return nil, rerr.Broker(conn.Addr(), resp.Header.Code, "get consumer list for group %s: %s", group, resp.Header.Remark)
	}
	var body rpc.ConsumerListResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, rerr.Client("decode consumer list: %v", err)
	}
	sort.Strings(body.ConsumerIDList)
	return body.ConsumerIDList, nil
}

func (f *ClientFactory) ComputePullFromWhere(ctx context.Context, mq primitive.MessageQueue, where consumer.ConsumeFromWhere, fromTimestamp int64) (int64, error) {
	conn, err := f.brokerConn(ctx, mq.Topic, mq.BrokerName)
	if err != nil {
		return 0, err
	}

	switch where {
	case consumer.ConsumeFromFirstOffset:
		return f.getMinOffset(ctx, conn, mq)
	case consumer.ConsumeFromTimestamp:
		return f.searchOffsetByTimestamp(ctx, conn, mq, fromTimestamp)
	default: // ConsumeFromLastOffset
		return f.getMaxOffset(ctx, conn, mq)
	}
}

func (f *ClientFactory) getMinOffset(ctx context.Context, conn *remote.Conn, mq primitive.MessageQueue) (int64, error) {
	ext := map[string]string{"topic": mq.Topic, "queueId": itoa(mq.QueueId), "brokerName": mq.BrokerName}
	resp, err := conn.Invoke(ctx, remote.NewRequest(rpc.CodeGetMinOffset, 0, ext, nil))
	if err != nil {
		return 0, rerr.Transport(err, "get min offset for %s", mq.String())
	}
	return atoi(resp.Header.ExtFields["offset"]), nil
}

func (f *ClientFactory) getMaxOffset(ctx context.Context, conn *remote.Conn, mq primitive.MessageQueue) (int64, error) {
	ext := map[string]string{"topic": mq.Topic, "queueId": itoa(mq.QueueId), "brokerName": mq.BrokerName}
	resp, err := conn.Invoke(ctx, remote.NewRequest(rpc.CodeGetMaxOffset, 0, ext, nil))
	if err != nil {
		return 0, rerr.Transport(err, "get max offset for %s", mq.String())
	}
	return atoi(resp.Header.ExtFields["offset"]), nil
}

func (f *ClientFactory) searchOffsetByTimestamp(ctx context.Context, conn *remote.Conn, mq primitive.MessageQueue, ts int64) (int64, error) {
	ext := map[string]string{
		"topic":     mq.Topic,
		"queueId":   itoa(mq.QueueId),
		"timestamp": itoa64(ts),
	}
	resp, err := conn.Invoke(ctx, remote.NewRequest(rpc.CodeSearchOffsetByTimestamp, 0, ext, nil))
	if err != nil {
		return 0, rerr.Transport(err, "search offset by timestamp for %s", mq.String())
	}
	return atoi(resp.Header.ExtFields["offset"]), nil
}

func (f *ClientFactory) PullMessage(ctx context.Context, req consumer.PullMessageRequest) (*consumer.PullResult, error) {
	conn, err := f.brokerConn(ctx, req.Topic, req.BrokerName)
	if err != nil {
		return nil, err
	}

	h := rpc.PullMessageHeader{
		ConsumerGroup:  req.ConsumerGroup,
		Topic:          req.Topic,
		QueueId:        req.QueueId,
		QueueOffset:    req.QueueOffset,
		MaxMsgNums:     req.MaxMsgNums,
		SysFlag:        req.SysFlag,
		CommitOffset:   req.CommitOffset,
		SuspendTimeout: req.SuspendTimeout,
		Subscription:   req.Subscription.SubString,
		SubVersion:     req.Subscription.SubVersion,
	}
	cmd := rpc.NewPullMessageRequest(0, h)

	timeout := time.Duration(req.Timeout) * time.Millisecond
	pullCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := conn.Invoke(pullCtx, cmd)
	if err != nil {
		return &consumer.PullResult{Status: consumer.PullBrokerTimeout}, nil
	}

	parsed := rpc.ParsePullMessageResponse(resp)
	result := &consumer.PullResult{
		NextBeginOffset: parsed.NextBeginOffset,
		MinOffset:       parsed.MinOffset,
		MaxOffset:       parsed.MaxOffset,
	}

	switch resp.Header.Code {
	case rpc.RespSuccess:
		result.Status = consumer.PullFound
		msgs, err := primitive.DecodeMessages(resp.Body, req.Topic, req.BrokerName, req.QueueId)
		if err != nil {
			return nil, rerr.Client("decode pull response body: %v", err)
		}
		result.Messages = msgs
	case rpc.RespPullNotFound:
		result.Status = consumer.PullNoNewMsg
	case rpc.RespPullRetryImmediately:
		result.Status = consumer.PullNoMatchedMsg
	case rpc.RespPullOffsetMoved:
		result.Status = consumer.PullOffsetIllegal
	default:
		result.Status = consumer.PullBrokerTimeout
	}
	return result, nil
}

func (f *ClientFactory) SendMessageBack(ctx context.Context, group string, msg *primitive.MessageExt, delayLevel int32) error {
	conn, err := f.brokerConn(ctx, msg.Topic, msg.BrokerName)
	if err != nil {
		return err
	}
	req := rpc.NewConsumerSendMsgBackRequest(0, group, msg.Topic, msg.MsgId, delayLevel, msg.QueueOffset)
	resp, err := conn.Invoke(ctx, req)
	if err != nil {
		return rerr.Transport(err, "send message back for %s", msg.MsgId)
	}
	if resp.Header.Code != rpc.RespSuccess {
		return rerr.Broker(conn.Addr(), resp.Header.Code, "send message back for %s: %s", msg.MsgId, resp.Header.Remark)
	}
	return nil
}

func (f *ClientFactory) LockBatchMQ(ctx context.Context, group, clientID string, mqs []primitive.MessageQueue) ([]primitive.MessageQueue, error) {
	if len(mqs) == 0 {
		return nil, nil
	}
	conn, err := f.brokerConn(ctx, mqs[0].Topic, mqs[0].BrokerName)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(rpc.LockBatchRequestBody{
		ConsumerGroup: group,
		ClientID:      clientID,
		MQSet:         toWireMQs(mqs),
	})
	if err != nil {
		return nil, rerr.Client("encode lock batch request: %v", err)
	}

	resp, err := conn.Invoke(ctx, rpc.NewLockBatchMQRequest(0, body))
	if err != nil {
		return nil, rerr.Transport(err, "lock batch mq")
	}
	if resp.Header.Code != rpc.RespSuccess {
		return nil, rerr.Broker(conn.Addr(), resp.Header.Code, "lock batch mq: %s", resp.Header.Remark)
	}

	var respBody rpc.LockBatchResponseBody
	if err := json.Unmarshal(resp.Body, &respBody); err != nil {
		return nil, rerr.Client("decode lock batch response: %v", err)
	}
	return fromWireMQs(respBody.LockOKMQSet), nil
}

func (f *ClientFactory) UnlockBatchMQ(ctx context.Context, group, clientID string, mqs []primitive.MessageQueue) {
	if len(mqs) == 0 {
		return
	}
	conn, err := f.brokerConn(ctx, mqs[0].Topic, mqs[0].BrokerName)
	if err != nil {
		f.log.Log(rlog.LevelWarn, "unlock batch mq: no broker connection", "err", err)
		return
	}
	body, err := json.Marshal(rpc.LockBatchRequestBody{ConsumerGroup: group, ClientID: clientID, MQSet: toWireMQs(mqs)})
	if err != nil {
		return
	}
	_ = conn.InvokeOneWay(ctx, rpc.NewUnlockBatchMQRequest(0, body))
}

func (f *ClientFactory) QueryConsumerOffset(ctx context.Context, group string, mq primitive.MessageQueue) (int64, error) {
	conn, err := f.brokerConn(ctx, mq.Topic, mq.BrokerName)
	if err != nil {
		return -1, err
	}
	resp, err := conn.Invoke(ctx, rpc.NewQueryConsumerOffsetRequest(0, group, mq.Topic, mq.QueueId))
	if err != nil {
		return -1, rerr.Transport(err, "query consumer offset for %s", mq.String())
	}
	if resp.Header.Code != rpc.RespSuccess {
		return -1, nil
	}
	return rpc.ParseQueryConsumerOffsetResponse(resp), nil
}

func (f *ClientFactory) UpdateConsumerOffset(ctx context.Context, group string, mq primitive.MessageQueue, offset int64) {
	conn, err := f.brokerConn(ctx, mq.Topic, mq.BrokerName)
	if err != nil {
		f.log.Log(rlog.LevelWarn, "update consumer offset: no broker connection", "err", err)
		return
	}
	_ = conn.InvokeOneWay(ctx, rpc.NewUpdateConsumerOffsetRequest(0, group, mq.Topic, mq.QueueId, offset))
}

func toWireMQs(mqs []primitive.MessageQueue) []rpc.WireMQ {
	out := make([]rpc.WireMQ, len(mqs))
	for i, mq := range mqs {
		out[i] = rpc.WireMQ{Topic: mq.Topic, BrokerName: mq.BrokerName, QueueId: mq.QueueId}
	}
	return out
}

func fromWireMQs(wmqs []rpc.WireMQ) []primitive.MessageQueue {
	out := make([]primitive.MessageQueue, len(wmqs))
	for i, w := range wmqs {
		out[i] = primitive.MessageQueue{Topic: w.Topic, BrokerName: w.BrokerName, QueueId: w.QueueId}
	}
	return out
}

func itoa(v int32) string   { return itoa64(int64(v)) }
func itoa64(v int64) string { return strconv.FormatInt(v, 10) }
