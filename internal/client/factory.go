// Package client implements consumer.MQClient: the glue between the
// rebalance/pull/consume subsystems and the wire protocol in internal/remote
// and internal/rpc. A single ClientFactory is shared by every consumer and
// producer created under one client ID. It imports package consumer for the
// request/result types its interface methods are shaped around; consumer
// never imports this package, so the dependency is one-way and acyclic.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/twmb/rocketmq-go/consumer"
	"github.com/twmb/rocketmq-go/internal/remote"
	"github.com/twmb/rocketmq-go/internal/rpc"
	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/rerr"
	"github.com/twmb/rocketmq-go/rlog"
)

type state int32

const (
	stateCreated state = iota
	stateRunning
	stateShutdown
	stateStartFailed
)

// ClientFactory owns every broker/name-server connection for one logical
// client (one client ID) and implements consumer.MQClient by translating
// its narrow method set into internal/rpc request builders and
// internal/remote RPCs.
type ClientFactory struct {
	ClientID string
	log      rlog.Logger

	resolver remote.Resolver
	pool     *remote.Pool

	mu    sync.Mutex
	state state

	routeMu sync.RWMutex
	routes  map[string]rpc.TopicRouteData // topic -> route
	brokerAddrs map[string]map[int64]string // brokerName -> (brokerID -> addr)

	consumerMu sync.RWMutex
	consumers  map[string]*registeredConsumer // group -> registration

	stopCh chan struct{}
	wg     sync.WaitGroup

	traceID string
}

// registeredConsumer is one group's heartbeat registration: enough for
// heartbeatLoop to rebuild this group's rpc.ConsumerData entry on every
// tick without holding a lock on the consumer itself.
type registeredConsumer struct {
	model         consumer.MessageModel
	consumeType   consumer.ConsumeType
	subscriptions func() []primitive.SubscriptionData
}

// NewClientFactory constructs a factory for one client identity. instanceName
// is typically the process's IP or hostname and becomes ClientID. The
// factory also mints a trace ID, which it stores but does not attach to log
// lines; the wire opaque ID stays a plain per-connection counter.
func NewClientFactory(instanceName string, resolver remote.Resolver, log rlog.Logger) *ClientFactory {
	if log == nil {
		log = rlog.Nop()
	}
	return &ClientFactory{
		ClientID:    instanceName,
		log:         log,
		resolver:    resolver,
		pool:        remote.NewPool(log),
		routes:      make(map[string]rpc.TopicRouteData),
		brokerAddrs: make(map[string]map[int64]string),
		consumers:   make(map[string]*registeredConsumer),
		stopCh:      make(chan struct{}),
		traceID:     uuid.NewString(),
	}
}

// RegisterConsumer implements consumer.MQClient.
func (f *ClientFactory) RegisterConsumer(group string, model consumer.MessageModel, consumeType consumer.ConsumeType, subscriptions func() []primitive.SubscriptionData) {
	f.consumerMu.Lock()
	defer f.consumerMu.Unlock()
	f.consumers[group] = &registeredConsumer{model: model, consumeType: consumeType, subscriptions: subscriptions}
}

// UnregisterConsumer implements consumer.MQClient.
func (f *ClientFactory) UnregisterConsumer(group string) {
	f.consumerMu.Lock()
	defer f.consumerMu.Unlock()
	delete(f.consumers, group)
}

// Start is idempotent from stateRunning, but a factory that already shut
// down or failed to start cannot be restarted.
func (f *ClientFactory) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case stateRunning:
		return nil
	case stateShutdown:
		return rerr.Client("start: client factory already shut down")
	case stateStartFailed:
		return rerr.Client("start: client factory failed to start previously")
	}

	if _, err := f.resolver.Resolve(ctx); err != nil {
		f.state = stateStartFailed
		return rerr.Fatal(err, "resolve name servers")
	}

	f.state = stateRunning
	f.wg.Add(1)
	go f.routeRefreshLoop()
	f.wg.Add(1)
	go f.heartbeatLoop()
	return nil
}

// Shutdown is idempotent and stops every background loop and connection.
func (f *ClientFactory) Shutdown() {
	f.mu.Lock()
	if f.state != stateRunning {
		f.mu.Unlock()
		return
	}
	f.state = stateShutdown
	f.mu.Unlock()

	close(f.stopCh)
	f.wg.Wait()
	f.pool.CloseAll()
}

func (f *ClientFactory) routeRefreshLoop() {
	defer f.wg.Done()
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			f.refreshAllRoutes()
		case <-f.stopCh:
			return
		}
	}
}

func (f *ClientFactory) refreshAllRoutes() {
	f.routeMu.RLock()
	topics := make([]string, 0, len(f.routes))
	for t := range f.routes {
		topics = append(topics, t)
	}
	f.routeMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, topic := range topics {
		if _, err := f.fetchRoute(ctx, topic); err != nil {
			f.log.Log(rlog.LevelWarn, "periodic route refresh failed", "topic", topic, "err", err)
		}
	}
}

func (f *ClientFactory) heartbeatLoop() {
	defer f.wg.Done()
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			f.sendHeartbeat()
		case <-f.stopCh:
			return
		}
	}
}

// sendHeartbeat builds one rpc.HeartbeatBody from the registered-consumer
// table and fires it, one-way, at every broker address this client
// currently knows about. A failed send to one broker does not stop the
// others; brokers this client hasn't reached yet simply miss this tick and
// pick the client up on the next one.
func (f *ClientFactory) sendHeartbeat() {
	f.consumerMu.RLock()
	if len(f.consumers) == 0 {
		f.consumerMu.RUnlock()
		return
	}
	body := rpc.HeartbeatBody{ClientID: f.ClientID}
	for group, reg := range f.consumers {
		data := rpc.ConsumerData{
			GroupName:    group,
			ConsumeType:  int8(reg.consumeType),
			MessageModel: int8(reg.model),
		}
		for _, sub := range reg.subscriptions() {
			data.SubscriptionData = append(data.SubscriptionData, rpc.SubscriptionDataWire{
				Topic:      sub.Topic,
				SubString:  sub.SubString,
				SubVersion: sub.SubVersion,
			})
		}
		body.ConsumerDatas = append(body.ConsumerDatas, data)
	}
	f.consumerMu.RUnlock()

	payload, err := json.Marshal(body)
	if err != nil {
		f.log.Log(rlog.LevelWarn, "encode heartbeat body failed", "err", err)
		return
	}

	f.routeMu.RLock()
	addrs := make([]string, 0, len(f.brokerAddrs))
	for _, byID := range f.brokerAddrs {
		for _, addr := range byID {
			addrs = append(addrs, addr)
		}
	}
	f.routeMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, addr := range addrs {
		conn, err := f.pool.Get(ctx, addr)
		if err != nil {
			f.log.Log(rlog.LevelWarn, "heartbeat: dial broker failed", "addr", addr, "err", err)
			continue
		}
		req := rpc.NewHeartbeatRequest(0, payload)
		if err := conn.InvokeOneWay(ctx, req); err != nil {
			f.log.Log(rlog.LevelWarn, "heartbeat: send failed", "addr", addr, "err", err)
		}
	}
}

// anyNameServerConn returns a connection to one name server, trying each
// resolved address until one dials successfully.
func (f *ClientFactory) anyNameServerConn(ctx context.Context) (*remote.Conn, error) {
	addrs, err := f.resolver.Resolve(ctx)
	if err != nil {
		return nil, rerr.Transport(err, "resolve name servers")
	}
	var lastErr error
	for _, addr := range addrs {
		c, err := f.pool.Get(ctx, addr)
		if err == nil {
			return c, nil
		}
		lastErr = err
	}
	return nil, rerr.Transport(lastErr, "no reachable name server among %d", len(addrs))
}

func (f *ClientFactory) fetchRoute(ctx context.Context, topic string) (rpc.TopicRouteData, error) {
	conn, err := f.anyNameServerConn(ctx)
	if err != nil {
		return rpc.TopicRouteData{}, err
	}

	req := rpc.NewGetRouteInfoRequest(0, topic)
	resp, err := conn.Invoke(ctx, req)
	if err != nil {
		return rpc.TopicRouteData{}, rerr.Transport(err, "get route info for %s", topic)
	}
	if resp.Header.Code != rpc.RespSuccess {
		return rpc.TopicRouteData{}, rerr.Broker("nameserver", resp.Header.Code, "get route info for %s: %s", topic, resp.Header.Remark)
	}

	var route rpc.TopicRouteData
	if err := json.Unmarshal(resp.Body, &route); err != nil {
		return rpc.TopicRouteData{}, rerr.Client("decode route info for %s: %v", topic, err)
	}

	f.routeMu.Lock()
	f.routes[topic] = route
	for _, bd := range route.BrokerDatas {
		f.brokerAddrs[bd.BrokerName] = bd.BrokerAddrs
	}
	f.routeMu.Unlock()
	return route, nil
}

// masterAddr returns brokerName's master (brokerID 0) address, fetching its
// route if unknown.
func (f *ClientFactory) masterAddr(ctx context.Context, topic, brokerName string) (string, error) {
	f.routeMu.RLock()
	addrs, ok := f.brokerAddrs[brokerName]
	f.routeMu.RUnlock()
	if ok {
		if addr, ok := addrs[0]; ok {
			return addr, nil
		}
	}
	if _, err := f.fetchRoute(ctx, topic); err != nil {
		return "", err
	}
	f.routeMu.RLock()
	defer f.routeMu.RUnlock()
	addrs = f.brokerAddrs[brokerName]
	if addr, ok := addrs[0]; ok {
		return addr, nil
	}
	return "", rerr.Client("no known master address for broker %s", brokerName)
}

func (f *ClientFactory) brokerConn(ctx context.Context, topic, brokerName string) (*remote.Conn, error) {
	addr, err := f.masterAddr(ctx, topic, brokerName)
	if err != nil {
		return nil, err
	}
	return f.pool.Get(ctx, addr)
}
