package remote

import (
	"context"
	"sync"

	"github.com/twmb/rocketmq-go/rlog"
)

// Pool lazily dials and caches one Conn per broker/name-server address,
// redialing on demand once a cached Conn has died. This mirrors the
// per-broker connection caching in franz-go's Client (broker map keyed by
// node ID), keyed here by address since RocketMQ addresses brokers and name
// servers directly rather than through a node-ID indirection.
type Pool struct {
	log rlog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewPool(log rlog.Logger) *Pool {
	if log == nil {
		log = rlog.Nop()
	}
	return &Pool{log: log, conns: make(map[string]*Conn)}
}

// Get returns a live connection to addr, dialing (or re-dialing) as needed.
func (p *Pool) Get(ctx context.Context, addr string) (*Conn, error) {
	p.mu.Lock()
	c, ok := p.conns[addr]
	if ok && !c.IsDead() {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := Dial(ctx, addr, p.log)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.conns[addr] = c
	p.mu.Unlock()
	return c, nil
}

// CloseAll tears down every cached connection.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, c := range p.conns {
		c.Close()
		delete(p.conns, addr)
	}
}
