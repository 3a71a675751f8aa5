package remote

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/rocketmq-go/rerr"
	"github.com/twmb/rocketmq-go/rlog"
)

// ErrConnDead is returned to any request still pending when a Conn is torn
// down, and to any new request submitted after that point.
var ErrConnDead = rerr.Transport(nil, "connection is dead")

type promisedCmd struct {
	ctx     context.Context
	cmd     *Command
	promise func(*Command, error) // nil for one-way
}

// Conn manages one TCP connection to a single broker or name server,
// serializing writes through a request channel and fanning in responses by
// opaque (correlation) ID -- the same shape as franz-go's broker.reqs +
// brokerCxn.waitResp, collapsed onto a single connection per address since
// this protocol has no produce/fetch/normal connection split.
type Conn struct {
	addr string
	log  rlog.Logger

	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer

	reqs chan promisedCmd
	dead int32

	opaque int32

	pendingMu sync.Mutex
	pending   map[int32]func(*Command, error)

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens addr and starts the connection's write and read loops.
func Dial(ctx context.Context, addr string, log rlog.Logger) (*Conn, error) {
	if log == nil {
		log = rlog.Nop()
	}
	d := net.Dialer{Timeout: 5 * time.Second}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, rerr.Transport(err, "dial %s", addr)
	}

	c := &Conn{
		addr:    addr,
		log:     log,
		conn:    nc,
		w:       bufio.NewWriter(nc),
		reqs:    make(chan promisedCmd, 16),
		pending: make(map[int32]func(*Command, error)),
		closed:  make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func (c *Conn) Addr() string { return c.addr }

// nextOpaque returns the next correlation ID for this connection.
func (c *Conn) nextOpaque() int32 {
	return atomic.AddInt32(&c.opaque, 1)
}

// Invoke sends cmd and blocks until the correlated response arrives, ctx is
// canceled, or the connection dies.
func (c *Conn) Invoke(ctx context.Context, cmd *Command) (*Command, error) {
	cmd.Header.Opaque = c.nextOpaque()

	type result struct {
		resp *Command
		err  error
	}
	done := make(chan result, 1)
	c.submit(ctx, cmd, func(resp *Command, err error) {
		done <- result{resp, err}
	})

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		c.forget(cmd.Header.Opaque)
		return nil, ctx.Err()
	}
}

// InvokeOneWay sends cmd without waiting for a response.
func (c *Conn) InvokeOneWay(ctx context.Context, cmd *Command) error {
	cmd.Header.Opaque = c.nextOpaque()
	cmd.Header.MarkOneWay()

	errCh := make(chan error, 1)
	c.submit(ctx, cmd, func(_ *Command, err error) { errCh <- err })
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) submit(ctx context.Context, cmd *Command, promise func(*Command, error)) {
	if atomic.LoadInt32(&c.dead) == 1 {
		promise(nil, ErrConnDead)
		return
	}
	if !cmd.Header.IsOneWay() {
		c.pendingMu.Lock()
		c.pending[cmd.Header.Opaque] = promise
		c.pendingMu.Unlock()
	}
	select {
	case c.reqs <- promisedCmd{ctx: ctx, cmd: cmd, promise: promise}:
	case <-c.closed:
		c.forget(cmd.Header.Opaque)
		promise(nil, ErrConnDead)
	}
}

func (c *Conn) forget(opaque int32) {
	c.pendingMu.Lock()
	delete(c.pending, opaque)
	c.pendingMu.Unlock()
}

func (c *Conn) writeLoop() {
	for {
		var pc promisedCmd
		select {
		case pc = <-c.reqs:
		case <-c.closed:
			return
		}

		select {
		case <-pc.ctx.Done():
			c.forget(pc.cmd.Header.Opaque)
			if pc.cmd.Header.IsOneWay() {
				pc.promise(nil, pc.ctx.Err())
			}
			continue
		default:
		}

		buf, err := Encode(pc.cmd)
		if err != nil {
			c.forget(pc.cmd.Header.Opaque)
			pc.promise(nil, err)
			continue
		}

		c.mu.Lock()
		_, werr := c.w.Write(buf)
		if werr == nil {
			werr = c.w.Flush()
		}
		c.mu.Unlock()

		if werr != nil {
			c.die(rerr.Transport(werr, "write to %s", c.addr))
			return
		}
		if pc.cmd.Header.IsOneWay() {
			c.forget(pc.cmd.Header.Opaque)
			pc.promise(nil, nil)
		}
	}
}

func (c *Conn) readLoop() {
	for {
		cmd, err := Decode(c.conn)
		if err != nil {
			c.die(rerr.Transport(err, "read from %s", c.addr))
			return
		}
		c.pendingMu.Lock()
		promise, ok := c.pending[cmd.Header.Opaque]
		if ok {
			delete(c.pending, cmd.Header.Opaque)
		}
		c.pendingMu.Unlock()
		if !ok {
			c.log.Log(rlog.LevelWarn, "remote: response for unknown opaque", "addr", c.addr, "opaque", cmd.Header.Opaque)
			continue
		}
		promise(cmd, nil)
	}
}

// die tears the connection down, failing every outstanding request.
func (c *Conn) die(cause error) {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.dead, 1)
		close(c.closed)
		c.conn.Close()

		c.pendingMu.Lock()
		pending := c.pending
		c.pending = make(map[int32]func(*Command, error))
		c.pendingMu.Unlock()

		for _, promise := range pending {
			promise(nil, ErrConnDead)
		}
		if cause != nil {
			c.log.Log(rlog.LevelWarn, "remote: connection died", "addr", c.addr, "err", cause)
		}
	})
}

func (c *Conn) Close() error {
	c.die(nil)
	return nil
}

func (c *Conn) IsDead() bool { return atomic.LoadInt32(&c.dead) == 1 }
