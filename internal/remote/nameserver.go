package remote

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/twmb/rocketmq-go/rerr"
)

// Resolver returns the current set of name-server addresses.
type Resolver interface {
	Resolve(ctx context.Context) ([]string, error)
}

// StaticResolver returns a fixed address list, parsed from a semicolon- or
// comma-separated string, for the common case of a caller-supplied
// name-server list (host:port[;host:port] or host:port[,host:port]).
type StaticResolver struct {
	addrs []string
}

func NewStaticResolver(nsAddr string) *StaticResolver {
	var addrs []string
	for _, a := range strings.FieldsFunc(nsAddr, func(r rune) bool { return r == ';' || r == ',' }) {
		a = strings.TrimSpace(a)
		if a != "" {
			addrs = append(addrs, a)
		}
	}
	return &StaticResolver{addrs: addrs}
}

func (r *StaticResolver) Resolve(ctx context.Context) ([]string, error) {
	if len(r.addrs) == 0 {
		return nil, rerr.Client("static resolver: no name server addresses configured")
	}
	return r.addrs, nil
}

// DomainResolver polls an HTTP endpoint (the well-known name-server
// discovery address) that returns a newline-separated address list, and
// caches the result between polls so a transient fetch failure doesn't
// immediately strand every broker lookup.
type DomainResolver struct {
	endpoint string
	client   *http.Client

	mu       sync.Mutex
	cached   []string
	cachedAt time.Time
	ttl      time.Duration
}

func NewDomainResolver(endpoint string) *DomainResolver {
	return &DomainResolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 3 * time.Second},
		ttl:      30 * time.Second,
	}
}

func (r *DomainResolver) Resolve(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	if len(r.cached) > 0 && time.Since(r.cachedAt) < r.ttl {
		addrs := r.cached
		r.mu.Unlock()
		return addrs, nil
	}
	r.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return nil, rerr.Transport(err, "build name server discovery request")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return r.fallbackOrErr(rerr.Transport(err, "fetch name server list from %s", r.endpoint))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return r.fallbackOrErr(rerr.Transport(nil, "name server discovery returned status %d", resp.StatusCode))
	}

	var addrs []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			addrs = append(addrs, line)
		}
	}
	if len(addrs) == 0 {
		return r.fallbackOrErr(rerr.Transport(nil, "name server discovery at %s returned no addresses", r.endpoint))
	}

	r.mu.Lock()
	r.cached = addrs
	r.cachedAt = time.Now()
	r.mu.Unlock()
	return addrs, nil
}

// fallbackOrErr returns the last-known-good address list if one exists,
// otherwise propagates cause: a stale name-server list beats none.
func (r *DomainResolver) fallbackOrErr(cause error) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cached) > 0 {
		return r.cached, nil
	}
	return nil, cause
}
