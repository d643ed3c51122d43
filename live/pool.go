package live

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"sync"

	"github.com/justapithecus/livefeed/lserr"
)

// PoolStrategy picks the next address from a PoolResolver.
type PoolStrategy string

const (
	// PoolRoundRobin walks the addresses in order, wrapping around.
	PoolRoundRobin PoolStrategy = "round_robin"
	// PoolRandom picks uniformly at random on every attempt.
	PoolRandom PoolStrategy = "random"
)

// ParsePoolStrategy parses a strategy name. The empty string selects
// PoolRoundRobin.
func ParsePoolStrategy(s string) (PoolStrategy, error) {
	switch PoolStrategy(s) {
	case "", PoolRoundRobin:
		return PoolRoundRobin, nil
	case PoolRandom:
		return PoolRandom, nil
	default:
		return "", lserr.BadArgument("strategy", fmt.Sprintf("unknown pool strategy %q (want round_robin or random)", s))
	}
}

// PoolResolver spreads connection attempts over several gateway addresses.
// Because the session resolves on every attempt, a reconnect after a
// failure moves on to the next address. Safe for concurrent use.
type PoolResolver struct {
	addrs    []string
	strategy PoolStrategy

	mu   sync.Mutex
	next int
}

// NewPoolResolver validates addrs as host:port pairs and returns a resolver
// over them.
func NewPoolResolver(addrs []string, strategy PoolStrategy) (*PoolResolver, error) {
	if len(addrs) == 0 {
		return nil, lserr.BadArgument("addresses", "must contain at least one address")
	}
	for _, a := range addrs {
		if err := validateAddress(a); err != nil {
			return nil, err
		}
	}
	switch strategy {
	case "":
		strategy = PoolRoundRobin
	case PoolRoundRobin, PoolRandom:
	default:
		return nil, lserr.BadArgument("strategy", fmt.Sprintf("unknown pool strategy %q", strategy))
	}
	return &PoolResolver{addrs: append([]string(nil), addrs...), strategy: strategy}, nil
}

// Resolve implements Resolver.
func (p *PoolResolver) Resolve(_ context.Context) (string, error) {
	if p.strategy == PoolRandom {
		idx, err := randomIndex(len(p.addrs))
		if err != nil {
			return "", err
		}
		return p.addrs[idx], nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	addr := p.addrs[p.next%len(p.addrs)]
	p.next++
	return addr, nil
}

// Addresses returns a copy of the pool.
func (p *PoolResolver) Addresses() []string {
	return append([]string(nil), p.addrs...)
}

func randomIndex(n int) (int, error) {
	if n == 1 {
		return 0, nil
	}
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random selection failed: %w", err)
	}
	return int(idx.Int64()), nil
}

func validateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return lserr.BadArgument("address", fmt.Sprintf("%q is not host:port", addr))
	}
	if host == "" {
		return lserr.BadArgument("address", fmt.Sprintf("%q has no host", addr))
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return lserr.BadArgument("address", fmt.Sprintf("%q: port must be 1-65535", addr))
	}
	return nil
}
