// Package rpcpool implements three named sub-pools of health-tracked
// endpoints (Read, Write, Relay) with hedged reads and broadcast write
// races.
package rpcpool

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/liqcore/liqbot/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Kind names one of the three sub-pools.
type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
	KindRelay Kind = "relay"
)

// Endpoint is one RPC target tracked for health.
type Endpoint struct {
	URL     string
	limiter *rate.Limiter

	mu                sync.Mutex
	consecutiveErrors int
	unhealthyUntil    time.Time
}

func newEndpoint(rawURL string, rps float64) *Endpoint {
	return &Endpoint{URL: rawURL, limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1)}
}

// MaskedURL redacts API keys embedded in a path or query before logging.
func (e *Endpoint) MaskedURL() string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return "invalid-url"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	if len(u.Path) > 12 {
		u.Path = u.Path[:8] + "***"
	}
	q := u.Query()
	for k := range q {
		q.Set(k, "***")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *Endpoint) healthy(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.After(e.unhealthyUntil)
}

func (e *Endpoint) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveErrors = 0
	e.unhealthyUntil = time.Time{}
}

// FailureThreshold is the consecutive-error count after which an endpoint is
// marked unhealthy.
const FailureThreshold = 3

func (e *Endpoint) recordFailure(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveErrors++
	if e.consecutiveErrors >= FailureThreshold {
		backoff := time.Duration(e.consecutiveErrors) * 2 * time.Second
		if backoff > 2*time.Minute {
			backoff = 2 * time.Minute
		}
		e.unhealthyUntil = now.Add(backoff)
	}
}

// Call is the narrow RPC operation every endpoint must support; callers
// supply the actual transport (HTTP JSON-RPC, WS) per endpoint.
type Call func(ctx context.Context, endpoint *Endpoint) (interface{}, error)

// Pool is one of Read/Write/Relay, an ordered list of endpoints ranked
// primary-first.
type Pool struct {
	kind      Kind
	endpoints []*Endpoint
	log       zerolog.Logger
}

// Config configures one named sub-pool.
type Config struct {
	URLs        []string
	RatePerSec  float64
	HedgeDelay  time.Duration
	HedgeMinCalls int
}

// New builds a sub-pool of the given kind over the configured endpoint
// list, in priority order (first is primary).
func New(kind Kind, cfg Config, log zerolog.Logger) *Pool {
	eps := make([]*Endpoint, 0, len(cfg.URLs))
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	for _, u := range cfg.URLs {
		eps = append(eps, newEndpoint(u, rps))
	}
	return &Pool{kind: kind, endpoints: eps, log: log.With().Str("pool", string(kind)).Logger()}
}

func (p *Pool) healthyEndpoints() []*Endpoint {
	now := time.Now()
	out := make([]*Endpoint, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		if e.healthy(now) {
			out = append(out, e)
		}
	}
	return out
}

type raceResult struct {
	idx   int
	value interface{}
	err   error
}

// HedgedRead issues call to the primary endpoint and, after hedgeDelay
// (skipped when batchSize <= hedgeMinCalls), to the secondary as well; the
// first success wins and the loser's result is discarded.
func (p *Pool) HedgedRead(ctx context.Context, batchSize int, hedgeDelay time.Duration, hedgeMinCalls int, call Call) (interface{}, error) {
	eps := p.healthyEndpoints()
	if len(eps) == 0 {
		return nil, domain.New("rpcpool.HedgedRead", domain.KindNoHealthyEndpoint, string(p.kind))
	}

	results := make(chan raceResult, len(eps))
	issue := func(i int) {
		v, err := call(ctx, eps[i])
		if err != nil {
			eps[i].recordFailure(time.Now())
		} else {
			eps[i].recordSuccess()
		}
		results <- raceResult{idx: i, value: v, err: err}
	}

	go issue(0)
	if len(eps) > 1 && batchSize > hedgeMinCalls {
		timer := time.NewTimer(hedgeDelay)
		defer timer.Stop()
		select {
		case r := <-results:
			if r.err == nil {
				return r.value, nil
			}
			go issue(1)
		case <-timer.C:
			go issue(1)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var lastErr error
	attempts := 1
	if len(eps) > 1 {
		attempts = 2
	}
	for i := 0; i < attempts; i++ {
		select {
		case r := <-results:
			if r.err == nil {
				return r.value, nil
			}
			lastErr = r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, domain.Wrap("rpcpool.HedgedRead", domain.KindRpcNetwork, lastErr)
}

// WriteRace broadcasts call to every healthy endpoint concurrently and
// adopts the first accepted response; later responses are not re-submitted.
func (p *Pool) WriteRace(ctx context.Context, call Call) (interface{}, string, error) {
	eps := p.healthyEndpoints()
	if len(eps) == 0 {
		return nil, "", domain.New("rpcpool.WriteRace", domain.KindNoHealthyEndpoint, string(p.kind))
	}

	results := make(chan raceResult, len(eps))
	for i := range eps {
		go func(i int) {
			v, err := call(ctx, eps[i])
			if err != nil {
				eps[i].recordFailure(time.Now())
			} else {
				eps[i].recordSuccess()
			}
			results <- raceResult{idx: i, value: v, err: err}
		}(i)
	}

	var lastErr error
	for i := 0; i < len(eps); i++ {
		select {
		case r := <-results:
			if r.err == nil {
				return r.value, eps[r.idx].MaskedURL(), nil
			}
			lastErr = r.err
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	return nil, "", domain.Wrap("rpcpool.WriteRace", domain.KindRpcNetwork, lastErr)
}

// HealthySnapshot reports the count of currently-healthy endpoints, used by
// Supervisor health checks and metrics.
func (p *Pool) HealthySnapshot() int {
	return len(p.healthyEndpoints())
}
