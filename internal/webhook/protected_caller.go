package webhook

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/netpulse/netpulse/internal/model"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

// Deliverer is what the breaker wraps; *Caller satisfies it.

type Deliverer interface {
	Call(ctx context.Context, hook model.WebHook, payload any) error
}

type ProtectedCallerConfig struct {
	FailureThreshold int           // consecutive failures to open circuit
	Cooldown         time.Duration // how long to stay open before half-open
	HalfOpenMaxCalls int           // allow N trial calls in half-open
}

// ProtectedCaller fail-fasts webhook delivery when the receiver keeps
// erroring, so a dead endpoint cannot hold a worker's callback budget
// hostage on every job.

type ProtectedCaller struct {
	inner Deliverer
	cfg   ProtectedCallerConfig
	mu    sync.Mutex

	state string // "closed" | "open" | "half_open"

	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

func NewProtectedCaller(inner Deliverer, cfg ProtectedCallerConfig) *ProtectedCaller {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	return &ProtectedCaller{
		inner: inner,
		cfg:   cfg,
		state: "closed",
	}
}

func (p *ProtectedCaller) Call(ctx context.Context, hook model.WebHook, payload any) error {
	if !p.allowRequest() {
		return ErrCircuitOpen
	}

	err := p.inner.Call(ctx, hook, payload)
	p.afterRequest(err)

	return err
}

func (p *ProtectedCaller) allowRequest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case "closed":
		return true
	case "open":
		if time.Since(p.openedAt) >= p.cfg.Cooldown {
			p.state = "half_open"
			p.halfOpenInFlight = 0
			return true
		}
		return false
	case "half_open":
		if p.halfOpenInFlight >= p.cfg.HalfOpenMaxCalls {
			return false
		}
		p.halfOpenInFlight++
		return true
	default:
		return true
	}
}

func (p *ProtectedCaller) afterRequest(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == "half_open" && p.halfOpenInFlight > 0 {
		p.halfOpenInFlight--
	}

	if err == nil {
		p.consecutiveFailures = 0
		p.state = "closed"
		return
	}

	p.consecutiveFailures++

	if p.state == "half_open" {
		p.state = "open"
		p.openedAt = time.Now()
		return
	}

	if p.consecutiveFailures >= p.cfg.FailureThreshold {
		p.state = "open"
		p.openedAt = time.Now()
	}
}
