package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultCallTimeout bounds one provider attempt.
const DefaultCallTimeout = 30 * time.Second

// ErrUnsupported is returned by adapters for capabilities they cannot
// serve. It counts as a normal attempt failure during execution.
var ErrUnsupported = errors.New("provider: capability not supported")

// Attempt records one provider try within a chain execution. Attempts are
// transient: they exist for the current call and its diagnostics only.
type Attempt struct {
	Provider string
	OK       bool
	Latency  time.Duration
	Reason   string
}

// ExhaustedError reports that every provider in a capability chain failed.
// It carries the attempt records for diagnostics.
type ExhaustedError struct {
	Capability Capability
	Attempts   []Attempt
}

func (e *ExhaustedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "provider: all providers exhausted for %s (%d attempts", e.Capability, len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, "; %s: %s", a.Provider, a.Reason)
	}
	sb.WriteString(")")
	return sb.String()
}

// Router executes capability calls against immutable per-capability chains.
// It is safe for concurrent use.
type Router struct {
	chains  Chains
	timeout time.Duration
	logger  *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithCallTimeout sets the per-provider-call timeout.
func WithCallTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.timeout = d }
}

// WithLogger sets the router's logger.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a router over pre-built chains.
func NewRouter(chains Chains, opts ...RouterOption) *Router {
	r := &Router{
		chains:  chains,
		timeout: DefaultCallTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the ordered provider chain for a capability.
// The returned slice must not be modified.
func (r *Router) Resolve(cap Capability) []Provider {
	return r.chains[cap]
}

// Execute walks the capability's chain in order. Each provider gets one
// attempt under the per-call timeout; an error, timeout, or unreachable
// endpoint advances to the next provider. The first success wins. The
// returned attempts record every provider tried, in order. When the whole
// chain fails the returned error is an *ExhaustedError carrying the same
// attempts.
func (r *Router) Execute(ctx context.Context, cap Capability, req *Request) (*Response, []Attempt, error) {
	chain := r.chains[cap]
	if len(chain) == 0 {
		return nil, nil, &ExhaustedError{Capability: cap}
	}

	attempts := make([]Attempt, 0, len(chain))
	for _, p := range chain {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Provider: p.Name(), Reason: err.Error()})
			break
		}

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		resp, err := p.Call(callCtx, cap, req)
		cancel()
		latency := time.Since(start)

		if err != nil {
			attempts = append(attempts, Attempt{
				Provider: p.Name(),
				Latency:  latency,
				Reason:   err.Error(),
			})
			r.logger.Warn("provider attempt failed",
				"capability", cap.String(),
				"provider", p.Name(),
				"latency", latency,
				"error", err)
			continue
		}

		attempts = append(attempts, Attempt{Provider: p.Name(), OK: true, Latency: latency})
		r.logger.Debug("provider attempt succeeded",
			"capability", cap.String(),
			"provider", p.Name(),
			"latency", latency,
			"fallbacks", len(attempts)-1)
		return resp, attempts, nil
	}

	return nil, attempts, &ExhaustedError{Capability: cap, Attempts: attempts}
}
