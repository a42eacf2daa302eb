package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Middleware wraps outbound calls to one named resource with the full
// protection stack, composed in a fixed order:
//
//	timeout → circuit breaker → retry → raw operation
//
// The timeout can abort an in-flight retry loop, and an open circuit
// rejects before any retry or timeout bookkeeping happens. All middleware
// instances created for the same resource name share one breaker state
// machine through the Registry.
//
// Three callable shapes are supported with identical semantics:
//
//	m.Do(ctx, op)            // blocking, no result
//	Call[T](m, ctx, op)      // single result
//	Stream[T](m, ctx, a, op) // chunk sequence (no retry; breaker settles on drain)
type Middleware struct {
	resource string
	timeout  time.Duration
	policy   Policy
	breaker  *Breaker
	logger   *zap.Logger
}

// Option overrides preset fields for one call site.
type Option func(*Preset)

// WithTimeout overrides the per-call time budget.
func WithTimeout(d time.Duration) Option {
	return func(p *Preset) { p.Timeout = d }
}

// WithPolicy replaces the whole retry policy.
func WithPolicy(policy Policy) Option {
	return func(p *Preset) { p.Policy = policy }
}

// WithMaxAttempts overrides only the attempt count.
func WithMaxAttempts(n int) Option {
	return func(p *Preset) { p.Policy.MaxAttempts = n }
}

// WithBreakerConfig overrides the breaker configuration. Only effective
// for the call site that first creates the resource's breaker; later
// instances share the existing state machine.
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(p *Preset) { p.Breaker = cfg }
}

// New builds a Middleware for the named resource, starting from the
// resource's preset and applying opts on top.
func New(reg *Registry, resource string, opts ...Option) *Middleware {
	preset := PresetFor(resource)
	for _, opt := range opts {
		opt(&preset)
	}
	return &Middleware{
		resource: resource,
		timeout:  preset.Timeout,
		policy:   preset.Policy,
		breaker:  reg.Get(resource, preset.Breaker),
		logger:   reg.logger.With(zap.String("resource", resource)),
	}
}

// Resource returns the protected resource name.
func (m *Middleware) Resource() string {
	return m.resource
}

// Do wraps a blocking operation.
func (m *Middleware) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := m.execute(ctx, func(ctx context.Context) (any, error) {
		return nil, op(ctx)
	})
	return err
}

// Call wraps a single-result operation. A generic free function for the
// same reason the breaker exposes typed helpers: methods cannot carry
// type parameters.
func Call[T any](m *Middleware, ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	result, err := m.execute(ctx, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// execute is the shared attempt primitive behind every shape: it applies
// the deadline, consults the breaker once, runs the retry loop inside,
// and records a single outcome on the breaker.
func (m *Middleware) execute(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.breaker.Allow(); err != nil {
		return nil, err
	}

	result, err := doRetry(ctx, m.policy, m.logger, op)
	m.breaker.Record(err)
	if err != nil {
		return nil, m.translate(ctx, err)
	}
	return result, nil
}

// translate maps a trip of this middleware's own deadline into a
// TimeoutError carrying the resource name. Errors from the operation's
// own inner timeouts (our context still alive) and cooperative parent
// cancellation pass through untouched.
func (m *Middleware) translate(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Resource: m.resource, Limit: m.timeout}
	}
	return err
}

// StreamAdapter teaches the middleware how a chunk type carries errors,
// so the streaming shape can stay generic without reflection.
type StreamAdapter[T any] struct {
	// ChunkErr reports a terminal error carried inside a chunk, if any.
	// Nil means chunks never carry errors.
	ChunkErr func(chunk T) error

	// ErrChunk builds a terminal chunk carrying err, emitted when the
	// stream is cut by timeout or cancellation. Nil disables synthesis:
	// the stream then just closes.
	ErrChunk func(err error) T
}

// Stream wraps a chunk-producing operation. The streaming shape never
// retries; the timeout is measured from stream start and re-checked on
// every chunk; breaker state settles once on the final outcome — a fully
// drained stream counts as success, anything else as failure.
func Stream[T any](m *Middleware, ctx context.Context, adapter StreamAdapter[T], op func(context.Context) (<-chan T, error)) (<-chan T, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)

	if err := m.breaker.Allow(); err != nil {
		cancel()
		return nil, err
	}

	src, err := op(ctx)
	if err != nil {
		m.breaker.Record(err)
		cancel()
		return nil, m.translate(ctx, err)
	}

	// Buffer one chunk so a terminal error chunk written right before
	// close is still observable after the pump goroutine exits.
	out := make(chan T, 1)

	go func() {
		var streamErr error
		defer func() {
			m.breaker.Record(streamErr)
			close(out)
			cancel()
		}()

		for {
			select {
			case <-ctx.Done():
				streamErr = m.translate(ctx, ctx.Err())
				if adapter.ErrChunk != nil {
					sendTerminal(out, adapter.ErrChunk(streamErr))
				}
				return

			case chunk, ok := <-src:
				if !ok {
					return
				}
				if adapter.ChunkErr != nil {
					if cerr := adapter.ChunkErr(chunk); cerr != nil {
						streamErr = cerr
					}
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					streamErr = m.translate(ctx, ctx.Err())
					if adapter.ErrChunk != nil {
						sendTerminal(out, adapter.ErrChunk(streamErr))
					}
					return
				}
			}
		}
	}()

	return out, nil
}

// sendTerminal delivers the synthesized terminal chunk. The one-slot
// buffer may still hold an undelivered data chunk; it is evicted in
// favour of the terminal chunk so the error is always observable. The
// pump is the only writer, so the retried send cannot block.
func sendTerminal[T any](out chan T, chunk T) {
	select {
	case out <- chunk:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- chunk:
	default:
	}
}
