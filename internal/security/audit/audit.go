package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/internal/observability/metrics"
	"github.com/aryan0dhankhar/gatekeeper/internal/reliability/circuitbreaker"
)

// DefaultTimeout bounds how long Emit waits on the sink
const DefaultTimeout = 2 * time.Second

// RequestInfo is the client context stamped onto every event
type RequestInfo struct {
	IPAddress string
	UserAgent string
	RequestID string
}

type requestInfoKey struct{}

// WithRequestInfo attaches client details for events emitted under ctx
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom returns the client details attached to ctx, if any
func RequestInfoFrom(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}

// Emitter writes audit events to a sink. A failing sink never fails the
// caller: the event goes to the fallback log instead.
type Emitter struct {
	sink    domain.AuditRepository
	logger  *slog.Logger
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
	now     func() time.Time
	newID   func() string
}

// Option configures an Emitter
type Option func(*Emitter)

// WithTimeout bounds each sink write
func WithTimeout(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

// WithBreaker replaces the default circuit breaker
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(e *Emitter) { e.breaker = cb }
}

// NewEmitter creates an emitter. A nil sink sends every event to the
// fallback log.
func NewEmitter(sink domain.AuditRepository, logger *slog.Logger, opts ...Option) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		sink:    sink,
		logger:  logger,
		timeout: DefaultTimeout,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.breaker == nil {
		// a breaker passed with WithBreaker keeps its own callback
		e.breaker = circuitbreaker.NewCircuitBreaker(5, 1, 30*time.Second)
		e.breaker.SetStateChangeCallback(func(from, to circuitbreaker.State) {
			logger.Warn("audit sink circuit changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		})
	}
	return e
}

// Emit records an event. actor is nil for anonymous events.
func (e *Emitter) Emit(ctx context.Context, actor *int64, action, description string, metadata map[string]any) {
	info := RequestInfoFrom(ctx)
	if info.RequestID != "" {
		meta := make(map[string]any, len(metadata)+1)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["request_id"] = info.RequestID
		metadata = meta
	}

	event := &domain.AuditEvent{
		ID:          e.newID(),
		Timestamp:   e.now().UTC(),
		ActorUserID: actor,
		Action:      action,
		Description: description,
		IPAddress:   info.IPAddress,
		UserAgent:   info.UserAgent,
		Metadata:    metadata,
	}

	if e.sink == nil {
		e.fallback(event, errors.New("no audit sink configured"))
		return
	}

	err := e.breaker.Call(func() error {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		return e.sink.Append(sinkCtx, event)
	})
	switch {
	case err == nil:
		metrics.ObserveAudit("sink")
	case errors.Is(err, circuitbreaker.ErrOpen):
		metrics.ObserveAudit("short_circuit")
		e.fallback(event, err)
	default:
		metrics.ObserveAudit("fallback")
		e.fallback(event, err)
	}
}

func (e *Emitter) fallback(event *domain.AuditEvent, cause error) {
	attrs := []any{
		slog.String("error", cause.Error()),
		slog.String("audit_id", event.ID),
		slog.Time("timestamp", event.Timestamp),
		slog.String("action", event.Action),
		slog.String("description", event.Description),
		slog.String("ip_address", event.IPAddress),
		slog.String("user_agent", event.UserAgent),
		slog.Any("metadata", event.Metadata),
	}
	if event.ActorUserID != nil {
		attrs = append(attrs, slog.Int64("actor_user_id", *event.ActorUserID))
	}
	e.logger.Error("audit sink unavailable, event logged locally", attrs...)
}
