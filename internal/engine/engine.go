package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/namegraph/internal/domaingraph"
	"github.com/roach88/namegraph/internal/entity"
	"github.com/roach88/namegraph/internal/heal"
	"github.com/roach88/namegraph/internal/ident"
	"github.com/roach88/namegraph/internal/manifest"
	"github.com/roach88/namegraph/internal/store"
	"github.com/roach88/namegraph/internal/tracing"
)

// Outcome is what Process did with an event.
type Outcome string

const (
	// OutcomeApplied means a handler ran and its writes committed.
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored means no handler accepts the event. Only the cursor
	// moved.
	OutcomeIgnored Outcome = "ignored"
)

// Stats counts processed events.
type Stats struct {
	Applied int64 `json:"applied"`
	Ignored int64 `json:"ignored"`
	Failed  int64 `json:"failed"`
}

// Engine is the single-writer event processor.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Process(): must not run concurrently with Run or itself
type Engine struct {
	db     *store.DB
	router *Router
	healer heal.Healer
	logger *slog.Logger
	tracer trace.Tracer
	runID  string
	queue  *eventQueue

	newRunID func() string

	applied atomic.Int64
	ignored atomic.Int64
	failed  atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTracer sets the tracer. Default: the global provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithRunIDGenerator sets how the run id is made. Default: NewRunID.
func WithRunIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		e.newRunID = gen
	}
}

// New returns an Engine writing to db and routing by m. healer may be nil,
// in which case no label is ever healed.
func New(db *store.DB, m *manifest.Manifest, healer heal.Healer, opts ...Option) (*Engine, error) {
	router, err := NewRouter(m)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	if healer == nil {
		healer = heal.None
	}
	e := &Engine{
		db:     db,
		router: router,
		healer: healer,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer("namegraph/engine"),
		queue:  newEventQueue(),

		newRunID: NewRunID,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runID = e.newRunID()
	e.logger = e.logger.With("run_id", e.runID)
	return e, nil
}

// RunID identifies this engine's run in logs and spans.
func (e *Engine) RunID() string {
	return e.runID
}

// Stats returns the event counters.
func (e *Engine) Stats() Stats {
	return Stats{Applied: e.applied.Load(), Ignored: e.ignored.Load(), Failed: e.failed.Load()}
}

// Init inserts the root domain. It is idempotent.
func (e *Engine) Init(ctx context.Context) error {
	return e.db.Atomic(ctx, func(s store.Store) error {
		return domaingraph.New(s, e.healer, e.logger).EnsureRoot(ctx)
	})
}

// Process applies one event. All of its writes, and the chain cursor,
// commit together or not at all. A failure is returned as *ProcessError.
func (e *Engine) Process(ctx context.Context, ev Event) (Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String(tracing.AttrRunID, e.runID),
			attribute.Int64(tracing.AttrChainID, int64(ev.ChainID)),
			attribute.Int64(tracing.AttrBlockNumber, int64(ev.BlockNumber)),
			attribute.Int(tracing.AttrLogIndex, int(ev.LogIndex)),
			attribute.String(tracing.AttrContract, ident.AddressID(ev.Contract)),
			attribute.String(tracing.AttrEventName, ev.Name),
		),
	)
	defer span.End()

	var outcome Outcome
	err := e.db.Atomic(ctx, func(s store.Store) error {
		var err error
		outcome, err = e.dispatch(ctx, s, ev)
		if err != nil {
			return err
		}
		return advanceCursor(ctx, s, ev)
	})
	if err != nil {
		e.failed.Add(1)
		pe := newProcessError(fmt.Sprintf("%d-%d-%d", ev.ChainID, ev.BlockNumber, ev.LogIndex), ev.Name, err)
		span.RecordError(pe)
		span.SetAttributes(attribute.String(tracing.AttrErrorCode, string(pe.Code)))
		span.SetStatus(codes.Error, pe.Error())
		e.logger.Error("event failed",
			"chain", ev.ChainID,
			"block", ev.BlockNumber,
			"log_index", ev.LogIndex,
			"contract", ident.AddressID(ev.Contract),
			"event", ev.Name,
			"code", pe.Code,
			"error", err,
		)
		return "", pe
	}

	switch outcome {
	case OutcomeApplied:
		e.applied.Add(1)
	default:
		e.ignored.Add(1)
	}
	span.SetAttributes(attribute.String(tracing.AttrOutcome, string(outcome)))
	span.SetStatus(codes.Ok, "")
	e.logger.Debug("event processed",
		"chain", ev.ChainID,
		"block", ev.BlockNumber,
		"log_index", ev.LogIndex,
		"event", ev.Name,
		"outcome", outcome,
	)
	return outcome, nil
}

// advanceCursor moves the chain cursor to ev unless ev is a replay of an
// event at or before it.
func advanceCursor(ctx context.Context, s store.Store, ev Event) error {
	id := store.CursorID(ev.ChainID)
	cur, found, err := store.Get[entity.Cursor](ctx, s, id)
	if err != nil {
		return err
	}
	if found && cur.Before(ev.BlockNumber, uint64(ev.LogIndex)) {
		return nil
	}
	row := entity.Cursor{ID: id, ChainID: ev.ChainID, BlockNumber: ev.BlockNumber, LogIndex: uint64(ev.LogIndex)}
	return s.UpsertMerge(ctx, row, entity.Patch{
		entity.FieldBlockNumber: ev.BlockNumber,
		entity.FieldLogIndex:    uint64(ev.LogIndex),
	})
}

// Enqueue submits an event for processing by the Run loop.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Run processes queued events in FIFO order until the context is cancelled
// or Stop has been called and the queue is drained.
//
// The first failing event stops the loop and its error is returned; the
// events behind it stay queued. The engine does not retry. Redelivery is
// up to the caller.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		ev, ok := e.queue.TryDequeue()
		if ok {
			if _, err := e.Process(ctx, ev); err != nil {
				e.logger.Error("engine stopping: event failed", "pending", e.queue.Len())
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Drained() {
				e.logger.Info("engine stopping: queue closed", "applied", e.applied.Load(), "ignored", e.ignored.Load())
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once the queued events are processed.
func (e *Engine) Stop() {
	e.queue.Close()
}
