// Package worker runs the background ingestion fiber: it drains a bounded
// message channel, accumulates messages into batches, and dispatches
// completed batches to the transport layer.
//
// The shape is grounded on the teacher's background-goroutine-with-select
// loops (internal/middleware.RateLimiter.cleanup,
// internal/admin.SessionManager's cleanup goroutine): select on a ticker-
// or-signal channel, do bounded work, loop until told to stop.
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/matt-riley/posthog-go/internal/ingest"
	"github.com/matt-riley/posthog-go/internal/transport"
)

// Signal is a control-channel message understood by Worker.
type Signal int

const (
	// Flush requests that any queued messages be batched and sent, without
	// stopping the worker loop.
	Flush Signal = iota
	// Shutdown requests a final flush followed by loop termination.
	Shutdown
)

// ErrorReporter is invoked whenever a message is dropped or a batch send
// fails (after retries, or at once for a non-retryable response).
type ErrorReporter func(status int, message string)

// MetricsRecorder is the subset of internal/metrics.Metrics the Worker
// reports into.
type MetricsRecorder interface {
	SetQueueDepth(n int)
	IncMessagesDropped(reason string)
	IncBatchesSent()
}

type noopMetrics struct{}

func (noopMetrics) SetQueueDepth(int)          {}
func (noopMetrics) IncMessagesDropped(string)  {}
func (noopMetrics) IncBatchesSent()            {}

// Config configures a Worker.
type Config struct {
	APIKey    string
	BatchSize int
	Transport *transport.Transport
	OnError   ErrorReporter
	OnDequeue func() // invoked once per message received, before batching
	Logger    *slog.Logger
	Metrics   MetricsRecorder
}

// Worker consumes Messages from a channel and Signals from a control
// channel, batches messages, and dispatches completed batches over
// Transport. It must be run via Run in its own goroutine.
type Worker struct {
	cfg   Config
	batch *ingest.Batch
	done  chan struct{}
	busy  atomic.Bool
}

// New creates a Worker. Call Run to start its loop.
func New(cfg Config) *Worker {
	if cfg.OnError == nil {
		cfg.OnError = func(int, string) {}
	}
	if cfg.OnDequeue == nil {
		cfg.OnDequeue = func() {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Worker{
		cfg:   cfg,
		batch: ingest.NewBatch(cfg.APIKey, cfg.BatchSize),
		done:  make(chan struct{}),
	}
}

// Done returns a channel that is closed once the Worker's loop exits.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Busy reports whether the Worker is currently mid-flush (a batch send is
// in flight, possibly retrying). Flush must not return while this is true,
// per spec.md §4.7.
func (w *Worker) Busy() bool { return w.busy.Load() }

// Run drives the Worker loop until a Shutdown signal is received or the
// messages channel is closed. ctx is passed to Transport calls; cancelling
// it does not end the loop. It must be called in its own goroutine; Done()
// signals completion.
func (w *Worker) Run(ctx context.Context, messages <-chan ingest.Message, control <-chan Signal) {
	defer close(w.done)

	for {
		select {
		case sig := <-control:
			switch sig {
			case Flush:
				w.drainAndFlush(ctx, messages)
			case Shutdown:
				w.drainAndFlush(ctx, messages)
				return
			}
		case msg, ok := <-messages:
			if !ok {
				w.flushBatch(ctx)
				return
			}
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg ingest.Message) {
	w.cfg.OnDequeue()

	outcome, err := w.batch.Add(msg)
	switch outcome {
	case ingest.Added:
		if w.batch.Full() {
			w.flushBatch(ctx)
		}
	case ingest.BatchFull:
		w.flushBatch(ctx)
		outcome2, err2 := w.batch.Add(msg)
		if outcome2 == ingest.MessageTooLarge {
			w.reportTooLarge(msg, err2)
		}
	case ingest.MessageTooLarge:
		w.reportTooLarge(msg, err)
	}
}

func (w *Worker) reportTooLarge(msg ingest.Message, err error) {
	w.cfg.Metrics.IncMessagesDropped("message_too_large")
	detail := "message too large"
	if err != nil {
		detail = err.Error()
	}
	w.cfg.Logger.Warn("posthog: dropping oversized message", "kind", msg.Kind, "error", detail)
	w.cfg.OnError(-1, "message too large: "+detail)
}

// drainAndFlush non-blockingly drains any messages already queued, batches
// them, then flushes — the behavior spec.md §4.6 calls for on Flush and
// Shutdown.
func (w *Worker) drainAndFlush(ctx context.Context, messages <-chan ingest.Message) {
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				w.flushBatch(ctx)
				return
			}
			w.handleMessage(ctx, msg)
		default:
			w.flushBatch(ctx)
			return
		}
	}
}

func (w *Worker) flushBatch(ctx context.Context) {
	if w.batch.Empty() {
		return
	}
	payload, err := w.batch.Encode()
	if err != nil {
		w.cfg.Logger.Error("posthog: failed to encode batch", "error", err)
		w.batch.Clear()
		return
	}

	w.busy.Store(true)
	defer w.busy.Store(false)

	resp := w.cfg.Transport.Post(ctx, "/batch", payload)
	if !resp.Success() {
		w.cfg.Logger.Warn("posthog: batch send failed", "status", resp.Status, "error", resp.ErrorMessage())
		w.cfg.OnError(resp.Status, resp.ErrorMessage())
	} else {
		w.cfg.Metrics.IncBatchesSent()
	}
	w.batch.Clear()
}
