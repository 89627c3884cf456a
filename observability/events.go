package observability

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"vbmsd/core/events"
	"vbmsd/core/types"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking emitted lifecycle events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vbms",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Lifecycle events emitted by the ledger and claim engines.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.emitted.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// attributed is satisfied by events that can render themselves as a flat
// attribute map for logging.
type attributed interface {
	Event() *types.Event
}

// LoggingEmitter counts every emitted event and mirrors it to the structured
// log before forwarding to the wrapped emitter.
type LoggingEmitter struct {
	logger *slog.Logger
	next   events.Emitter
}

// NewLoggingEmitter wraps next; a nil next discards events after recording.
func NewLoggingEmitter(logger *slog.Logger, next events.Emitter) *LoggingEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &LoggingEmitter{logger: logger, next: next}
}

// Emit implements events.Emitter.
func (e *LoggingEmitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	Events().RecordEvent(evt.EventType())
	if payload, ok := evt.(attributed); ok {
		rendered := payload.Event()
		args := make([]any, 0, len(rendered.Attributes)*2)
		for key, value := range rendered.Attributes {
			args = append(args, slog.String(key, value))
		}
		e.logger.LogAttrs(context.Background(), slog.LevelInfo, rendered.Type, slog.Group("event", args...))
	} else {
		e.logger.Info(evt.EventType())
	}
	e.next.Emit(evt)
}
