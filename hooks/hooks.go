// Package hooks provides production-ready Hook and Logger implementations.
package hooks

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/imgrevise/imgrevise/core"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log slogger
}

// slogger is the subset of *slog.Logger used here, kept narrow so tests can
// substitute a fake without pulling in log/slog.
type slogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l slogger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) { s.log.Debug(msg, fields...) }
func (s *SlogLogger) Info(msg string, fields ...interface{})  { s.log.Info(msg, fields...) }
func (s *SlogLogger) Warn(msg string, fields ...interface{})  { s.log.Warn(msg, fields...) }
func (s *SlogLogger) Error(msg string, fields ...interface{}) { s.log.Error(msg, fields...) }

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each domain operation (ApplyOp, Undo,
// Ingest, DeriveThumbnail, ...).
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeOp(opName string) {
	h.logger.Debug("op.start", "op", opName)
}

func (h *LoggingHook) AfterOp(opName string, d time.Duration, err error) {
	if err != nil {
		h.logger.Error("op.error", "op", opName, "duration_ms", d.Milliseconds(), "error", err.Error())
		return
	}
	h.logger.Debug("op.done", "op", opName, "duration_ms", d.Milliseconds())
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics atomically; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	opDurationsMs map[string]int64 // cumulative ms per operation
	opCalls       map[string]int64 // call count per operation
	opErrors      map[string]int64

	totalThroughputB int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		opDurationsMs: make(map[string]int64),
		opCalls:       make(map[string]int64),
		opErrors:      make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordProcessingTime(opName string, d interface{ Seconds() float64 }) {
	ms := int64(d.Seconds() * 1000)
	m.mu.Lock()
	m.opDurationsMs[opName] += ms
	m.opCalls[opName]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalThroughputB, bytes)
}

func (m *InMemoryMetrics) RecordError(opName string, _ string) {
	m.mu.Lock()
	m.opErrors[opName]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		OpDurationsMs:    make(map[string]int64, len(m.opDurationsMs)),
		OpCalls:          make(map[string]int64, len(m.opCalls)),
		OpErrors:         make(map[string]int64, len(m.opErrors)),
		TotalThroughputB: atomic.LoadInt64(&m.totalThroughputB),
	}
	for k, v := range m.opDurationsMs {
		snap.OpDurationsMs[k] = v
	}
	for k, v := range m.opCalls {
		snap.OpCalls[k] = v
	}
	for k, v := range m.opErrors {
		snap.OpErrors[k] = v
	}
	return snap
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	OpDurationsMs    map[string]int64
	OpCalls          map[string]int64
	OpErrors         map[string]int64
	TotalThroughputB int64
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds operation events into a MetricsCollector.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeOp(_ string) {}

func (h *MetricsHook) AfterOp(opName string, d time.Duration, err error) {
	h.collector.RecordProcessingTime(opName, d)
	if err != nil {
		h.collector.RecordError(opName, "domain")
	}
}

var _ core.Hook = (*LoggingHook)(nil)
var _ core.Hook = (*MetricsHook)(nil)
