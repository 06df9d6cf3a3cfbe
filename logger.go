package tether

import "log"

// Logger receives integrity faults, desyncs and rollbacks.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts a function into a Logger
type LoggerFunc func(format string, args ...any)

func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// Metrics receives world counters. Keys are listed with the Metric constants.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

const (
	MetricFrames    = "tether_frames"
	MetricFaults    = "tether_faults"
	MetricDesyncs   = "tether_desyncs"
	MetricRollbacks = "tether_rollbacks"
	MetricIslands   = "tether_islands"
	MetricContacts  = "tether_contacts"
	MetricSleeping  = "tether_sleeping_bodies"
)

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type nopMetrics struct{}

func (nopMetrics) Add(string, uint64)   {}
func (nopMetrics) Store(string, uint64) {}

// Option configures optional World collaborators
type Option func(*World)

func WithLogger(logger Logger) Option {
	return func(w *World) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(w *World) {
		if metrics != nil {
			w.metrics = metrics
		}
	}
}
