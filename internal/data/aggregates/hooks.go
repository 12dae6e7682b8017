package aggregates

import (
	"strings"
	"time"

	"github.com/yungbote/coursebuilder-backend/internal/observability"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

// Hooks receives one ObserveOperation per store call plus conflict and retry events.
type Hooks interface {
	ObserveOperation(name, status string, dur time.Duration)
	IncConflict(name string)
	IncRetry(name string)
}

type noopHooks struct{}

func (noopHooks) ObserveOperation(string, string, time.Duration) {}
func (noopHooks) IncConflict(string)                             {}
func (noopHooks) IncRetry(string)                                {}

type metricsHooks struct {
	metrics *observability.Metrics
}

// NewObservabilityHooks feeds the store_* prometheus series.
func NewObservabilityHooks(metrics *observability.Metrics) Hooks {
	if metrics == nil {
		return noopHooks{}
	}
	return &metricsHooks{metrics: metrics}
}

func (h *metricsHooks) ObserveOperation(name, status string, dur time.Duration) {
	h.metrics.ObserveStoreOperation(opLabel(name), strings.TrimSpace(status), dur)
}

func (h *metricsHooks) IncConflict(name string) { h.metrics.IncStoreConflict(opLabel(name)) }
func (h *metricsHooks) IncRetry(name string)    { h.metrics.IncStoreRetry(opLabel(name)) }

// opLabel keeps metric labels bounded: "SessionStore.Save" becomes "save".
func opLabel(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}

type loggingHooks struct {
	inner Hooks
	log   *logger.Logger
	slow  time.Duration
}

// WithLogging logs conflicts, retries and operations slower than slow, then forwards
// every event to inner.
func WithLogging(inner Hooks, log *logger.Logger, slow time.Duration) Hooks {
	if inner == nil {
		inner = noopHooks{}
	}
	if log == nil {
		return inner
	}
	return &loggingHooks{inner: inner, log: log.With("component", "StoreHooks"), slow: slow}
}

func (h *loggingHooks) ObserveOperation(name, status string, dur time.Duration) {
	if h.slow > 0 && dur >= h.slow {
		h.log.Warn("slow store operation", "op", name, "status", status, "duration_ms", dur.Milliseconds())
	}
	h.inner.ObserveOperation(name, status, dur)
}

func (h *loggingHooks) IncConflict(name string) {
	h.log.Debug("store revision conflict", "op", name)
	h.inner.IncConflict(name)
}

func (h *loggingHooks) IncRetry(name string) {
	h.log.Info("retrying store operation", "op", name)
	h.inner.IncRetry(name)
}
