// Package metricswrap decorates an access tracker with Prometheus metrics.
package metricswrap

import (
	"log/slog"

	"github.com/gpucachelab/hotpage/internal/hotness"
	"github.com/gpucachelab/hotpage/internal/observability"
)

type Sizer interface{ Size() int }

type WithMetrics struct {
	inner hotness.Interface
	log   *slog.Logger
}

var _ hotness.Interface = (*WithMetrics)(nil)

func New(inner hotness.Interface, log *slog.Logger) *WithMetrics {
	if log == nil {
		log = slog.Default()
	}
	return &WithMetrics{inner: inner, log: log}
}

func (w *WithMetrics) Inc(page string) {
	w.inner.Inc(page)
	w.updateGauge()
}

func (w *WithMetrics) Snapshot() (counts, lastAccess map[string]float64) {
	counts, lastAccess = w.inner.Snapshot()
	w.updateGauge()
	return counts, lastAccess
}

func (w *WithMetrics) Reset(pages ...string) {
	w.inner.Reset(pages...)
	if len(pages) > 0 {
		w.log.Debug("pages reset", "n", len(pages))
	}
	w.updateGauge()
}

func (w *WithMetrics) updateGauge() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetTrackedPages(s.Size())
	}
}
