package catalog

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments catalog syncs. A nil *Metrics records nothing.
type Metrics struct {
	syncs         *prometheus.CounterVec
	itemFailures  prometheus.Counter
	items         prometheus.Gauge
	syncDuration  prometheus.Histogram
	staleDiscards prometheus.Counter
}

// NewMetrics creates the catalog metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketspace",
			Subsystem: "catalog",
			Name:      "syncs_total",
			Help:      "Catalog syncs by source and outcome.",
		}, []string{"source", "outcome"}),
		itemFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketspace",
			Subsystem: "catalog",
			Name:      "item_failures_total",
			Help:      "Listings dropped because their metadata could not be fetched.",
		}),
		items: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketspace",
			Subsystem: "catalog",
			Name:      "items",
			Help:      "Items in the current snapshot.",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "marketspace",
			Subsystem: "catalog",
			Name:      "sync_duration_seconds",
			Help:      "Wall time of a catalog sync.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		staleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketspace",
			Subsystem: "catalog",
			Name:      "stale_results_total",
			Help:      "Sync results discarded because a newer sync was already applied.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.syncs, m.itemFailures, m.items, m.syncDuration, m.staleDiscards)
	}
	return m
}

func (m *Metrics) observeSync(source string, start time.Time, failed int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case failed > 0:
		outcome = "partial"
	}
	m.syncs.WithLabelValues(source, outcome).Inc()
	m.itemFailures.Add(float64(failed))
	m.syncDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) setItems(n int) {
	if m == nil {
		return
	}
	m.items.Set(float64(n))
}

func (m *Metrics) staleDiscarded() {
	if m == nil {
		return
	}
	m.staleDiscards.Inc()
}
