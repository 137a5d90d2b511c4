package wallsvc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncedBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wallsign_synced_block",
		Help: "Last block stored in the event log",
	})

	eventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallsign_events_ingested_total",
		Help: "Signed records stored by the sync loop",
	})

	syncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallsign_sync_failures_total",
		Help: "Sync passes that stopped on a fetch or storage error",
	})

	recordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallsign_records_skipped_total",
		Help: "Records left out of a wall view, by reason",
	}, []string{"reason"})

	renderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallsign_render_duration_seconds",
		Help:    "Wall render time, by cache outcome",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"cache"})
)
