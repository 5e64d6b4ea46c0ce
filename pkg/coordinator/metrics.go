package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mygas",
		Name:      "refresh_total",
		Help:      "Refresh cycles by result.",
	}, []string{"result"})

	refreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mygas",
		Name:      "refresh_duration_seconds",
		Help:      "Duration of refresh cycles by result.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"result"})

	lastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mygas",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful refresh per entry.",
	}, []string{"entry"})

	needsReauthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mygas",
		Name:      "needs_reauth",
		Help:      "1 while MyGas rejects the credentials of an entry.",
	}, []string{"entry"})
)

func observeRefresh(entryID, result string, start time.Time, updated time.Time) {
	refreshTotal.WithLabelValues(result).Inc()
	refreshDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	switch result {
	case "success":
		lastSuccess.WithLabelValues(entryID).Set(float64(updated.Unix()))
		needsReauthGauge.WithLabelValues(entryID).Set(0)
	case "auth_failed":
		needsReauthGauge.WithLabelValues(entryID).Set(1)
	}
}

func forgetEntry(entryID string) {
	lastSuccess.DeleteLabelValues(entryID)
	needsReauthGauge.DeleteLabelValues(entryID)
}
