// Package metrics provides counters, Prometheus collectors, and HTTP
// handlers for exporting parcel tracker runtime metrics.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Internal state mirrored into the JSON snapshot
var (
	passes              int64
	fetchSuccess        int64
	fetchFailure        int64
	statusChanges       int64
	notificationsSent   int64
	notificationsSkip   int64
	notificationsFailed int64
	saveFailed          int64
	tracked             int64
	lastPass            int64
)

const counterInc int64 = 1

var (
	promPasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parceltracker_poll_passes_total",
			Help: "Total completed poll passes",
		},
	)
	promFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parceltracker_carrier_fetches_total",
			Help: "Total carrier status fetches by result",
		},
		[]string{"result"},
	)
	promStatusChanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parceltracker_status_changes_total",
			Help: "Total detected shipment status changes",
		},
	)
	promNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parceltracker_notifications_total",
			Help: "Update notifications by outcome",
		},
		[]string{"outcome"},
	)
	promCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parceltracker_commands_total",
			Help: "Chat commands handled by name",
		},
		[]string{"command"},
	)
	promSaveFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parceltracker_state_save_failed_total",
			Help: "Total failed state file writes",
		},
	)
	promTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parceltracker_tracked_shipments",
			Help: "Number of shipments currently tracked",
		},
	)
	promFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parceltracker_carrier_fetch_duration_seconds",
			Help:    "Duration of carrier status requests",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
	promLastPass = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parceltracker_last_pass_timestamp_seconds",
			Help: "Unix timestamp of the last completed poll pass",
		},
	)
)

func init() {
	prometheus.MustRegister(
		promPasses,
		promFetches,
		promStatusChanges,
		promNotifications,
		promCommands,
		promSaveFailed,
		promTracked,
		promFetchDuration,
		promLastPass,
	)
}

// IncPass records a completed poll pass and its completion time.
func IncPass(t time.Time) {
	atomic.AddInt64(&passes, counterInc)
	atomic.StoreInt64(&lastPass, t.Unix())
	promPasses.Inc()
	promLastPass.Set(float64(t.Unix()))
}

// ObserveFetch records one carrier request.
func ObserveFetch(ok bool, d time.Duration) {
	promFetchDuration.Observe(d.Seconds())
	if ok {
		atomic.AddInt64(&fetchSuccess, counterInc)
		promFetches.WithLabelValues("success").Inc()
		return
	}
	atomic.AddInt64(&fetchFailure, counterInc)
	promFetches.WithLabelValues("failure").Inc()
}

// IncStatusChange increments the counter of detected status changes.
func IncStatusChange() {
	atomic.AddInt64(&statusChanges, counterInc)
	promStatusChanges.Inc()
}

// IncNotificationSent counts a delivered update notification.
func IncNotificationSent() {
	atomic.AddInt64(&notificationsSent, counterInc)
	promNotifications.WithLabelValues("sent").Inc()
}

// IncNotificationSkipped counts an update that could not be posted
// (unreachable channel or missing permission).
func IncNotificationSkipped() {
	atomic.AddInt64(&notificationsSkip, counterInc)
	promNotifications.WithLabelValues("skipped").Inc()
}

// IncNotificationFailed counts an update whose send returned an error.
func IncNotificationFailed() {
	atomic.AddInt64(&notificationsFailed, counterInc)
	promNotifications.WithLabelValues("failed").Inc()
}

// IncCommand counts a handled chat command.
func IncCommand(name string) {
	promCommands.WithLabelValues(name).Inc()
}

// IncSaveFailed counts a failed state write.
func IncSaveFailed() {
	atomic.AddInt64(&saveFailed, counterInc)
	promSaveFailed.Inc()
}

// SetTracked sets the number of tracked shipments.
func SetTracked(n int) {
	atomic.StoreInt64(&tracked, int64(n))
	promTracked.Set(float64(n))
}

// StatsSnapshot is a snapshot of metrics for JSON encoding.
type StatsSnapshot struct {
	Passes              int64  `json:"poll_passes"`
	FetchSuccess        int64  `json:"fetch_success"`
	FetchFailure        int64  `json:"fetch_failure"`
	StatusChanges       int64  `json:"status_changes"`
	NotificationsSent   int64  `json:"notifications_sent"`
	NotificationsSkip   int64  `json:"notifications_skipped"`
	NotificationsFailed int64  `json:"notifications_failed"`
	SaveFailed          int64  `json:"save_failed"`
	Tracked             int64  `json:"tracked"`
	LastPass            int64  `json:"last_pass_timestamp"`
	LastPassHuman       string `json:"last_pass_human,omitempty"`
}

// GetSnapshot returns a StatsSnapshot with the current values of all
// internal counters and timestamps.
func GetSnapshot() StatsSnapshot {
	ts := atomic.LoadInt64(&lastPass)
	s := StatsSnapshot{
		Passes:              atomic.LoadInt64(&passes),
		FetchSuccess:        atomic.LoadInt64(&fetchSuccess),
		FetchFailure:        atomic.LoadInt64(&fetchFailure),
		StatusChanges:       atomic.LoadInt64(&statusChanges),
		NotificationsSent:   atomic.LoadInt64(&notificationsSent),
		NotificationsSkip:   atomic.LoadInt64(&notificationsSkip),
		NotificationsFailed: atomic.LoadInt64(&notificationsFailed),
		SaveFailed:          atomic.LoadInt64(&saveFailed),
		Tracked:             atomic.LoadInt64(&tracked),
		LastPass:            ts,
	}
	if ts > 0 {
		s.LastPassHuman = time.Unix(ts, 0).UTC().Format(time.RFC3339)
	}
	return s
}

// PromHandler returns an HTTP handler that exposes Prometheus metrics.
func PromHandler() http.Handler { return promhttp.Handler() }

// JSONHandler returns an HTTP handler that serves the current metrics as
// a JSON-encoded StatsSnapshot.
func JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetSnapshot())
	})
}
