package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts telemetry events ingested by the orchestrator.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "guardian_events_total", Help: "Telemetry events ingested"},
		[]string{"type"},
	)
	// EventsDiscarded counts malformed or unroutable events dropped on ingest.
	EventsDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "guardian_events_discarded_total", Help: "Malformed or unroutable events dropped"},
	)
	// BotState exposes the aggregate permission severity per bot
	// (0=allow, 1=downgrade, 2=pause, 3=suspend).
	BotState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "guardian_bot_state", Help: "Aggregate permission severity (0=allow,1=downgrade,2=pause,3=suspend)"},
		[]string{"bot"},
	)
	// GuardStatus exposes each guard's triggered flag per bot.
	GuardStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "guardian_guard_status", Help: "Guard status (1=triggered, 0=clear)"},
		[]string{"bot", "guard"},
	)
	// NotificationsDropped counts transitions dropped because the alert queue
	// was full; alerting is fire-and-forget and must never delay evaluation.
	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "guardian_notifications_dropped_total", Help: "Transition notifications dropped on a full queue"},
	)
	// PersistFailures counts best-effort guard-state writes that failed.
	PersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "guardian_persist_failures_total", Help: "Guard state persistence failures"},
	)
)

func init() {
	prometheus.MustRegister(EventsTotal, EventsDiscarded, BotState, GuardStatus, NotificationsDropped, PersistFailures)
}

// Serve exposes /metrics on addr and returns the server for shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
