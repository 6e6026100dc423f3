package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gm_queue_size", Help: "players currently waiting in the matchmaking queue"})
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gm_matches_total", Help: "match proposals formed"})
	QueueTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gm_queue_timeouts_total", Help: "queue entries expired without a match"})
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gm_active_sessions", Help: "sessions currently owned by the orchestrator"})
	SessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gm_session_transitions_total", Help: "session state transitions"},
		[]string{"state"})
	SessionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gm_session_failures_total", Help: "failed sessions by reason"},
		[]string{"reason"})
	ProvisionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gm_provision_duration_seconds",
		Help:    "time from proposal acceptance to a healthy workload",
		Buckets: prometheus.DefBuckets})
	RatingUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gm_rating_updates_total", Help: "rating updates forwarded to the leaderboard"})
)

func Init() {
	prometheus.MustRegister(QueueSize, MatchesTotal, QueueTimeouts, ActiveSessions,
		SessionTransitions, SessionFailures, ProvisionDuration, RatingUpdatesTotal)
}
