package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiltguard_events_ingested_total",
			Help: "Total number of wager events submitted for ingestion",
		},
		[]string{"status"}, // accepted, invalid, closed
	)

	// Analysis metrics
	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tiltguard_analysis_duration_seconds",
			Help:    "Duration of a single risk analysis pass",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
		},
	)

	OverallScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tiltguard_overall_scores",
			Help:    "Distribution of overall tilt scores (0-1)",
			Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
		},
	)

	SubScores = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tiltguard_sub_scores",
			Help:    "Distribution of per-dimension sub-scores (0-1)",
			Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
		},
		[]string{"dimension"}, // time_of_day, currency, device, pnl_variation, modality
	)

	RiskLevels = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiltguard_risk_levels_total",
			Help: "Total number of analyses by resulting risk level",
		},
		[]string{"level"}, // critical, high, medium, low
	)

	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiltguard_recommendations_total",
			Help: "Total number of recommendations produced",
		},
		[]string{"priority"},
	)

	// Session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tiltguard_active_sessions",
			Help: "Number of sessions currently monitored",
		},
	)

	SessionsExported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiltguard_sessions_exported_total",
			Help: "Total number of sessions exported",
		},
	)

	// Alert metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiltguard_alerts_sent_total",
			Help: "Total number of alerts sent",
		},
		[]string{"status", "level"}, // success/error, critical/high/medium
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiltguard_alerts_suppressed_total",
			Help: "Total number of alerts suppressed due to cooldown",
		},
	)

	// Platform API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiltguard_api_requests_total",
			Help: "Total number of outbound API requests",
		},
		[]string{"api", "endpoint", "status"}, // platform/discord, /bets, success/error
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tiltguard_api_request_duration_seconds",
			Help:    "Duration of outbound API requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"api", "endpoint"},
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiltguard_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tiltguard_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// System health
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiltguard_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"}, // healthy/unhealthy
	)
)

// Score is the subset of an analysis the metrics layer records. Keeping it
// flat avoids importing the scoring package here.
type Score struct {
	Overall         float64
	Level           string
	Dimensions      map[string]float64
	Recommendations []string // priorities
}

// RecordEvent records the outcome of one ingestion attempt
func RecordEvent(status string) {
	EventsIngested.WithLabelValues(status).Inc()
}

// RecordAnalysis records one analysis pass
func RecordAnalysis(duration time.Duration, s Score) {
	AnalysisDuration.Observe(duration.Seconds())
	OverallScores.Observe(s.Overall)
	RiskLevels.WithLabelValues(s.Level).Inc()
	for dim, v := range s.Dimensions {
		SubScores.WithLabelValues(dim).Observe(v)
	}
	for _, p := range s.Recommendations {
		Recommendations.WithLabelValues(p).Inc()
	}
}

// RecordAlert records alert metrics
func RecordAlert(level string, err error, suppressed bool) {
	if suppressed {
		AlertsSuppressed.Inc()
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	AlertsSent.WithLabelValues(status, level).Inc()
}

// RecordAPIRequest records API request metrics
func RecordAPIRequest(api, endpoint string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	APIRequests.WithLabelValues(api, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(api, endpoint).Observe(duration.Seconds())
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueries.WithLabelValues(operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}
