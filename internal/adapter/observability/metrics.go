package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider, operation and status",
		},
		[]string{"provider", "operation", "status"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"provider", "operation"},
	)
	// AISecondaryCannedTotal counts secondary replies replaced by canned text.
	AISecondaryCannedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_secondary_canned_total",
			Help: "Secondary provider answers replaced by locally generated text",
		},
		[]string{"reason"},
	)

	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyses_total",
			Help: "Essay analyses by outcome",
		},
		[]string{"outcome"},
	)
	AnalysisBandScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_band_score",
			Help:    "Distribution of returned band scores ([0,9])",
			Buckets: []float64{1, 2, 3, 4, 5, 5.5, 6, 6.5, 7, 7.5, 8, 8.5, 9},
		},
	)
	FeedbackSectionsSynthesizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_sections_synthesized_total",
			Help: "Feedback sections regenerated locally because the reply lacked them",
		},
		[]string{"section"},
	)
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Submission events forwarded to the broker",
		},
		[]string{"type", "status"},
	)
	ProviderCircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ai_provider_circuit_state",
			Help: "Provider circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"provider"},
	)
)

var registerOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AIRequestsTotal,
			AIRequestDuration,
			AISecondaryCannedTotal,
			AnalysesTotal,
			AnalysisBandScore,
			FeedbackSectionsSynthesizedTotal,
			EventsPublishedTotal,
			ProviderCircuitState,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// ObserveAIRequest records one provider call. status is the HTTP status code,
// or 0 when the request never got a response.
func ObserveAIRequest(provider, operation string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	AIRequestsTotal.WithLabelValues(provider, operation, label).Inc()
	AIRequestDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// ObserveCanned records a canned secondary reply.
func ObserveCanned(reason string) {
	AISecondaryCannedTotal.WithLabelValues(reason).Inc()
}

// ObserveAnalysis records the outcome of an analysis and, when it succeeded,
// the band score returned to the user.
func ObserveAnalysis(outcome, score string) {
	AnalysesTotal.WithLabelValues(outcome).Inc()
	if score == "" {
		return
	}
	if v, err := strconv.ParseFloat(score, 64); err == nil && v >= 0 && v <= 9 {
		AnalysisBandScore.Observe(v)
	}
}

// ObserveSynthesized records sections produced by the local fallback generator.
func ObserveSynthesized(sections []string) {
	for _, s := range sections {
		FeedbackSectionsSynthesizedTotal.WithLabelValues(s).Inc()
	}
}

// ObservePublish records one event publish attempt.
func ObservePublish(eventType string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	EventsPublishedTotal.WithLabelValues(eventType, status).Inc()
}

// ObserveCircuit records the breaker state of a provider.
func ObserveCircuit(provider string, state int) {
	ProviderCircuitState.WithLabelValues(provider).Set(float64(state))
}
