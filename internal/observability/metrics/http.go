package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

const namespace = "medguide"

type HTTPServerMetrics struct {
	*resilienceCollectors

	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchTotal     *prometheus.CounterVec
	searchResults   *prometheus.HistogramVec
	searchDuration  *prometheus.HistogramVec
	verifyTotal     *prometheus.CounterVec
	verifyScore     prometheus.Histogram
	safetyTotal     *prometheus.CounterVec
	answerTotal     *prometheus.CounterVec
	snapshotGen     prometheus.Gauge
	snapshotDocs    prometheus.Gauge
	snapshotChunks  *prometheus.GaugeVec
	snapshotBuiltAt prometheus.Gauge
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: constLabels,
		},
	)
	searchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total successful searches by retrieval mode.",
		},
		[]string{"service", "endpoint", "mode"},
	)
	searchResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "results",
			Help:      "Distribution of results returned per search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 50},
		},
		[]string{"service", "endpoint"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	verifyTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "requests_total",
			Help:      "Total verifications by hallucination risk.",
		},
		[]string{"service", "risk"},
	)
	verifyScore := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "verify",
			Name:        "overall_score",
			Help:        "Distribution of verification coverage scores.",
			Buckets:     []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			ConstLabels: constLabels,
		},
	)
	safetyTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "validations_total",
			Help:      "Total safety validations by risk level.",
		},
		[]string{"service", "risk_level"},
	)
	answerTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "requests_total",
			Help:      "Total clinical answers by outcome.",
		},
		[]string{"service", "outcome"},
	)
	snapshotGen := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "snapshot",
		Name:        "generation",
		Help:        "Generation of the active snapshot.",
		ConstLabels: constLabels,
	})
	snapshotDocs := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "snapshot",
		Name:        "documents",
		Help:        "Documents in the active snapshot.",
		ConstLabels: constLabels,
	})
	snapshotChunks := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "snapshot",
		Name:        "chunks",
		Help:        "Chunks in the active snapshot by level.",
		ConstLabels: constLabels,
	}, []string{"level"})
	snapshotBuiltAt := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "snapshot",
		Name:        "built_at_seconds",
		Help:        "Unix time the active snapshot was built.",
		ConstLabels: constLabels,
	})

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchTotal,
		searchResults,
		searchDuration,
		verifyTotal,
		verifyScore,
		safetyTotal,
		answerTotal,
		snapshotGen,
		snapshotDocs,
		snapshotChunks,
		snapshotBuiltAt,
	)

	return &HTTPServerMetrics{
		resilienceCollectors: newResilienceCollectors(registry, service),
		registry:             registry,
		service:              service,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		searchTotal:          searchTotal,
		searchResults:        searchResults,
		searchDuration:       searchDuration,
		verifyTotal:          verifyTotal,
		verifyScore:          verifyScore,
		safetyTotal:          safetyTotal,
		answerTotal:          answerTotal,
		snapshotGen:          snapshotGen,
		snapshotDocs:         snapshotDocs,
		snapshotChunks:       snapshotChunks,
		snapshotBuiltAt:      snapshotBuiltAt,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps label cardinality bounded for id-bearing routes.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/guidelines/") && path != "/v1/guidelines/upload":
		return "/v1/guidelines/{id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordSearch(endpoint string, resp *domain.SearchResponse, duration time.Duration) {
	mode := "hybrid"
	for _, n := range resp.Notices {
		switch n.Code {
		case domain.NoticeLexicalOnly:
			mode = "lexical_only"
		case domain.NoticeNoSnapshot:
			mode = "no_snapshot"
		}
	}
	m.searchTotal.WithLabelValues(m.service, endpoint, mode).Inc()
	m.searchResults.WithLabelValues(m.service, endpoint).Observe(float64(len(resp.Results)))
	m.searchDuration.WithLabelValues(m.service, endpoint).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordVerification(res *domain.VerificationResult) {
	m.verifyTotal.WithLabelValues(m.service, string(res.HallucinationRisk)).Inc()
	m.verifyScore.Observe(res.OverallScore)
}

func (m *HTTPServerMetrics) RecordSafety(res *domain.SafetyValidationResult) {
	m.safetyTotal.WithLabelValues(m.service, string(res.RiskLevel)).Inc()
}

func (m *HTTPServerMetrics) RecordAnswer(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.answerTotal.WithLabelValues(m.service, outcome).Inc()
}

func (m *HTTPServerMetrics) SetSnapshot(status domain.SystemStatus) {
	m.snapshotGen.Set(float64(status.Generation))
	m.snapshotDocs.Set(float64(status.Documents))
	m.snapshotChunks.WithLabelValues(string(domain.LevelParent)).Set(float64(status.ParentChunks))
	m.snapshotChunks.WithLabelValues(string(domain.LevelChild)).Set(float64(status.ChildChunks))
	if !status.BuiltAt.IsZero() {
		m.snapshotBuiltAt.Set(float64(status.BuiltAt.Unix()))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
