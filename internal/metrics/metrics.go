package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardline_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guardline_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	alertsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardline_alerts_dispatched_total",
		Help: "Overdue alert dispatch episodes by outcome.",
	}, []string{"outcome"})

	smsAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardline_sms_attempts_total",
		Help: "Final per-contact SMS results.",
	}, []string{"status"})

	quotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardline_quota_denials_total",
		Help: "Credit consumption rejections by reason.",
	}, []string{"reason"})

	schedulerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guardline_scheduler_tick_duration_seconds",
		Help:    "Histogram of deadline sweep tick durations.",
		Buckets: prometheus.DefBuckets,
	})
)

func AlertDispatched(outcome string) {
	alertsDispatched.WithLabelValues(outcome).Inc()
}

func SmsAttempt(status string) {
	smsAttempts.WithLabelValues(status).Inc()
}

func QuotaDenied(reason string) {
	quotaDenials.WithLabelValues(reason).Inc()
}

func ObserveTick(d time.Duration) {
	schedulerTickDuration.Observe(d.Seconds())
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latencies labelled by chi route
// pattern rather than raw path, keeping cardinality bounded.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}

			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
