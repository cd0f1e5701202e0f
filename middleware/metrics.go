package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	stkPushInitiatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_push_initiated_total",
			Help: "Total number of STK push initiation attempts",
		},
		[]string{"result"},
	)

	paymentCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Total number of gateway payment callbacks processed",
		},
		[]string{"outcome"},
	)

	membershipActivationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "membership_activations_total",
			Help: "Total number of membership activations",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(stkPushInitiatedTotal)
	prometheus.MustRegister(paymentCallbacksTotal)
	prometheus.MustRegister(membershipActivationsTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordSTKPushInitiated(result string) {
	stkPushInitiatedTotal.WithLabelValues(result).Inc()
}

// RecordPaymentCallback tracks callback outcomes, including anomalies like
// callbacks for unknown checkout ids.
func RecordPaymentCallback(outcome string) {
	paymentCallbacksTotal.WithLabelValues(outcome).Inc()
}

func RecordMembershipActivated() {
	membershipActivationsTotal.Inc()
}
