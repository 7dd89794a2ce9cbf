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

	imagesStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "product_images_stored_total",
			Help: "Total number of product images written to the image store",
		},
	)

	imageCleanupTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_image_cleanup_total",
			Help: "Image removals by reason and outcome",
		},
		[]string{"reason", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(imagesStoredTotal)
	prometheus.MustRegister(imageCleanupTotal)
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

func RecordImageStored() {
	imagesStoredTotal.Inc()
}

// RecordImageCleanup counts an image removal. reason is one of "replaced",
// "deleted", "rollback" or "sweep".
func RecordImageCleanup(reason, outcome string) {
	imageCleanupTotal.WithLabelValues(reason, outcome).Inc()
}
