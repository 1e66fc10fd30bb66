package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webrtc-rendezvous/internal/app/rooms"
)

const resultSuccess = "SUCCESS"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	roomOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_operations_total",
			Help: "Room coordinator operations by result code",
		},
		[]string{"op", "result"},
	)

	casAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "room_cas_attempts",
			Help:    "Compare-and-swap attempts needed per room operation",
			Buckets: []float64{1, 2, 3, 5, 8, 10},
		},
		[]string{"op"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_deliveries_total",
			Help: "Forwarded signaling messages by outcome",
		},
		[]string{"result"},
	)
)

// RecordHTTPMetrics records one handled HTTP request.
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())
}

// Recorder feeds coordinator and relay events into Prometheus.
type Recorder struct{}

func (Recorder) ObserveRoomOperation(op string, code rooms.Code, attempts int) {
	result := string(code)
	if result == "" {
		result = resultSuccess
	}
	roomOperationsTotal.WithLabelValues(op, result).Inc()
	casAttempts.WithLabelValues(op).Observe(float64(attempts))
}

func (Recorder) ObserveDelivery(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	deliveriesTotal.WithLabelValues(result).Inc()
}

// RegisterConnectionGauge exports the number of open signaling sockets.
// Call it once per process.
func RegisterConnectionGauge(count func() int) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Number of registered signaling WebSocket connections",
		},
		func() float64 { return float64(count()) },
	)
}

// NewServer builds the metrics and health endpoint server.
func NewServer() *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return e
}
