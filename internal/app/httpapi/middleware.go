package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"webrtc-rendezvous/internal/app/metrics"
)

func RequestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(
		middleware.RequestLoggerConfig{
			LogStatus:   true,
			LogURI:      true,
			LogMethod:   true,
			LogError:    true,
			LogLatency:  true,
			LogRemoteIP: true,

			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				level := zerolog.InfoLevel
				if v.Error != nil || v.Status >= http.StatusInternalServerError {
					level = zerolog.ErrorLevel
				} else if v.Status >= http.StatusBadRequest {
					level = zerolog.WarnLevel
				}

				logger.WithLevel(level).
					Err(v.Error).
					Int("status", v.Status).
					Str("uri", v.URI).
					Str("method", v.Method).
					Str("remote_ip", v.RemoteIP).
					Dur("latency", v.Latency).
					Msg("HTTP request")

				return nil
			},
		},
	)
}

// PrometheusMiddleware records request counts and durations per route.
func PrometheusMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if status == 0 {
				status = http.StatusOK
			}
			if err != nil && status < http.StatusBadRequest {
				status = http.StatusInternalServerError
			}

			metrics.RecordHTTPMetrics(c.Request().Method, c.Path(), status, time.Since(start))

			return err
		}
	}
}
