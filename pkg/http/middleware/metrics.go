package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	applogger "SnipeRadar/pkg/logger"
)

// RequestObserver receives one observation per request.
type RequestObserver interface {
	Begin()
	ObserveRequest(endpoint string, status int, d time.Duration)
}

// Metrics records request metrics labelled by the matched route template
// and logs 5xx responses and slow requests.
func Metrics(obs RequestObserver, l *applogger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			obs.Begin()
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			route := routeLabel(c)
			duration := time.Since(start)
			obs.ObserveRequest(route, status, duration)

			if l != nil {
				switch {
				case status >= 500:
					l.Error("http request failed",
						applogger.String("route", route),
						applogger.String("method", c.Request().Method),
						applogger.Int("status", status),
						applogger.Duration("duration_ms", duration),
						applogger.Int64("bytes", c.Response().Size))
				case slowThreshold > 0 && duration >= slowThreshold:
					l.Warn("http request slow",
						applogger.String("route", route),
						applogger.String("method", c.Request().Method),
						applogger.Int("status", status),
						applogger.Duration("duration_ms", duration))
				}
			}
			return err
		}
	}
}

// routeLabel prefers the registered route template over the raw path.
func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
