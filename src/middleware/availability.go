package middleware

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Availability gates requests behind a maintenance switch and an
// in-flight cap. Health checks and the fill feed stay reachable so
// operators and subscribers are not cut off during maintenance.
type Availability struct {
	maintenanceMode  atomic.Bool
	maxInFlight      int64
	inFlightRequests atomic.Int64
}

func NewAvailability(maxInFlight int64) *Availability {
	a := &Availability{maxInFlight: maxInFlight}

	if os.Getenv("MAINTENANCE_MODE") == "1" {
		a.maintenanceMode.Store(true)
		log.Warn().Msg("Service is in maintenance mode - API requests will return 503")
	}

	return a
}

func (a *Availability) SetMaintenanceMode(enabled bool) {
	a.maintenanceMode.Store(enabled)
	if enabled {
		log.Warn().Msg("Service maintenance mode enabled")
	} else {
		log.Info().Msg("Service maintenance mode disabled")
	}
}

func (a *Availability) IsMaintenanceMode() bool {
	return a.maintenanceMode.Load()
}

func (a *Availability) InFlight() int64 {
	return a.inFlightRequests.Load()
}

func exempt(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/ws/")
}

func (a *Availability) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if exempt(c.Path()) {
			return c.Next()
		}

		if a.maintenanceMode.Load() {
			log.Warn().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Str("ip", c.IP()).
				Msg("Request rejected: service in maintenance mode")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "Service unavailable",
				"message": "The service is currently undergoing maintenance. Please try again later.",
			})
		}

		if a.maxInFlight > 0 && a.inFlightRequests.Load() >= a.maxInFlight {
			log.Warn().
				Str("path", c.Path()).
				Int64("in_flight", a.inFlightRequests.Load()).
				Int64("max_in_flight", a.maxInFlight).
				Msg("Request rejected: server overload")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "Service unavailable",
				"message": "The service is currently overloaded. Please try again later.",
			})
		}

		a.inFlightRequests.Add(1)
		defer a.inFlightRequests.Add(-1)

		return c.Next()
	}
}

func DefaultAvailability() *Availability {
	maxInFlight := int64(0)

	if envMax := os.Getenv("MAX_CONCURRENT_REQUESTS"); envMax != "" {
		if parsed, err := strconv.ParseInt(envMax, 10, 64); err == nil && parsed > 0 {
			maxInFlight = parsed
			log.Info().
				Int64("max_concurrent_requests", maxInFlight).
				Msg("Server overload detection enabled")
		}
	}

	return NewAvailability(maxInFlight)
}
