package routes

import (
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"otc-engine/src/engine"
	"otc-engine/src/feed"
	"otc-engine/src/handlers"
	"otc-engine/src/middleware"
)

func SetupRoutes(app *fiber.App, h *handlers.OTCHandler, fillHub *feed.Hub[engine.FillResult]) {
	rateLimitDisabled := os.Getenv("RATE_LIMIT_DISABLED") == "1"

	maxRequests := 100
	if envMax := os.Getenv("RATE_LIMIT_MAX"); envMax != "" {
		if parsed, err := strconv.Atoi(envMax); err == nil && parsed > 0 {
			maxRequests = parsed
		}
	}

	windowDuration := time.Second
	if envWindow := os.Getenv("RATE_LIMIT_WINDOW"); envWindow != "" {
		if parsed, err := time.ParseDuration(envWindow); err == nil && parsed > 0 {
			windowDuration = parsed
		}
	}

	availability := middleware.DefaultAvailability()
	app.Use(availability.Middleware())
	app.Use(middleware.RequestLogger())

	api := app.Group("/api/v1")

	if !rateLimitDisabled {
		rateLimiter := middleware.NewRateLimiter(maxRequests, windowDuration)
		api.Use(rateLimiter.Middleware())
	}

	api.Post("/orders", h.CreateOrder)
	api.Get("/orders/:id", h.GetOrder)
	api.Delete("/orders/:id", h.CancelOrder)
	api.Post("/orders/:id/fill", h.FillOrder)
	api.Post("/orders/:id/expire", h.ExpireOrder)
	api.Post("/orders/:id/approvals", h.ApproveOrder)

	api.Post("/commitments", h.CommitOrder)
	api.Post("/commitments/:id/reveal", h.RevealOrder)

	api.Post("/stake", h.StakeTokens)
	api.Post("/stake/withdraw", h.WithdrawStake)
	api.Get("/stake/:trader", h.GetStake)

	api.Get("/treasury", h.GetTreasury)
	api.Post("/treasury/withdraw", h.WithdrawTreasury)
	api.Put("/treasury/fee", h.UpdateFee)

	app.Get("/health", h.HealthCheck)
	app.Get("/metrics", h.Metrics)

	app.Use("/ws", feed.UpgradeRequired())
	app.Get("/ws/fills", feed.FillStream(fillHub))
}
