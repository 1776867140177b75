package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"otc-engine/src/engine"
	"otc-engine/src/feed"
	"otc-engine/src/handlers"
	"otc-engine/src/logger"
	"otc-engine/src/routes"
)

func main() {
	logger.InitLogger()
	log := logger.GetLogger()

	log.Info().Msg("Initializing OTC Execution Engine")

	cfg := engine.ConfigFromEnv()

	ledger := engine.NewInMemoryLedger()
	cfg.Ledger = ledger
	seedGenesisAccounts(ledger, cfg)

	eng := engine.NewEngine(cfg)
	fillHub := feed.NewHub[engine.FillResult]()
	eng.SetFillListener(fillHub.Broadcast)
	eng.StartExpirySweeper()

	otcHandler := handlers.NewOTCHandler(eng, fillHub)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			log.Error().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("status", code).
				Str("error", err.Error()).
				Msg("Request error")

			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	routes.SetupRoutes(app, otcHandler, fillHub)

	port := ":8080"
	if envPort := os.Getenv("PORT"); envPort != "" {
		port = ":" + envPort
	}

	serverError := make(chan error, 1)

	go func() {
		if err := app.Listen(port); err != nil {
			// edge case: ignore shutdown errors, only report real errors
			if err.Error() != "server is shutting down" {
				serverError <- err
			}
		}
	}()

	select {
	case err := <-serverError:
		log.Fatal().
			Err(err).
			Str("port", port).
			Str("hint", "Port may be already in use. Try: PORT=3000 go run main.go").
			Msg("Server failed to start")
	default:
		log.Info().
			Str("port", port).
			Int64("fee_bps", cfg.FeeBps).
			Int64("maker_rebate_bps", cfg.MakerRebateBps).
			Msg("OTC Execution Engine started")

		log.Info().
			Strs("endpoints", []string{
				"POST   /api/v1/orders",
				"POST   /api/v1/orders/:id/fill",
				"DELETE /api/v1/orders/:id",
				"POST   /api/v1/orders/:id/expire",
				"POST   /api/v1/orders/:id/approvals",
				"GET    /api/v1/orders/:id",
				"POST   /api/v1/commitments",
				"POST   /api/v1/commitments/:id/reveal",
				"POST   /api/v1/stake",
				"POST   /api/v1/stake/withdraw",
				"GET    /api/v1/stake/:trader",
				"POST   /api/v1/treasury/withdraw",
				"PUT    /api/v1/treasury/fee",
				"GET    /api/v1/treasury",
				"GET    /health",
				"GET    /metrics",
				"GET    /ws/fills",
			}).
			Msg("API endpoints registered")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	log.Info().Msg("Received shutdown signal, shutting down...")

	shutdownTimeout := 10 * time.Second
	if envTimeout := os.Getenv("SHUTDOWN_TIMEOUT"); envTimeout != "" {
		if parsed, err := time.ParseDuration(envTimeout); err == nil && parsed > 0 {
			shutdownTimeout = parsed
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		// edge case: timeout during shutdown is acceptable
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().
				Dur("timeout", shutdownTimeout).
				Msg("Timeout exceeded, shutting down...")
		} else {
			log.Error().
				Err(err).
				Msg("Error during shutdown")
		}
	} else {
		log.Info().Msg("Shutdown complete")
	}

	eng.Close()
	logger.CloseLogger()
}

// seedGenesisAccounts funds accounts for local runs of the in-memory
// ledger. GENESIS_ACCOUNTS is a comma-separated list of name:balance
// pairs; REWARD_POOL_BALANCE funds the maker-reward pool.
func seedGenesisAccounts(ledger *engine.InMemoryLedger, cfg *engine.Config) {
	log := logger.GetLogger()

	if envGenesis := os.Getenv("GENESIS_ACCOUNTS"); envGenesis != "" {
		for _, pair := range strings.Split(envGenesis, ",") {
			parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
			if len(parts) != 2 {
				continue
			}
			balance, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil || balance <= 0 {
				log.Warn().Str("pair", pair).Msg("Skipping malformed genesis account")
				continue
			}
			ledger.Credit(parts[0], balance)
			log.Info().Str("account", parts[0]).Int64("balance", balance).Msg("Genesis account funded")
		}
	}

	if envReward := os.Getenv("REWARD_POOL_BALANCE"); envReward != "" {
		if balance, err := strconv.ParseInt(envReward, 10, 64); err == nil && balance > 0 {
			ledger.Credit(cfg.RewardPool, balance)
			log.Info().Int64("balance", balance).Msg("Reward pool funded")
		}
	}
}
