package feed

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog/log"

	"otc-engine/src/engine"
)

// UpgradeRequired rejects plain HTTP requests on websocket routes.
func UpgradeRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// FillStream streams every settlement event to the websocket client as
// JSON until the client disconnects or falls behind and reconnects.
func FillStream(hub *Hub[engine.FillResult]) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		sub := hub.Subscribe(64)
		defer hub.Unsubscribe(sub)

		log.Info().Str("remote", conn.RemoteAddr().String()).Msg("Fill feed subscriber connected")

		for fill := range sub.C {
			if err := conn.WriteJSON(fill); err != nil {
				log.Info().
					Str("remote", conn.RemoteAddr().String()).
					Err(err).
					Msg("Fill feed subscriber disconnected")
				return
			}
		}
	})
}
