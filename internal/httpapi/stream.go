package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/signalsfoundry/ais-contact-manager/internal/stream"
)

// registerStream upgrades /stream to a websocket that receives every
// contact message the hub publishes. Anything the client sends is read
// and discarded; a read error ends the session.
func registerStream(r fiber.Router, hub *stream.Hub) {
	r.Get("/stream", websocket.New(func(c *websocket.Conn) {
		client := hub.Register()
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}
