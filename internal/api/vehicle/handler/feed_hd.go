package vehicleHandler

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const feedWriteTimeout = 10 * time.Second

func (h *VehicleHandler) streamObservations(c *websocket.Conn) {
	messages, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	h.log.Info("Observation feed client connected")
	defer h.log.Info("Observation feed client disconnected")

	// Clients never send data; reading only detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Errorf("Observation feed read error: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			if err := c.SetWriteDeadline(time.Now().Add(feedWriteTimeout)); err != nil {
				h.log.Errorf("Error setting write deadline: %v", err)
				return
			}

			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Errorf("Error writing observation: %v", err)
				return
			}
		}
	}
}
