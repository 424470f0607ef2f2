package handler

import (
	"net/http"

	"booth/internal/logger"
	"booth/internal/service/websocket"

	gorilla "github.com/gorilla/websocket"
)

// controlReadLimit bounds a single control message.
const controlReadLimit = 4096

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = gorilla.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler handles viewer connections over WebSocket and
// registers them in the hub to receive preview frames.
func ViewWebsocketHandler(hub *websocket.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		hub.Register(connection)
		defer hub.Unregister(connection)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				logDisconnect(logger, "Viewer", err)
				break
			}
		}
	}
}

// ControlWebsocketHandler serves the remote-control protocol: the client
// gets the parameters on connect and may send slider and trigger messages.
func ControlWebsocketHandler(control *websocket.ControlService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(controlReadLimit)

		control.Hub().Register(connection)
		defer control.Hub().Unregister(connection)
		control.Welcome(connection)

		for {
			_, msg, err := connection.ReadMessage()
			if err != nil {
				logDisconnect(logger, "Control client", err)
				break
			}
			control.HandleMessage(connection, msg)
		}
	}
}

func logDisconnect(logger *logger.Logger, who string, err error) {
	if gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
		logger.Info("%s disconnected normally", who)
	} else {
		logger.Warning("%s disconnected with error: %v", who, err)
	}
}
