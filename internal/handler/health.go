package handler

import "net/http"

type ConnectionCounter interface {
	Connections() int
}

// Health: живость процесса и число открытых WebSocket-соединений хаба.
func Health(hub ConnectionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ws_connections": hub.Connections()})
	}
}
