package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/cbodonnell/starminers/pkg/api/middleware"
	"github.com/cbodonnell/starminers/pkg/feed"
	"github.com/cbodonnell/starminers/pkg/log"
	"github.com/cbodonnell/starminers/pkg/scouting"
	"github.com/gorilla/websocket"
)

const liveWriteTimeout = 10 * time.Second

// Origins are enforced by the CORS layer in front of the router
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleLive streams the global merged view over a WebSocket: once on
// connect and again whenever it changes.
func HandleLive(service *scouting.Service, hub *feed.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Subscribed before the snapshot is read so no update can fall between them.
		sub, err := hub.Subscribe()
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer hub.Unsubscribe(sub.ID)

		initial, err := service.ReadGlobalMerged(r.Context(), middleware.Credential(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("Failed to upgrade to WebSocket: %v", err)
			return
		}
		defer conn.Close()
		log.Debug("Live feed subscriber %d connected from %s", sub.ID, conn.RemoteAddr().String())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go readUntilClosed(conn, cancel)

		if err := writeUpdate(conn, feed.Update{Sightings: initial, At: time.Now().Unix()}); err != nil {
			log.Trace("Live feed subscriber %d write failed: %v", sub.ID, err)
			return
		}
		for {
			select {
			case <-ctx.Done():
				log.Trace("Live feed subscriber %d disconnected", sub.ID)
				return
			case update, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writeUpdate(conn, update); err != nil {
					log.Trace("Live feed subscriber %d write failed: %v", sub.ID, err)
					return
				}
			}
		}
	}
}

func writeUpdate(conn *websocket.Conn, update feed.Update) error {
	conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return conn.WriteJSON(update)
}

// readUntilClosed discards client messages and cancels once the connection closes.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("Live feed read error from %s: %v", conn.RemoteAddr().String(), err)
			}
			return
		}
	}
}
