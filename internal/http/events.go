package http

import (
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"go-rdm-bridge-ui/internal/view"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type revisionEvent struct {
	Revision uint64 `json:"revision"`
}

// serveEvents streams the session's state revision over a websocket. The
// current revision is sent first, then one message per change.
func serveEvents(w nethttp.ResponseWriter, r *nethttp.Request, id string, c *view.Controller, logger *zap.Logger) {
	if !allowMethod(w, r, nethttp.MethodGet) {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("upgrade events websocket", zap.String("session", id), zap.Error(err))
		return
	}
	defer conn.Close()

	revisions, unsubscribe := c.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go readLoop(conn, done)

	if err := writeRevision(conn, c.Revision()); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case rev, ok := <-revisions:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := writeRevision(conn, rev); err != nil {
				logger.Debug("events write failed", zap.String("session", id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed.
func readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeRevision(conn *websocket.Conn, rev uint64) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(revisionEvent{Revision: rev})
}
