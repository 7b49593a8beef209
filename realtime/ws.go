package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"agritrace/config"
	"agritrace/internal/logger"
	"agritrace/internal/models"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 90 * time.Second
	pingInterval = 60 * time.Second
	maxFrameSize = 1024
)

// clientMessage is the subscribe protocol clients speak over the socket.
type clientMessage struct {
	Action  string `json:"action"` // "subscribe" or "unsubscribe"
	BatchID string `json:"batchId"`
}

// pushFrame is the wire shape a delta takes on the socket. Field casing
// matches the subscribe protocol; the internal Delta keeps its own tags for
// the firehose topic.
type pushFrame struct {
	Type           models.EventType `json:"type"`
	BatchID        string           `json:"batchId"`
	Payload        json.RawMessage  `json:"payload"`
	LedgerSequence uint64           `json:"ledgerSequence"`
}

func newPushFrame(d *models.Delta) pushFrame {
	return pushFrame{
		Type:           d.Type,
		BatchID:        d.BatchID,
		Payload:        d.Payload,
		LedgerSequence: d.LedgerSequence,
	}
}

// ServeWS upgrades HTTP connections and bridges them into the hub. Each
// connection becomes a session with a read pump handling subscribe requests
// and a write pump pushing deltas. Authentication is the embedding server's
// middleware concern; the hub trusts the handle it is given.
func ServeWS(h *Hub, cfg config.RealtimeConfig, log *logger.Logger) http.HandlerFunc {
	upgr := &websocket.Upgrader{
		// Browser clients connect from the app origin; cross-origin
		// policy is enforced by the fronting proxy.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return func(w http.ResponseWriter, r *http.Request) {
		wc, err := upgr.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return
		}

		s := NewSession(uuid.NewString(), cfg.SendBuffer)
		log.Debug("websocket session connected", "session", s.ID())

		go writePump(wc, s, log)
		readPump(wc, h, s, log)

		h.Drop(s)
		log.Debug("websocket session disconnected", "session", s.ID())
	}
}

func readPump(wc *websocket.Conn, h *Hub, s *Session, log *logger.Logger) {
	wc.SetReadLimit(maxFrameSize)
	_ = wc.SetReadDeadline(time.Now().Add(pongTimeout))
	wc.SetPongHandler(func(string) error {
		return wc.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, raw, err := wc.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "session", s.ID(), "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warn("ignoring malformed client message", "session", s.ID(), "error", err)
			continue
		}

		switch msg.Action {
		case "subscribe":
			h.Subscribe(s, msg.BatchID)
		case "unsubscribe":
			h.Unsubscribe(s, msg.BatchID)
		default:
			log.Warn("ignoring unknown client action", "session", s.ID(), "action", msg.Action)
		}
	}
}

func writePump(wc *websocket.Conn, s *Session, log *logger.Logger) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	defer wc.Close()

	for {
		select {
		case d, ok := <-s.C():
			if !ok {
				_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = wc.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteJSON(newPushFrame(d)); err != nil {
				log.Debug("websocket write failed", "session", s.ID(), "error", err)
				return
			}
		case <-t.C:
			_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
