package api

import (
	"encoding/binary"
	"errors"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/sushil32/Neura/internal/live"
)

// SessionFactory builds a live session over a transport. The server owns
// the factory so handlers stay free of pipeline wiring.
type SessionFactory func(t live.Transport, faceID, voiceID string) *live.Session

// Binary message layout: 1 byte kind, 8 bytes big-endian float64
// timestamp in seconds, then the payload.
const (
	wsKindFrame byte = 1
	wsKindAudio byte = 2
)

// clientMessage is what the browser sends over the socket.
type clientMessage struct {
	Type string `json:"type"` // say, bandwidth, close
	Text string `json:"text,omitempty"`
	BPS  int64  `json:"bps,omitempty"`
}

type LiveHandler struct {
	manager    *live.Manager
	newSession SessionFactory
	upgrader   websocket.Upgrader
}

func NewLiveHandler(manager *live.Manager, factory SessionFactory) *LiveHandler {
	return &LiveHandler{
		manager:    manager,
		newSession: factory,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 65536,
			// Auth happens in middleware; cross-origin browser clients
			// are expected.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades to a websocket and runs one session for the lifetime of
// the connection.
func (h *LiveHandler) Serve(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil || h.newSession == nil {
		WriteError(w, http.StatusServiceUnavailable, "live sessions not available")
		return
	}
	faceID, ok := QueryString(r, "face_id")
	if !ok {
		WriteError(w, http.StatusBadRequest, "face_id is required")
		return
	}
	voiceID, _ := QueryString(r, "voice_id")

	log := hlog.FromRequest(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	tr := newWSTransport(conn)
	session := h.newSession(tr, faceID, voiceID)
	if err := h.manager.Add(session); err != nil {
		tr.sendJSON(map[string]any{"type": "error", "error": err.Error()})
		session.Close()
		log.Warn().Err(err).Msg("live session rejected")
		return
	}
	defer h.manager.Remove(session.ID)
	defer session.Close()

	tr.sendJSON(map[string]any{
		"type":       "session",
		"session_id": session.ID,
		"quality":    session.Stats().Quality,
	})
	session.Start()

	go h.readLoop(conn, tr, session)

	<-session.Done()
	if serr := session.Err(); serr != nil {
		tr.sendJSON(map[string]any{"type": "error", "error": serr.Error()})
		log.Warn().Err(serr).Str("session_id", session.ID).Msg("live session ended on error")
	}
	stats := session.Stats()
	log.Info().
		Str("session_id", session.ID).
		Int64("frames_sent", stats.FramesSent).
		Int64("bytes_sent", stats.BytesSent).
		Msg("live session finished")
}

func (h *LiveHandler) readLoop(conn *websocket.Conn, tr *wsTransport, session *live.Session) {
	defer session.Close()
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "say":
			if err := session.Say(msg.Text); errors.Is(err, live.ErrBusy) {
				tr.sendJSON(map[string]any{"type": "busy"})
			}
		case "bandwidth":
			tr.setBandwidth(msg.BPS)
		case "close":
			return
		}
	}
}

// wsTransport adapts a websocket connection to the live.Transport
// interface. Writes are serialized; gorilla connections allow only one
// concurrent writer.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
	bps  atomic.Int64
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) SendFrame(frame []byte, ts float64) error {
	return t.send(wsKindFrame, ts, frame)
}

func (t *wsTransport) SendAudio(wav []byte) error {
	return t.send(wsKindAudio, 0, wav)
}

func (t *wsTransport) Bandwidth() int64 { return t.bps.Load() }

func (t *wsTransport) setBandwidth(bps int64) {
	if bps > 0 {
		t.bps.Store(bps)
	}
}

func (t *wsTransport) send(kind byte, ts float64, payload []byte) error {
	buf := make([]byte, 9+len(payload))
	buf[0] = kind
	binary.BigEndian.PutUint64(buf[1:9], math.Float64bits(ts))
	copy(buf[9:], payload)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteMessage(websocket.BinaryMessage, buf)
}

func (t *wsTransport) sendJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteJSON(v)
}
