package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/MrWong99/guru/internal/bridge"
	"github.com/MrWong99/guru/pkg/audio/browser"
)

// Live protocol message types. Control messages are JSON text frames; mic
// audio travels as binary frames. Device commands (mic_request, mic_stop,
// play, stop) are defined by package browser.
const (
	typeStart      = "start"
	typeStop       = "stop"
	typeState      = "state"
	typeError      = "error"
	typeTranscript = "transcript"
)

const (
	liveReadLimit = 1 << 20
	outboxSize    = 64
)

// control is a tab → server text frame.
type control struct {
	Type string `json:"type"`

	// Locale is the tab's language tag for start.
	Locale string `json:"locale,omitempty"`

	// Mic reply fields.
	Granted  bool   `json:"granted,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Rate     int    `json:"rate,omitempty"`
	Channels int    `json:"channels,omitempty"`
}

type stateEvent struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type transcriptEvent struct {
	Type      string   `json:"type"`
	Lines     []string `json:"lines"`
	Addressed bool     `json:"addressed,omitempty"`
}

// liveConn serialises writes of bridge events to one tab. Device commands
// are written directly; bridge events go through the outbox so hooks never
// wait on the network.
type liveConn struct {
	conn   *websocket.Conn
	log    *slog.Logger
	outbox chan any
}

func (lc *liveConn) send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return lc.conn.Write(ctx, websocket.MessageText, data)
}

func (lc *liveConn) push(v any) {
	select {
	case lc.outbox <- v:
	default:
		lc.log.Warn("server: live outbox full, dropping event")
	}
}

func (lc *liveConn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-lc.outbox:
			if err := lc.send(ctx, v); err != nil {
				lc.log.Debug("server: live write failed", "err", err)
				return
			}
		}
	}
}

func (lc *liveConn) onState(st bridge.Status) {
	lc.push(stateEvent{Type: typeState, State: st.State.String(), SessionID: st.SessionID})
	if st.State == bridge.StateIdle && st.Error != nil {
		lc.push(errorEvent{Type: typeError, Kind: st.Error.Kind.String(), Message: st.Error.Message})
	}
}

func (lc *liveConn) onTurn(t bridge.Turn) {
	lc.push(transcriptEvent{Type: typeTranscript, Lines: t.Lines[:], Addressed: t.Addressed})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.log.Debug("server: live upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(liveReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connID := ulid.Make().String()
	log := s.log.With("conn_id", connID)
	s.metrics.ActiveConnections.Add(ctx, 1)
	defer s.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)

	lc := &liveConn{conn: conn, log: log, outbox: make(chan any, outboxSize)}
	devices := browser.New(browser.SenderFunc(lc.send),
		browser.WithLogger(log),
		browser.WithMicTimeout(s.cfg.MicTimeout),
	)
	br, err := s.live(devices,
		bridge.WithLogger(log),
		bridge.WithStateHook(lc.onState),
		bridge.WithTurnHook(lc.onTurn),
	)
	if err != nil {
		log.Error("server: build live bridge", "err", err)
		conn.Close(websocket.StatusInternalError, "live unavailable")
		return
	}

	// A start still in flight when the tab goes away may activate after the
	// first End, so End runs again once every Begin has returned.
	var begins sync.WaitGroup
	defer func() {
		cancel()
		br.End()
		begins.Wait()
		br.End()
	}()
	go lc.writeLoop(ctx)

	log.Info("server: live connection opened")
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				log.Debug("server: live read ended", "err", err)
			}
			log.Info("server: live connection closed")
			return
		}
		if typ == websocket.MessageBinary {
			devices.HandleAudio(data)
			continue
		}

		var c control
		if err := json.Unmarshal(data, &c); err != nil {
			log.Debug("server: malformed live control", "err", err)
			continue
		}
		switch c.Type {
		case typeStart:
			begins.Go(func() {
				err := br.Begin(ctx, c.Locale)
				if errors.Is(err, bridge.ErrBusy) {
					log.Debug("server: start ignored, session already running")
				}
			})
		case typeStop:
			br.End()
		case browser.TypeMic:
			devices.HandleMic(browser.MicReply{
				Granted:  c.Granted,
				Reason:   c.Reason,
				Rate:     c.Rate,
				Channels: c.Channels,
			})
		default:
			log.Debug("server: unknown live control", "type", c.Type)
		}
	}
}
