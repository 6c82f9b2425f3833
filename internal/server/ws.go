package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/velstad/handmill/internal/progress"
)

// The writer process mirrors its progress into the analytic database;
// poll it at this interval to relay cross-process events.
const activityPollInterval = 2 * time.Second

// handleProgressWS streams pipeline progress events to the client. The
// last known event is replayed on connect so a fresh dashboard shows the
// current phase immediately. In-process events (materialize runs) arrive
// over the bus; the scraper's events arrive via the mirrored snapshot in
// the analytic database.
func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "progress stream not available")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// CloseRead watches for the client hanging up; its context cancels
	// when the peer closes the socket.
	ctx := conn.CloseRead(r.Context())
	events, cancel := s.bus.Subscribe()
	defer cancel()

	var lastSent time.Time
	if last := s.lastActivity(); last.Phase != "" {
		if err := s.writeEvent(ctx, conn, last); err != nil {
			return
		}
		lastSent = last.Time
	}

	ticker := time.NewTicker(activityPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := s.writeEvent(ctx, conn, ev); err != nil {
				if websocket.CloseStatus(err) == -1 {
					s.log.Debug().Err(err).Msg("WebSocket write failed")
				}
				return
			}
			lastSent = ev.Time
		case <-ticker.C:
			ev := s.storedActivity()
			if ev.Phase == "" || !ev.Time.After(lastSent) {
				continue
			}
			if err := s.writeEvent(ctx, conn, ev); err != nil {
				return
			}
			lastSent = ev.Time
		}
	}
}

// storedActivity reads the writer process snapshot, skipping the bus.
func (s *Server) storedActivity() progress.Event {
	if s.env == nil || s.env.Analytic == nil {
		return progress.Event{}
	}
	ev, err := s.env.Analytic.LastActivity()
	if err != nil {
		s.log.Debug().Err(err).Msg("stored activity read failed")
		return progress.Event{}
	}
	return ev
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, ev interface{}) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
