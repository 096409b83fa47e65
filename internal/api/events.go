package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meit-swami/jewellery/internal/session"
	"github.com/meit-swami/jewellery/modules/eventbus"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

// handleEvents streams the viewer's session events over a websocket. The
// current status is sent first so a client attaching mid-initialization
// knows where the session stands.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("api: websocket upgrade failed", "viewer_id", viewerID, "error", err)
		return
	}
	defer conn.Close()

	bus := s.mgr.Bus()
	id := "ws-" + viewerID + "-" + uuid.NewString()
	events := make(chan eventbus.Event, 32)
	if err := bus.Subscribe(id, events); err != nil {
		slog.Warn("api: event subscription failed", "viewer_id", viewerID, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event bus unavailable"),
			time.Now().Add(writeWait))
		return
	}
	defer bus.Unsubscribe(id)

	slog.Debug("api: event stream opened", "viewer_id", viewerID, "subscriber", id)

	if sess, ok := s.mgr.Get(viewerID); ok {
		if err := writeEvent(conn, statusEvent(sess.Status())); err != nil {
			return
		}
	}

	// The read pump only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			slog.Debug("api: event stream closed", "viewer_id", viewerID)
			return
		case ev := <-events:
			if ev.ViewerID != viewerID {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev eventbus.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func statusEvent(st session.Status) eventbus.Event {
	return eventbus.Event{
		SessionID: st.SessionID,
		ViewerID:  st.ViewerID,
		Category:  st.Category,
		State:     st.State,
		Phase:     st.Phase,
		Message:   st.Message,
		ErrorKind: st.ErrorKind,
		Attempt:   st.Attempt,
		Time:      st.UpdatedAt,
	}
}
