package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/warden/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsBacklog    = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin only, to stop cross-site websocket hijacking.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		if rest, ok := strings.CutPrefix(origin, "http://"); ok {
			return rest == r.Host
		}
		if rest, ok := strings.CutPrefix(origin, "https://"); ok {
			return rest == r.Host
		}
		return false
	},
}

// handleProgressWS streams pass events. New clients first receive the
// recent backlog.
func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "progress stream not enabled", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.hub.Subscribe(256)
	defer s.hub.Unsubscribe(ch)

	// Reader: handles pongs and notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(e events.Event) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(e) == nil
	}

	for _, e := range s.hub.Recent(wsBacklog) {
		if !write(e) {
			return
		}
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e := <-ch:
			if !write(e) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
