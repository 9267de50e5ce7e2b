package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"etlsched/pkg/logx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	wsWriteWait = 10 * time.Second
	wsPingEvery = 30 * time.Second
)

// wsSnapshot is the first frame on every connection: current scheduler
// state so the client does not have to fetch it over REST first.
type wsSnapshot struct {
	Type   string `json:"type"`
	Status any    `json:"status"`
	Jobs   any    `json:"jobs"`
}

type wsEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logx.Err(err))
		return
	}
	defer conn.Close()

	sub := s.svc.Subscribe()
	defer s.svc.Unsubscribe(sub)

	log := s.log.With(logx.String("subscriber", sub.ID))
	log.Debug("websocket subscriber connected", logx.String("remote", r.RemoteAddr))

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(wsSnapshot{Type: "snapshot", Status: s.svc.Status(), Jobs: s.svc.ListJobs()}); err != nil {
		return
	}

	// Reader goroutine: we never expect client frames, but reading is
	// required to notice disconnects and service control messages.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-done:
			log.Debug("websocket subscriber disconnected")
			return
		case <-r.Context().Done():
			return
		case p, ok := <-sub.C:
			if !ok {
				// Evicted by the broadcaster for falling behind.
				log.Debug("websocket subscriber dropped")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(wsEvent{Type: "event", Payload: p}); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
