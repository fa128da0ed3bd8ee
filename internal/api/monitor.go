package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ssrf-beamline/fpsioc/internal/param"
)

const (
	monitorWriteWait = 5 * time.Second
	monitorPongWait  = 60 * time.Second
	monitorPingEvery = monitorPongWait * 9 / 10
	monitorQueue     = 64
)

// MonitorMessage is one parameter update sent over the monitor socket.
type MonitorMessage struct {
	Port  string      `json:"port"`
	Param string      `json:"param"`
	Addr  int         `json:"addr"`
	Value interface{} `json:"value"`
	Time  time.Time   `json:"ts"`
}

// handleMonitor upgrades to a WebSocket and streams the parameter
// callbacks of one port until the client goes away. Updates are dropped
// while the client is behind.
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	port := mux.Vars(r)["port"]
	if _, err := s.orchestrator.Port(port); err != nil {
		writeAPIError(w, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("monitor upgrade failed", "port", port, "error", err)
		return
	}
	defer ws.Close()

	updates := make(chan param.Update, monitorQueue)
	cancel, err := s.orchestrator.Watch(port, func(u param.Update) {
		select {
		case updates <- u:
		default:
		}
	})
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
			time.Now().Add(monitorWriteWait))
		return
	}
	defer cancel()

	done := make(chan struct{})
	go s.monitorReadLoop(ws, done)

	s.logger.Debug("monitor client connected", "port", port)
	ping := time.NewTicker(monitorPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case u := <-updates:
			_ = ws.SetWriteDeadline(time.Now().Add(monitorWriteWait))
			err := ws.WriteJSON(MonitorMessage{
				Port:  port,
				Param: u.Name,
				Addr:  u.Addr,
				Value: u.Value(),
				Time:  u.Time,
			})
			if err != nil {
				s.logger.Debug("monitor write failed", "port", port, "error", err)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(monitorWriteWait)); err != nil {
				return
			}
		}
	}
}

// monitorReadLoop discards client messages and closes done when the
// connection fails or the client stops answering pings.
func (s *Server) monitorReadLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	_ = ws.SetReadDeadline(time.Now().Add(monitorPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(monitorPongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
