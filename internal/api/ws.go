package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"jobflow/internal/models"
	"jobflow/internal/realtime"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// wsCommand is a client frame on the subscription socket.
type wsCommand struct {
	Action     string `json:"action"`
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	Department string `json:"department"`
	Topic      string `json:"topic"`
}

// wsReply acknowledges a command. Event frames use realtime.Message.
type wsReply struct {
	Type   string   `json:"type"`
	Action string   `json:"action,omitempty"`
	Error  string   `json:"error,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// handleWebsocket upgrades to a subscription socket. When the actor headers
// are present the connection is authenticated straight away. The reader
// goroutine handles commands; a single writer goroutine owns the socket's
// write side.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	hub := s.core.Hub
	conn := hub.Connect(s.cfg.HubBufferSize)
	replies := make(chan wsReply, 16)
	done := make(chan struct{})

	go s.wsWriter(ws, conn, replies, done)

	reply := func(rep wsReply) {
		select {
		case replies <- rep:
		case <-done:
		}
	}

	if user := actorOf(r); user != "" {
		if _, err := hub.Authenticate(conn.ID(), user, r.Header.Get(headerRole), r.URL.Query().Get("department")); err != nil {
			reply(wsReply{Type: "error", Action: "authenticate", Error: err.Error()})
		} else {
			reply(wsReply{Type: "ack", Action: "authenticate", Topics: hub.Topics(conn.ID())})
		}
	}

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var cmd wsCommand
		if err := ws.ReadJSON(&cmd); err != nil {
			break
		}
		var cerr error
		switch cmd.Action {
		case "authenticate":
			_, cerr = hub.Authenticate(conn.ID(), cmd.UserID, cmd.Role, cmd.Department)
		case "join":
			cerr = hub.Join(conn.ID(), cmd.Topic)
		case "leave":
			cerr = hub.Leave(conn.ID(), cmd.Topic)
		default:
			cerr = models.Validation("websocket", "unknown action "+cmd.Action)
		}
		if cerr != nil {
			reply(wsReply{Type: "error", Action: cmd.Action, Error: cerr.Error()})
			continue
		}
		reply(wsReply{Type: "ack", Action: cmd.Action, Topics: hub.Topics(conn.ID())})
	}

	hub.Disconnect(conn.ID())
	<-done
}

func (s *Server) wsWriter(ws *websocket.Conn, conn *realtime.Conn, replies <-chan wsReply, done chan<- struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
		close(done)
	}()
	for {
		var err error
		select {
		case m, ok := <-conn.Messages():
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err = ws.WriteJSON(m)
		case rep := <-replies:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err = ws.WriteJSON(rep)
		case <-ticker.C:
			err = ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
		}
		if err != nil {
			s.logger.Debug("websocket write failed", "conn_id", conn.ID(), "error", err)
			return
		}
	}
}
