package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"barista/internal/executor"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 64 * 1024
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is a frame pushed to WebSocket clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Command is a frame sent by WebSocket clients
type Command struct {
	Action string `json:"action"`
	Recipe string `json:"recipe,omitempty"`
}

// WSConnection maintains the WebSocket connection with the client
type WSConnection struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server

	closeOnce sync.Once
	done      chan struct{}
}

// handleWebSocket upgrades the request and streams executor activity
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnw("failed to upgrade connection", "error", err)
		return
	}

	wsConn := &WSConnection{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
		done:   make(chan struct{}),
	}

	states, stopStates := s.exec.SubscribeStates(16)
	events, stopEvents := s.exec.SubscribeEvents(64)

	wsConn.sendMessage(Message{Type: "status", Data: StatusResponse{State: s.exec.State(), Progress: s.exec.Progress()}})

	go wsConn.forward(states, events, func() {
		stopStates()
		stopEvents()
	})
	go wsConn.writePump()
	go wsConn.readPump()
}

// forward copies executor updates onto the send queue until the connection closes
func (c *WSConnection) forward(states <-chan executor.StateChange, events <-chan executor.Event, stop func()) {
	defer stop()
	for {
		select {
		case <-c.done:
			return
		case sc, ok := <-states:
			if !ok {
				c.shutdown()
				return
			}
			c.sendMessage(Message{Type: "state", Data: sc})
		case ev, ok := <-events:
			if !ok {
				c.shutdown()
				return
			}
			c.sendMessage(Message{Type: "event", Data: ev})
		}
	}
}

// readPump pumps commands from the WebSocket connection to the executor
func (c *WSConnection) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.Warnw("websocket error", "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump pumps messages from the server to the WebSocket connection
func (c *WSConnection) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.shutdown()
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

// handleMessage processes incoming commands
func (c *WSConnection) handleMessage(message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.sendError("invalid command: " + err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cmd.Action {
	case "status":
		c.sendMessage(Message{Type: "status", Data: StatusResponse{State: c.server.exec.State(), Progress: c.server.exec.Progress()}})
	case "brew":
		status, body := c.server.brew(ctx, cmd.Recipe)
		if status >= http.StatusBadRequest {
			c.sendMessage(Message{Type: "error", Data: body})
			return
		}
		c.sendMessage(Message{Type: "ack", Data: body})
	case "abort":
		c.server.exec.Abort(ctx)
		c.sendMessage(Message{Type: "ack", Data: gin.H{"message": "Recipe aborted"}})
	default:
		c.sendError("unknown action: " + cmd.Action)
	}
}

// sendMessage queues a frame, dropping it when the client is too slow
func (c *WSConnection) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.server.log.Errorw("failed to marshal websocket message", "type", msg.Type, "error", err)
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.server.log.Warnw("websocket buffer full, dropping message", "type", msg.Type)
	}
}

// sendError sends an error message to the client
func (c *WSConnection) sendError(message string) {
	c.sendMessage(Message{Type: "error", Data: gin.H{"error": message}})
}

func (c *WSConnection) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}
