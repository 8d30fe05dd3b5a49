package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
)

type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, send: make(chan []byte, 16)}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscribeRequest is the first client message on the socket, naming the
// job it wants pushed updates for.
type subscribeRequest struct {
	JobID string `json:"jobId"`
}

// serveJobProgress upgrades the request to a WebSocket, reads the client's
// first message to learn which job to subscribe to, then streams every
// domain.Job snapshot the registry publishes for it until the socket
// closes or the job reaches a terminal state.
func (s *Server) serveJobProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	var sub subscribeRequest
	if err := json.Unmarshal(msg, &sub); err != nil || sub.JobID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, nil)
		conn.Close()
		return
	}
	jobID := sub.JobID

	client := newWSClient(conn)

	if job, ok := s.Registry.Get(jobID); ok {
		client.enqueue(job)
	}

	updates := s.Registry.Subscribe(jobID)
	defer s.Registry.Unsubscribe(jobID, updates)

	go client.readPump()

	writePump(client, updates)
}

func (c *wsClient) enqueue(job domain.Job) {
	payload, err := json.Marshal(wsMessage{Type: "job", Data: job})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func writePump(c *wsClient, updates <-chan domain.Job) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case job, ok := <-updates:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			payload, err := json.Marshal(wsMessage{Type: "job", Data: job})
			if err == nil {
				_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				_ = c.conn.WriteMessage(websocket.TextMessage, payload)
			}
			if job.Status.IsTerminal() {
				return
			}
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
