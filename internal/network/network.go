// Package network provides the HTTP and WebSocket clients backing the
// `net` native module.
package network

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Module owns the HTTP client and the open WebSocket connections of one
// VM instance.
type Module struct {
	client *http.Client

	mu     sync.Mutex
	nextID int
	wsOpen map[string]*websocket.Conn
}

func NewModule() *Module {
	return &Module{
		client: &http.Client{Timeout: 30 * time.Second},
		wsOpen: make(map[string]*websocket.Conn),
	}
}

// HTTPGet fetches a URL and returns the status code and body.
func (m *Module) HTTPGet(url string) (int, string, error) {
	resp, err := m.client.Get(url)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(body), nil
}

// WSConnect dials a WebSocket endpoint and returns a connection id.
func (m *Module) WSConnect(url string) (string, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("ws-%d", m.nextID)
	m.wsOpen[id] = conn
	return id, nil
}

func (m *Module) ws(id string) (*websocket.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.wsOpen[id]
	if !ok {
		return nil, fmt.Errorf("no open websocket %q", id)
	}
	return conn, nil
}

// WSSend writes a text message.
func (m *Module) WSSend(id, message string) error {
	conn, err := m.ws(id)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(message))
}

// WSReceive reads the next text message, bounded by a timeout.
func (m *Module) WSReceive(id string, timeout time.Duration) (string, error) {
	conn, err := m.ws(id)
	if err != nil {
		return "", err
	}
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WSClose closes one connection.
func (m *Module) WSClose(id string) error {
	m.mu.Lock()
	conn, ok := m.wsOpen[id]
	delete(m.wsOpen, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no open websocket %q", id)
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}
