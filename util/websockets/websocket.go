package websockets

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/bwise1/pothole_watch/internal/grouping"
	"github.com/bwise1/pothole_watch/internal/model"
	"github.com/gorilla/websocket"
)

const (
	broadcastBuffer = 64
	writeWait       = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewWebSocketManager initializes a WebSocketManager
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan outbound, broadcastBuffer),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		writeWait:  writeWait,
	}
}

// Run delivers broadcasts until Close is called.
func (manager *WebSocketManager) Run() {
	for {
		select {
		case <-manager.done:
			manager.mu.Lock()
			for conn := range manager.clients {
				conn.Close()
				delete(manager.clients, conn)
			}
			manager.mu.Unlock()
			return

		case conn := <-manager.unregister:
			manager.mu.Lock()
			if _, exists := manager.clients[conn]; exists {
				delete(manager.clients, conn)
				conn.Close()
			}
			manager.mu.Unlock()

		case msg := <-manager.broadcast:
			manager.mu.Lock()
			for conn, client := range manager.clients {
				if !client.wants(msg.position) {
					continue
				}
				if err := manager.write(conn, msg.payload); err != nil {
					conn.Close()
					delete(manager.clients, conn)
				}
			}
			manager.mu.Unlock()
		}
	}
}

func (manager *WebSocketManager) Close() {
	manager.closeOnce.Do(func() { close(manager.done) })
}

// Publish queues ev for every interested client. Events are dropped when the
// queue is full so mutations never wait on slow viewers.
func (manager *WebSocketManager) Publish(ev model.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[WebSocket]: unable to encode %s event: %v", ev.Type, err)
		return
	}
	select {
	case manager.broadcast <- outbound{payload: payload, position: ev.Position}:
	default:
		log.Printf("[WebSocket]: broadcast queue full, dropping %s event", ev.Type)
	}
}

func (manager *WebSocketManager) ClientCount() int {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return len(manager.clients)
}

// HandleConnections upgrades HTTP requests to WebSocket connections
func (manager *WebSocketManager) HandleConnections(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[WebSocket]: upgrade error:", err)
		return
	}

	client := &Client{Conn: conn}
	manager.mu.Lock()
	manager.clients[conn] = client
	manager.mu.Unlock()

	defer func() {
		select {
		case manager.unregister <- conn:
		case <-manager.done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var message Message
		if err := json.Unmarshal(msg, &message); err != nil {
			log.Println("[WebSocket]: invalid JSON:", err)
			continue
		}

		switch message.Type {
		case MsgTypeSubscribe:
			manager.subscribe(client, message.Latitude, message.Longitude, message.Radius)
		case MsgTypeUnsubscribe:
			manager.subscribe(client, 0, 0, 0)
		}
	}
}

func (manager *WebSocketManager) subscribe(client *Client, lat, lon, radius float64) {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	if radius < 0 {
		radius = 0
	}
	client.Latitude, client.Longitude, client.Radius = lat, lon, radius

	ack, _ := json.Marshal(Message{Type: MsgTypeSubscribed, Latitude: lat, Longitude: lon, Radius: radius})
	if err := manager.write(client.Conn, ack); err != nil {
		log.Println("[WebSocket]: unable to acknowledge subscription:", err)
	}
}

// write sends one text frame. A viewer that cannot take it within writeWait
// fails the write and is dropped by the caller.
func (manager *WebSocketManager) write(conn *websocket.Conn, payload []byte) error {
	conn.SetWriteDeadline(time.Now().Add(manager.writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// wants reports whether an event at pos falls inside the client's watch area.
func (c *Client) wants(pos *model.Position) bool {
	if c.Radius <= 0 || pos == nil {
		return true
	}
	return isNearby(c.Latitude, c.Longitude, pos.Latitude, pos.Longitude, c.Radius)
}

// isNearby checks if a viewer is within radius meters of a report
func isNearby(userLat, userLon, reportLat, reportLon, radius float64) bool {
	return grouping.Distance(userLat, userLon, reportLat, reportLon) <= radius
}
