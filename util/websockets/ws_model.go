package websockets

import (
	"sync"
	"time"

	"github.com/bwise1/pothole_watch/internal/model"
	"github.com/gorilla/websocket"
)

// Message types
const (
	MsgTypeSubscribe   = "subscribe"
	MsgTypeUnsubscribe = "unsubscribe"
	MsgTypeSubscribed  = "subscribed"
)

// Client represents a connected map viewer. A zero Radius receives every event.
type Client struct {
	Conn      *websocket.Conn
	Latitude  float64
	Longitude float64
	Radius    float64
}

type WebSocketManager struct {
	clients    map[*websocket.Conn]*Client
	broadcast  chan outbound
	unregister chan *websocket.Conn
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.Mutex
	writeWait  time.Duration
}

type outbound struct {
	payload  []byte
	position *model.Position
}

// Message struct for incoming WebSocket messages
type Message struct {
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Radius    float64 `json:"radius,omitempty"`
}
