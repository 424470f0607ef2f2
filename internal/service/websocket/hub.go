package websocket

import (
	"context"
	"sync"
	"time"

	"booth/internal/logger"

	"github.com/gorilla/websocket"
)

// broadcastBuffer bounds queued broadcasts; producers never block on a
// slow hub.
const broadcastBuffer = 64

// writeWait bounds a single write so one stalled client cannot hold up the
// hub.
const writeWait = 2 * time.Second

type directMessage struct {
	client  *websocket.Conn
	payload []byte
}

// HubService fans messages out to registered websocket clients. All writes
// to a connection happen on the Run goroutine.
type HubService struct {
	name        string
	messageType int

	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	direct     chan directMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	writeWait  time.Duration
	mutex      sync.RWMutex
	logger     *logger.Logger
}

// NewHubService creates a hub that sends messages of messageType
// (websocket.TextMessage or websocket.BinaryMessage).
func NewHubService(name string, messageType int, logger *logger.Logger) *HubService {
	return &HubService{
		name:        name,
		messageType: messageType,
		clients:     make(map[*websocket.Conn]bool),
		broadcast:   make(chan []byte, broadcastBuffer),
		direct:      make(chan directMessage, broadcastBuffer),
		register:    make(chan *websocket.Conn),
		unregister:  make(chan *websocket.Conn),
		done:        make(chan struct{}),
		writeWait:   writeWait,
		logger:      logger,
	}
}

// Run serves the hub until ctx is cancelled, then closes every client.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("%s client connected. Total: %d", h.name, count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("%s client disconnected. Total: %d", h.name, count)

		case msg := <-h.direct:
			h.mutex.Lock()
			if _, ok := h.clients[msg.client]; ok {
				h.send(msg.client, msg.payload)
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				h.send(client, message)
			}
			h.mutex.Unlock()
		}
	}
}

// send writes to one client and drops it on error. Callers hold the lock.
func (h *HubService) send(client *websocket.Conn, payload []byte) {
	client.SetWriteDeadline(time.Now().Add(h.writeWait))
	if err := client.WriteMessage(h.messageType, payload); err != nil {
		h.logger.Error("Error sending %s message: %v", h.name, err)
		delete(h.clients, client)
		client.Close()
	}
}

// Register adds a client. After the hub stopped the client is closed instead.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues message for every client. When the queue is full the
// message is dropped and false is returned.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		h.logger.Warning("%s hub queue full, dropping message", h.name)
		return false
	}
}

// SendTo queues message for a single registered client.
func (h *HubService) SendTo(client *websocket.Conn, message []byte) bool {
	select {
	case h.direct <- directMessage{client: client, payload: message}:
		return true
	default:
		h.logger.Warning("%s hub queue full, dropping direct message", h.name)
		return false
	}
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
