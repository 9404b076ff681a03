package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
)

// WebSocketManager manages WebSocket connections for real-time execution
// updates. It implements the runtime notifier contract: events are
// broadcast to subscribers and never block or fail the execution that
// produced them.
type WebSocketManager struct {
	// upgrader for upgrading HTTP connections to WebSocket
	upgrader websocket.Upgrader

	// connections maps execution IDs to sets of WebSocket connections.
	// The empty execution ID holds the firehose subscribers that
	// receive every event.
	connections map[string]map[*websocket.Conn]bool

	// connectionMeta stores metadata for each connection
	connectionMeta map[*websocket.Conn]*ConnectionMetadata

	// writeMu serializes writes per connection
	writeMu sync.Map

	// mutex for thread-safe access
	mu sync.RWMutex
}

// ConnectionMetadata stores metadata about a WebSocket connection
type ConnectionMetadata struct {
	UserID        string
	ConnectedAt   time.Time
	LastPingAt    time.Time
	Subscriptions map[string]bool // execution IDs this connection is subscribed to
}

// ExecutionUpdate is the outbound event envelope
type ExecutionUpdate struct {
	Event       string                    `json:"event"`
	ExecutionID string                    `json:"execution_id,omitempty"`
	Timestamp   time.Time                 `json:"timestamp"`
	Execution   *models.FlowExecution     `json:"execution,omitempty"`
	Step        *models.FlowExecutionStep `json:"step,omitempty"`
	Message     string                    `json:"message,omitempty"`
}

// WebSocketMessage represents incoming WebSocket messages
type WebSocketMessage struct {
	Type        string `json:"type"` // "subscribe", "unsubscribe", "ping"
	ExecutionID string `json:"execution_id,omitempty"`
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from any origin for now
				// In production, this should be more restrictive
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections:    make(map[string]map[*websocket.Conn]bool),
		connectionMeta: make(map[*websocket.Conn]*ConnectionMetadata),
	}
}

// NotifyExecution broadcasts an execution lifecycle transition
func (wsm *WebSocketManager) NotifyExecution(execution *models.FlowExecution, event string) {
	update := ExecutionUpdate{
		Event:       event,
		ExecutionID: execution.ID,
		Timestamp:   time.Now(),
		Execution:   execution,
	}
	wsm.broadcastToExecution(execution.ID, update)
	wsm.broadcastToExecution("", update)
}

// NotifyStep broadcasts a step start, completion or failure
func (wsm *WebSocketManager) NotifyStep(step *models.FlowExecutionStep, event string) {
	update := ExecutionUpdate{
		Event:       event,
		ExecutionID: step.ExecutionID,
		Timestamp:   time.Now(),
		Step:        step,
	}
	wsm.broadcastToExecution(step.ExecutionID, update)
	wsm.broadcastToExecution("", update)
}

// HandleWebSocket handles WebSocket connection upgrade and management
func (wsm *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := wsm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	wsm.mu.Lock()
	wsm.connectionMeta[conn] = &ConnectionMetadata{
		UserID:        userID,
		ConnectedAt:   time.Now(),
		LastPingAt:    time.Now(),
		Subscriptions: make(map[string]bool),
	}
	wsm.mu.Unlock()

	defer func() {
		wsm.removeConnection(conn)
		log.Printf("WebSocket connection closed for user %s", userID)
	}()

	log.Printf("WebSocket connection established for user %s", userID)

	conn.SetPongHandler(func(string) error {
		wsm.mu.Lock()
		if meta, exists := wsm.connectionMeta[conn]; exists {
			meta.LastPingAt = time.Now()
		}
		wsm.mu.Unlock()
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go wsm.pingRoutine(conn, stop)

	for {
		var msg WebSocketMessage
		err := conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		wsm.handleMessage(conn, &msg, userID)
	}
}

// handleMessage processes incoming WebSocket messages
func (wsm *WebSocketManager) handleMessage(conn *websocket.Conn, msg *WebSocketMessage, userID string) {
	switch msg.Type {
	case "subscribe":
		wsm.subscribeToExecution(conn, msg.ExecutionID, userID)
	case "unsubscribe":
		wsm.unsubscribeFromExecution(conn, msg.ExecutionID)
	case "ping":
		wsm.sendMessage(conn, ExecutionUpdate{
			Event:     "pong",
			Timestamp: time.Now(),
		})
	default:
		log.Printf("Unknown WebSocket message type: %s", msg.Type)
	}
}

// subscribeToExecution subscribes a connection to execution updates. An
// empty execution ID subscribes to every event.
func (wsm *WebSocketManager) subscribeToExecution(conn *websocket.Conn, executionID, userID string) {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()

	if wsm.connections[executionID] == nil {
		wsm.connections[executionID] = make(map[*websocket.Conn]bool)
	}
	wsm.connections[executionID][conn] = true

	if meta, exists := wsm.connectionMeta[conn]; exists {
		meta.Subscriptions[executionID] = true
	}

	log.Printf("User %s subscribed to execution %q", userID, executionID)
}

// unsubscribeFromExecution unsubscribes a connection from execution updates
func (wsm *WebSocketManager) unsubscribeFromExecution(conn *websocket.Conn, executionID string) {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()

	if execConns, exists := wsm.connections[executionID]; exists {
		delete(execConns, conn)
		if len(execConns) == 0 {
			delete(wsm.connections, executionID)
		}
	}

	if meta, exists := wsm.connectionMeta[conn]; exists {
		delete(meta.Subscriptions, executionID)
	}
}

// broadcastToExecution sends an update to all connections subscribed to
// an execution
func (wsm *WebSocketManager) broadcastToExecution(executionID string, update ExecutionUpdate) {
	wsm.mu.RLock()
	connections, exists := wsm.connections[executionID]
	if !exists {
		wsm.mu.RUnlock()
		return
	}

	// Copy the set so the lock is not held during sending
	connsCopy := make([]*websocket.Conn, 0, len(connections))
	for conn := range connections {
		connsCopy = append(connsCopy, conn)
	}
	wsm.mu.RUnlock()

	for _, conn := range connsCopy {
		wsm.sendMessage(conn, update)
	}
}

// sendMessage sends a message to a WebSocket connection
func (wsm *WebSocketManager) sendMessage(conn *websocket.Conn, update ExecutionUpdate) {
	lock, _ := wsm.writeMu.LoadOrStore(conn, &sync.Mutex{})
	mu := lock.(*sync.Mutex)

	mu.Lock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err := conn.WriteJSON(update)
	mu.Unlock()

	if err != nil {
		log.Printf("Failed to send WebSocket message: %v", err)
		wsm.removeConnection(conn)
	}
}

// removeConnection removes a connection from all subscriptions
func (wsm *WebSocketManager) removeConnection(conn *websocket.Conn) {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()

	if meta, exists := wsm.connectionMeta[conn]; exists {
		for executionID := range meta.Subscriptions {
			if execConns, exists := wsm.connections[executionID]; exists {
				delete(execConns, conn)
				if len(execConns) == 0 {
					delete(wsm.connections, executionID)
				}
			}
		}
	}

	delete(wsm.connectionMeta, conn)
	wsm.writeMu.Delete(conn)
	conn.Close()
}

// pingRoutine sends periodic ping messages to keep the connection alive
func (wsm *WebSocketManager) pingRoutine(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			lock, _ := wsm.writeMu.LoadOrStore(conn, &sync.Mutex{})
			mu := lock.(*sync.Mutex)

			mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			mu.Unlock()

			if err != nil {
				wsm.removeConnection(conn)
				return
			}
		}
	}
}

// GetConnectedClients returns the number of connected clients
func (wsm *WebSocketManager) GetConnectedClients() int {
	wsm.mu.RLock()
	defer wsm.mu.RUnlock()
	return len(wsm.connectionMeta)
}

// GetExecutionSubscribers returns the number of subscribers for an execution
func (wsm *WebSocketManager) GetExecutionSubscribers(executionID string) int {
	wsm.mu.RLock()
	defer wsm.mu.RUnlock()
	if connections, exists := wsm.connections[executionID]; exists {
		return len(connections)
	}
	return 0
}
