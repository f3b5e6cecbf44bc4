package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nycmg-backend/internal/models"
)

// ErrorChannel is the Redis channel new error records are fanned out on.
const ErrorChannel = "ai_errors"

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type tokenParser interface {
	ParseToken(tokenStr string) (uuid.UUID, error)
}

// Hub pushes new error records to connected dashboards. With Redis the
// records of every instance reach every subscriber; without it only local
// records are delivered.
type Hub struct {
	mu          sync.Mutex
	connections map[uuid.UUID][]*websocket.Conn
	redisClient *redis.Client
	auth        tokenParser
	logger      *zap.Logger
}

func NewHub(redisClient *redis.Client, auth tokenParser, logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*websocket.Conn),
		redisClient: redisClient,
		auth:        auth,
		logger:      logger,
	}
}

// Run relays the Redis channel to local connections until ctx is done.
// It returns immediately when the hub has no Redis client.
func (h *Hub) Run(ctx context.Context) {
	if h.redisClient == nil {
		return
	}

	pubsub := h.redisClient.Subscribe(ctx, ErrorChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast([]byte(msg.Payload))
		}
	}
}

// PublishError announces rec to live subscribers.
func (h *Hub) PublishError(ctx context.Context, rec *models.ErrorRecord) error {
	data, err := json.Marshal(models.WSMessage{
		Type: "error_recorded",
		Payload: models.ErrorEvent{
			ErrorID:  rec.ID,
			Kind:     string(rec.Kind),
			Severity: string(rec.Severity),
			Message:  rec.Message,
			Path:     rec.Context.Path,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal error event: %w", err)
	}

	if h.redisClient == nil {
		h.broadcast(data)
		return nil
	}
	if err := h.redisClient.Publish(ctx, ErrorChannel, data).Err(); err != nil {
		return fmt.Errorf("publish error event: %w", err)
	}
	return nil
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := h.auth.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.registerConnection(userID, conn)

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(userID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Connections returns the number of open sockets.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, conns := range h.connections {
		n += len(conns)
	}
	return n
}

func (h *Hub) registerConnection(userID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[userID] = append(h.connections[userID], conn)
	h.logger.Debug("websocket connected", zap.String("user_id", userID.String()), zap.Int("user_connections", len(h.connections[userID])))
}

func (h *Hub) unregisterConnection(userID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()

	conns := h.connections[userID]
	for i, c := range conns {
		if c == conn {
			h.connections[userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.connections[userID]) == 0 {
		delete(h.connections, userID)
	}

	h.logger.Debug("websocket disconnected", zap.String("user_id", userID.String()))
}

// broadcast holds the write lock: gorilla connections allow one writer.
func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conns := range h.connections {
		for _, conn := range conns {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
			}
		}
	}
}
