package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"

	pkgredis "github.com/echocast/core/internal/pkg/redis"
)

// NewHub creates the gateway hub. rc may be nil to disable fan-out.
func NewHub(rc *pkgredis.Client, logger *zap.Logger, adminTokenValidator func(string) bool) *Hub {
	sio := socketio.NewServer(nil, nil)
	h := &Hub{
		sidRoom:             make(map[string]string),
		roomCount:           make(map[string]int),
		logSubs:             make(map[string]adminLogSubscription),
		broadcast:           make(chan Message, 256),
		register:            make(chan clientMeta, 256),
		unregister:          make(chan clientMeta, 256),
		rc:                  rc,
		logger:              logger,
		sio:                 sio,
		adminTokenValidator: adminTokenValidator,
	}
	h.registerNamespaces()
	return h
}

// Run starts the hub loop and the Redis subscriber.
func (h *Hub) Run(ctx context.Context) {
	if h.rc != nil {
		go h.subscribeRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.sio.Close(nil)
			return

		case c := <-h.register:
			h.registerClient(c)

		case c := <-h.unregister:
			h.unregisterClient(c)

		case msg := <-h.broadcast:
			h.deliver(msg)
			if h.rc == nil {
				continue
			}
			channel := redisChanLive
			if msg.Room == RoomAdmin {
				channel = redisChanAdmin
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := h.rc.Publish(ctx, channel, string(data)); err != nil && h.logger != nil {
				h.logger.Warn("gateway publish failed", zap.String("channel", channel), zap.Error(err))
			}
		}
	}
}

func (h *Hub) registerClient(c clientMeta) {
	broadcastListeners := false
	listeners := 0

	h.mu.Lock()
	if oldRoom, ok := h.sidRoom[c.sid]; ok {
		if oldRoom == c.room {
			h.mu.Unlock()
			return
		}
		if h.roomCount[oldRoom] > 0 {
			h.roomCount[oldRoom]--
		}
	}

	h.sidRoom[c.sid] = c.room
	h.roomCount[c.room]++
	if c.room == RoomLive {
		broadcastListeners = true
		listeners = h.roomCount[RoomLive]
	}
	h.mu.Unlock()

	if broadcastListeners {
		h.BroadcastLive("listeners:count", listenerPayload(listeners))
	}
}

func (h *Hub) unregisterClient(c clientMeta) {
	broadcastListeners := false
	listeners := 0

	h.mu.Lock()
	room, ok := h.sidRoom[c.sid]
	if !ok {
		h.mu.Unlock()
		return
	}

	delete(h.sidRoom, c.sid)
	if h.roomCount[room] > 0 {
		h.roomCount[room]--
	}
	if room == RoomLive {
		broadcastListeners = true
		listeners = h.roomCount[RoomLive]
	}
	h.mu.Unlock()

	if broadcastListeners {
		h.BroadcastLive("listeners:count", listenerPayload(listeners))
	}
}

func listenerPayload(listeners int) map[string]interface{} {
	return map[string]interface{}{
		"listeners": listeners,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Broadcast sends an event to all clients in the given room (both
// namespaces if room is empty).
func (h *Hub) Broadcast(event string, payload interface{}, room string) {
	select {
	case h.broadcast <- Message{Event: event, Payload: payload, Room: room}:
	default:
		if h.logger != nil {
			h.logger.Warn("gateway broadcast buffer full", zap.String("event", event))
		}
	}
}

// BroadcastAdmin sends to admin clients only.
func (h *Hub) BroadcastAdmin(event string, payload interface{}) {
	h.Broadcast(event, payload, RoomAdmin)
}

// BroadcastLive sends to live stream listeners.
func (h *Hub) BroadcastLive(event string, payload interface{}) {
	h.Broadcast(event, payload, RoomLive)
}

// ClientCount returns connected clients, optionally filtered by room.
func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if room == "" {
		return len(h.sidRoom)
	}
	return h.roomCount[room]
}

// Handler returns the socket.io HTTP handler mounted at /socket.io.
func (h *Hub) Handler() http.Handler {
	return h.sio.ServeHandler(nil)
}
