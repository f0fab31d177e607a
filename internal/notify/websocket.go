package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// MessageSubscribeToTrips is the client message acknowledged with EventSubscribed.
	MessageSubscribeToTrips = "subscribeToTrips"

	writeWait  = 5 * time.Second
	sendBuffer = 16
)

// WSHandler upgrades HTTP requests to websockets and subscribes each
// connection to the broadcaster until the client goes away.
type WSHandler struct {
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// NewWSHandler builds the websocket endpoint.
func NewWSHandler(b *Broadcaster, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		broadcaster: b,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// wsObserver queues events for the connection's writer goroutine. A full
// queue drops the event so a slow client never stalls the broadcaster.
type wsObserver struct {
	send chan Event
}

func (o *wsObserver) Deliver(_ context.Context, event Event) error {
	select {
	case o.send <- event:
		return nil
	default:
		return ErrObserverFull
	}
}

func (h *WSHandler) writeLoop(conn *websocket.Conn, send <-chan Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event := <-send:
			err := conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err == nil {
				err = conn.WriteJSON(event)
			}
			if err != nil {
				h.logger.Debug("observer write failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	observer := &wsObserver{send: make(chan Event, sendBuffer)}
	done := make(chan struct{})
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		h.writeLoop(conn, observer.send, done)
	}()
	defer func() {
		close(done)
		writer.Wait()
	}()

	unsubscribe := h.broadcaster.Subscribe(observer)
	defer unsubscribe()
	h.logger.Debug("observer connected", zap.String("remote", r.RemoteAddr))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("observer read failed", zap.Error(err))
			}
			return
		}
		if isSubscribe(msg) {
			if err := observer.Deliver(r.Context(), Event{Name: EventSubscribed}); err != nil {
				h.logger.Debug("subscribe ack dropped", zap.Error(err))
			}
		}
	}
}

// isSubscribe accepts either the bare message name or {"event":"subscribeToTrips"}.
func isSubscribe(msg []byte) bool {
	text := strings.TrimSpace(string(msg))
	if text == MessageSubscribeToTrips {
		return true
	}
	var envelope struct {
		Event string `json:"event"`
	}
	return json.Unmarshal(msg, &envelope) == nil && envelope.Event == MessageSubscribeToTrips
}
