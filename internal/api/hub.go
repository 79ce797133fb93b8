package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cardmint/internal/events"
	"cardmint/internal/logging"
)

const writeTimeout = 10 * time.Second

// hub fans queue events out to connected websocket clients. Slow clients are
// dropped rather than allowed to stall the broadcast loop.
type hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	cancel  func()
	started bool
	done    chan struct{}
}

func newHub(logger *slog.Logger) *hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &hub{
		logger: logger.With(logging.String(logging.FieldComponent, "ws")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
		done:    make(chan struct{}),
	}
}

// run subscribes to the bus and broadcasts until the context ends or stop is
// called. A nil bus leaves the websocket endpoint connected but silent.
func (h *hub) run(ctx context.Context, bus *events.Bus) {
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	if bus == nil {
		close(h.done)
		return
	}
	ch, cancel := bus.Subscribe()
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		defer close(h.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				h.broadcast(event)
			}
		}
	}()
}

func (h *hub) broadcast(event events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(event); err != nil {
			h.logger.Debug("dropping websocket client", logging.Error(err))
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("websocket client connected", logging.Int("clients", total))

	// Drain the read side so close frames and pings are processed.
	go func() {
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				h.mu.Lock()
				if _, ok := h.clients[conn]; ok {
					delete(h.clients, conn)
					conn.Close()
				}
				h.mu.Unlock()
				return
			}
		}
	}()
}

func (h *hub) stop() {
	h.mu.Lock()
	started := h.started
	cancel := h.cancel
	h.cancel = nil
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, conn := range clients {
		conn.Close()
	}
	if started {
		<-h.done
	}
}
