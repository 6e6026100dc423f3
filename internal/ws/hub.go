package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/yourname/game-master/pkg/types"
)

// Hub fans matchmaking events out to connected websocket clients. Delivery is
// best effort: the status endpoint remains the source of truth.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan types.Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	upgrade    websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients:    map[*websocket.Conn]bool{},
		broadcast:  make(chan types.Event, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrade:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				c.Close()
			}
		case ev := <-h.broadcast:
			for c := range h.clients {
				if err := c.WriteJSON(ev); err != nil {
					log.Debug().Err(err).Msg("ws write failed, dropping client")
					c.Close()
					delete(h.clients, c)
				}
			}
		}
	}
}

// Broadcast never blocks; events are dropped when the buffer is full.
func (h *Hub) Broadcast(ev types.Event) {
	select {
	case h.broadcast <- ev:
	default:
		log.Warn().Str("event", ev.Type).Msg("ws broadcast buffer full, event dropped")
	}
}

func ServeWS(h *Hub, w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrade.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.register <- c
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				h.unregister <- c
				return
			}
		}
	}()
}
