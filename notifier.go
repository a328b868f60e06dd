package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"outpost/pkg/game"
	"outpost/pkg/types"
)

// ErrRecipientUnreachable is returned when a player has no live socket.
var ErrRecipientUnreachable = fmt.Errorf("recipient unreachable: %w", game.ErrDeliveryFailed)

const sendQueue = 16

// --- Push Hub ---

// Hub pushes events to every websocket a player has open.
type Hub struct {
	mu    sync.Mutex
	conns map[int64]map[chan []byte]struct{}
	log   zerolog.Logger

	upgrader websocket.Upgrader
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		conns: make(map[int64]map[chan []byte]struct{}),
		log:   log,
		// nil CheckOrigin refuses cross-origin browsers; clients without an Origin header pass
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
		},
	}
}

// Notify queues ev on each of the player's sockets. A full queue drops the message for that socket only.
func (h *Hub) Notify(_ context.Context, ev types.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	outs := h.conns[ev.PlayerID]
	if len(outs) == 0 {
		return ErrRecipientUnreachable
	}
	delivered := 0
	for out := range outs {
		select {
		case out <- b:
			delivered++
		default:
		}
	}
	if delivered == 0 {
		return fmt.Errorf("player %d: send queues full: %w", ev.PlayerID, game.ErrDeliveryFailed)
	}
	return nil
}

// Connected is the number of open sockets for a player.
func (h *Hub) Connected(id int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[id])
}

func (h *Hub) attach(id int64) chan []byte {
	out := make(chan []byte, sendQueue)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[id] == nil {
		h.conns[id] = make(map[chan []byte]struct{})
	}
	h.conns[id][out] = struct{}{}
	return out
}

func (h *Hub) detach(id int64, out chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[id], out)
	if len(h.conns[id]) == 0 {
		delete(h.conns, id)
	}
}

// Serve upgrades the request and streams events for player until the socket closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, player int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	out := h.attach(player)
	defer h.detach(player, out)
	h.log.Debug().Int64("player", player).Msg("socket attached")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Writer goroutine.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case b := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Reader loop. Clients send nothing meaningful; reads keep the deadline and close frames flowing.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// --- Fan-out ---

// fanout delivers to every notifier and joins their failures.
type fanout []game.Notifier

func (f fanout) Notify(ctx context.Context, ev types.Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
