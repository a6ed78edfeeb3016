// Package presence tracks which players hold a notification channel and
// pushes events to them.
package presence

import (
	"sync"

	"go.uber.org/zap"

	"pong-server/internal/game"
)

const (
	EventOnline           = "user:online"
	EventOffline          = "user:offline"
	EventOnlineList       = "online:list"
	EventTournamentReady  = "tournament:ready"
	EventTournamentMatch  = "tournament:match"
	EventTournamentUpdate = "tournament:update"
)

// Conn is a push channel to one client.
type Conn interface {
	Send(ev game.Event) bool
	Close(code int, reason string)
}

type userPayload struct {
	UserID game.PlayerID `json:"userId"`
}

// Hub maps each player to their most recent presence connection.
type Hub struct {
	mu    sync.RWMutex
	conns map[game.PlayerID]Conn
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{conns: make(map[game.PlayerID]Conn), log: log.Named("presence")}
}

// Register records c for p. A previous connection for p is closed.
func (h *Hub) Register(p game.PlayerID, c Conn) {
	h.mu.Lock()
	old := h.conns[p]
	h.conns[p] = c
	h.mu.Unlock()

	if old != nil && old != c {
		old.Close(game.CloseNormal, "replaced by a newer connection")
	}
	h.Broadcast(EventOnline, userPayload{UserID: p})
	h.log.Debug("player online", zap.Int64("player_id", int64(p)))
}

// Unregister removes c if it is still the current connection for p.
func (h *Hub) Unregister(p game.PlayerID, c Conn) {
	h.mu.Lock()
	if h.conns[p] != c {
		h.mu.Unlock()
		return
	}
	delete(h.conns, p)
	h.mu.Unlock()

	h.Broadcast(EventOffline, userPayload{UserID: p})
	h.log.Debug("player offline", zap.Int64("player_id", int64(p)))
}

func (h *Hub) Online(p game.PlayerID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[p]
	return ok
}

// OnlineAmong filters ids down to those currently online, keeping order.
func (h *Hub) OnlineAmong(ids []game.PlayerID) []game.PlayerID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]game.PlayerID, 0, len(ids))
	for _, id := range ids {
		if _, ok := h.conns[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Notify pushes one event to p. It reports false if p is offline or the
// connection's buffer is full.
func (h *Hub) Notify(p game.PlayerID, typ string, payload any) bool {
	h.mu.RLock()
	c, ok := h.conns[p]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.Send(game.Event{Type: typ, Payload: payload})
}

func (h *Hub) Broadcast(typ string, payload any) {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	ev := game.Event{Type: typ, Payload: payload}
	for _, c := range conns {
		c.Send(ev)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll closes every connection, used on shutdown.
func (h *Hub) CloseAll(code int, reason string) {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[game.PlayerID]Conn)
	h.mu.Unlock()
	for _, c := range conns {
		c.Close(code, reason)
	}
}
