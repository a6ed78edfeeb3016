package server

import (
	"sort"
	"sync"
	"time"

	"pong-server/internal/game"
)

// Channel names what an open connection is used for.
type Channel string

const (
	ChannelGame     Channel = "game"
	ChannelPresence Channel = "presence"
)

// PlayerConnection describes one open socket or event stream.
type PlayerConnection struct {
	PlayerID  game.PlayerID
	MatchID   int64         // Zero on the presence channel
	Channel   Channel       // What the connection carries
	Transport game.SinkKind // Socket or event stream
	Since     time.Time     // When the connection was admitted
}

// ConnectionManager indexes every open connection by its connection id.
// Why a separate index: matches only know sinks, while health and player
// stats need to see connections across matches and the presence channel
type ConnectionManager struct {
	connections map[string]PlayerConnection // connectionID -> connection info
	mu          sync.RWMutex                // Protects connections
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]PlayerConnection),
	}
}

func (cm *ConnectionManager) AddConnection(id string, pc PlayerConnection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if pc.Since.IsZero() {
		pc.Since = time.Now()
	}
	cm.connections[id] = pc
}

func (cm *ConnectionManager) RemoveConnection(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.connections, id)
}

// ForPlayer returns every connection held by p, oldest first.
func (cm *ConnectionManager) ForPlayer(p game.PlayerID) []PlayerConnection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	var out []PlayerConnection
	for _, pc := range cm.connections {
		if pc.PlayerID == p {
			out = append(out, pc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// ActiveMatch returns the match p most recently connected to, if any.
func (cm *ConnectionManager) ActiveMatch(p game.PlayerID) (int64, bool) {
	conns := cm.ForPlayer(p)
	for i := len(conns) - 1; i >= 0; i-- {
		if conns[i].Channel == ChannelGame {
			return conns[i].MatchID, true
		}
	}
	return 0, false
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}
