package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"pong-server/internal/game"
)

type fakeConn struct {
	mu     sync.Mutex
	events []game.Event
	closed bool
}

func (f *fakeConn) Send(ev game.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakeConn) Close(int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestHub_NotifyReachesOnlinePlayer(t *testing.T) {
	h := NewHub(zap.NewNop())
	c := &fakeConn{}
	h.Register(1, c)

	assert.True(t, h.Online(1))
	assert.True(t, h.Notify(1, EventTournamentReady, map[string]int{"tournamentId": 3}))
	assert.False(t, h.Notify(2, EventTournamentReady, nil))
	assert.Equal(t, []string{EventOnline, EventTournamentReady}, c.types())
}

func TestHub_NewerConnectionWins(t *testing.T) {
	h := NewHub(zap.NewNop())
	first, second := &fakeConn{}, &fakeConn{}
	h.Register(1, first)
	h.Register(1, second)

	assert.True(t, first.closed)

	// The stale connection going away leaves the player online.
	h.Unregister(1, first)
	assert.True(t, h.Online(1))

	h.Unregister(1, second)
	assert.False(t, h.Online(1))
}

func TestHub_BroadcastsPresenceChanges(t *testing.T) {
	h := NewHub(zap.NewNop())
	watcher, other := &fakeConn{}, &fakeConn{}
	h.Register(1, watcher)
	h.Register(2, other)
	h.Unregister(2, other)

	assert.Equal(t, []string{EventOnline, EventOnline, EventOffline}, watcher.types())
}

func TestHub_OnlineAmong(t *testing.T) {
	h := NewHub(zap.NewNop())
	h.Register(3, &fakeConn{})
	h.Register(5, &fakeConn{})

	assert.Equal(t, []game.PlayerID{5, 3}, h.OnlineAmong([]game.PlayerID{5, 4, 3}))
	assert.Equal(t, 2, h.Count())

	h.CloseAll(game.CloseGoingAway, "bye")
	assert.Equal(t, 0, h.Count())
}
