package game

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pong-server/internal/arena"
)

func TestMatchmaker_DuoPairsHeadWithJoiner(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	mm := NewMatchmaker(f.registry, nil)

	tk, err := mm.Join(arena.Duo, 7)
	require.NoError(t, err)
	assert.Equal(QueueWaiting, tk.Status)
	assert.Equal(1, tk.Position)

	tk, err = mm.Join(arena.Duo, 9)
	require.NoError(t, err)
	assert.Equal(QueueMatched, tk.Status)

	m, ok := f.registry.Get(tk.MatchID)
	require.True(t, ok)
	assert.Equal([]PlayerID{7, 9}, m.Players())
	assert.Equal(0, mm.Depth(arena.Duo))

	// The waiting player collects the match once.
	st, err := mm.Status(arena.Duo, 7)
	require.NoError(t, err)
	assert.Equal(Ticket{Status: QueueMatched, MatchID: tk.MatchID}, st)

	st, err = mm.Status(arena.Duo, 7)
	require.NoError(t, err)
	assert.Equal(QueueIdle, st.Status)
}

func TestMatchmaker_RejoinDoesNotDuplicate(t *testing.T) {
	f := newFixture(t)
	mm := NewMatchmaker(f.registry, nil)

	for i := 0; i < 3; i++ {
		tk, err := mm.Join(arena.Duo, 5)
		require.NoError(t, err)
		assert.Equal(t, QueueWaiting, tk.Status)
	}
	assert.Equal(t, 1, mm.Depth(arena.Duo))
	assert.Equal(t, 0, f.registry.Len())
}

func TestMatchmaker_QuadDrainsFour(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	mm := NewMatchmaker(f.registry, nil)

	for _, p := range []PlayerID{1, 2, 3} {
		tk, err := mm.Join(arena.Quad, p)
		require.NoError(t, err)
		assert.Equal(QueueWaiting, tk.Status)
	}
	tk, err := mm.Join(arena.Quad, 4)
	require.NoError(t, err)
	require.Equal(t, QueueMatched, tk.Status)

	m, ok := f.registry.Get(tk.MatchID)
	require.True(t, ok)
	assert.Equal(arena.Quad, m.Mode())
	assert.Equal([]PlayerID{1, 2, 3, 4}, m.Players())

	for _, p := range []PlayerID{1, 2, 3} {
		st, err := mm.Status(arena.Quad, p)
		require.NoError(t, err)
		assert.Equal(tk.MatchID, st.MatchID)
	}
}

func TestMatchmaker_CancelLeavesQueue(t *testing.T) {
	f := newFixture(t)
	mm := NewMatchmaker(f.registry, nil)

	_, err := mm.Join(arena.Duo, 1)
	require.NoError(t, err)
	require.NoError(t, mm.Cancel(arena.Duo, 1))

	st, err := mm.Status(arena.Duo, 1)
	require.NoError(t, err)
	assert.Equal(t, QueueIdle, st.Status)

	tk, err := mm.Join(arena.Duo, 2)
	require.NoError(t, err)
	assert.Equal(t, QueueWaiting, tk.Status)
}

func TestMatchmaker_QueuesAreIndependent(t *testing.T) {
	f := newFixture(t)
	mm := NewMatchmaker(f.registry, nil)

	_, err := mm.Join(arena.Duo, 1)
	require.NoError(t, err)
	tk, err := mm.Join(arena.Quad, 2)
	require.NoError(t, err)

	assert.Equal(t, QueueWaiting, tk.Status)
	assert.Equal(t, 1, mm.Depth(arena.Duo))
	assert.Equal(t, 1, mm.Depth(arena.Quad))
}

func TestMatchmaker_InvalidMode(t *testing.T) {
	f := newFixture(t)
	mm := NewMatchmaker(f.registry, nil)

	_, err := mm.Join(arena.Mode(3), 1)
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestMatchmaker_ConcurrentJoinsNeverDoubleMatch(t *testing.T) {
	f := newFixture(t)
	mm := NewMatchmaker(f.registry, nil)

	const players = 200
	var wg sync.WaitGroup
	for i := 1; i <= players; i++ {
		wg.Add(1)
		go func(p PlayerID) {
			defer wg.Done()
			_, err := mm.Join(arena.Duo, p)
			assert.NoError(t, err)
		}(PlayerID(i))
	}
	wg.Wait()

	assert.Equal(t, players/2, f.registry.Len())
	assert.Equal(t, 0, mm.Depth(arena.Duo))

	seen := make(map[PlayerID]int)
	for _, m := range f.registry.all() {
		for _, p := range m.Players() {
			seen[p]++
		}
	}
	assert.Len(t, seen, players)
	for p, n := range seen {
		assert.Equal(t, 1, n, "player %d matched %d times", p, n)
	}
}

func TestMatchmaker_SweepForgetsStaleRecords(t *testing.T) {
	f := newFixture(t)
	mm := NewMatchmaker(f.registry, nil)
	now := time.Now()
	mm.now = func() time.Time { return now }

	_, err := mm.Join(arena.Duo, 1)
	require.NoError(t, err)
	_, err = mm.Join(arena.Duo, 2)
	require.NoError(t, err)

	assert.Equal(t, 0, mm.Sweep(time.Minute))
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, mm.Sweep(time.Minute))

	st, err := mm.Status(arena.Duo, 1)
	require.NoError(t, err)
	assert.Equal(t, QueueIdle, st.Status)
}
