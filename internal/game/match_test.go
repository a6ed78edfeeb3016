package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pong-server/internal/arena"
	"pong-server/internal/schedule"
)

type fakeSink struct {
	kind SinkKind

	mu     sync.Mutex
	events []Event
	closed bool
	code   int
}

func newSocket() *fakeSink { return &fakeSink{kind: SinkSocket} }
func newStream() *fakeSink { return &fakeSink{kind: SinkStream} }

func (f *fakeSink) Kind() SinkKind { return f.kind }

func (f *fakeSink) Send(ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.events = append(f.events, ev)
	return true
}

func (f *fakeSink) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
}

func (f *fakeSink) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

func (f *fakeSink) last(typ string) (Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Type == typ {
			return f.events[i], true
		}
	}
	return Event{}, false
}

func (f *fakeSink) isClosed() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.code
}

type staticNames map[PlayerID]string

func (s staticNames) DisplayName(_ context.Context, id PlayerID) (string, error) {
	if n, ok := s[id]; ok {
		return n, nil
	}
	return "", errors.New("unknown player")
}

type recordingRecorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recordingRecorder) RecordResult(_ context.Context, res Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func (r *recordingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

type fixture struct {
	sched    *schedule.Manual
	registry *Registry
	recorder *recordingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{sched: schedule.NewManual(), recorder: &recordingRecorder{}}
	f.registry = NewRegistry(Options{
		Scheduler: f.sched,
		Recorder:  f.recorder,
		Names:     staticNames{1: "alice", 2: "bob"},
	})
	return f
}

// startRally connects both duo players, readies them and runs the countdown.
func startRally(t *testing.T, f *fixture, m *Match) (*fakeSink, *fakeSink) {
	t.Helper()
	s1, s2 := newSocket(), newSocket()
	require.NoError(t, m.Attach(1, s1))
	require.NoError(t, m.Attach(2, s2))
	m.Ready(1)
	m.Ready(2)
	require.Equal(t, Countdown, m.Lifecycle())
	f.sched.Advance(CountdownSteps * CountdownStep)
	require.Equal(t, AwaitingServe, m.Lifecycle())
	return s1, s2
}

// forceGoal places the ball so the next tick credits scorer.
func forceGoal(m *Match, scorer arena.Slot) {
	m.mu.Lock()
	if m.lifecycle == Ended {
		m.mu.Unlock()
		m.Tick(arena.TickSeconds)
		return
	}
	m.lifecycle = Rallying
	m.servePending = false
	switch scorer {
	case arena.P1:
		m.state.Ball = arena.Ball{X: arena.Size - 1, Y: 100, VX: 1000}
	case arena.P2:
		m.state.Ball = arena.Ball{X: 1, Y: 100, VX: -1000}
	case arena.P3:
		m.state.Ball = arena.Ball{X: 100, Y: arena.Size - 1, VY: 1000}
	case arena.P4:
		m.state.Ball = arena.Ball{X: 100, Y: 1, VY: -1000}
	}
	m.mu.Unlock()
	m.Tick(arena.TickSeconds)
}

func TestMatch_AttachRejectsOutsider(t *testing.T) {
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)

	err = m.Attach(3, newSocket())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMatch_AttachSendsInitSnapshot(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)

	s := newSocket()
	require.NoError(t, m.Attach(2, s))

	ev, ok := s.last(EventInit)
	require.True(t, ok)
	init := ev.Payload.(initPayload)
	assert.Equal(2, init.Index)
	assert.Equal(arena.P2, init.Slot)
	assert.Equal(float64(arena.Size), init.Config.Width)
	assert.Equal(Forming, init.Lifecycle)
	assert.Equal("User 1", init.Names[arena.P1])
}

func TestMatch_NameResolvedLazily(t *testing.T) {
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)

	s := newSocket()
	require.NoError(t, m.Attach(1, s))
	f.registry.Wait()

	ev, ok := s.last(EventIdentify)
	require.True(t, ok)
	assert.Equal(t, "alice", ev.Payload.(map[arena.Slot]string)[arena.P1])
	assert.Equal(t, "User 2", ev.Payload.(map[arena.Slot]string)[arena.P2])
}

func TestMatch_NewerSinkReplacesOlder(t *testing.T) {
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)

	first, second := newSocket(), newSocket()
	require.NoError(t, m.Attach(1, first))
	require.NoError(t, m.Attach(1, second))

	closed, _ := first.isClosed()
	assert.True(t, closed)

	// A late detach from the replaced sink must not disconnect the player.
	m.Detach(1, first)
	assert.Contains(t, m.Status().Connected, PlayerID(1))
}

func TestMatch_CountdownRequiresEveryPlayer(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)

	s1 := newSocket()
	require.NoError(t, m.Attach(1, s1))
	assert.True(m.Ready(1))
	assert.Equal(Forming, m.Lifecycle())

	// Not connected yet.
	assert.False(m.Ready(2))
	require.NoError(t, m.Attach(2, newSocket()))
	assert.True(m.Ready(2))
	assert.Equal(Countdown, m.Lifecycle())
}

func TestMatch_CountdownBroadcastsEachSecond(t *testing.T) {
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)

	s1, _ := startRally(t, f, m)

	var remaining []int
	s1.mu.Lock()
	for _, ev := range s1.events {
		if ev.Type == EventCountdown {
			remaining = append(remaining, ev.Payload.(countdownPayload).Remaining)
		}
	}
	s1.mu.Unlock()
	assert.Equal(t, []int{5, 4, 3, 2, 1}, remaining)

	ev, ok := s1.last(EventServe)
	require.True(t, ok)
	assert.Equal(t, 1, ev.Payload.(servePayload).ServerIndex)
}

func TestMatch_OnlyDesignatedServerServes(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)
	startRally(t, f, m)

	assert.False(m.Serve(2))
	assert.Equal(AwaitingServe, m.Lifecycle())

	assert.True(m.Serve(1))
	assert.Equal(Rallying, m.Lifecycle())
	assert.True(m.Snapshot().State.Ball.Moving())

	// No second serve while the ball is live.
	assert.False(m.Serve(1))
}

func TestMatch_PaddleMovesIgnoredWhileForming(t *testing.T) {
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)
	require.NoError(t, m.Attach(1, newSocket()))

	assert.False(t, m.MovePaddle(1, arena.AxisY, 100))
	assert.Equal(t, float64(arena.Size/2), m.Snapshot().State.Paddles[arena.P1])
}

func TestMatch_PaddleMovesClampedWhileAwaitingServe(t *testing.T) {
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)
	startRally(t, f, m)

	assert.True(t, m.MovePaddle(2, arena.AxisY, -500))
	assert.Equal(t, float64(arena.PaddleLength/2), m.Snapshot().State.Paddles[arena.P2])
	assert.False(t, m.MovePaddle(9, arena.AxisY, 100))
}

func TestMatch_GoalRotatesServer(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)
	startRally(t, f, m)

	require.True(t, m.Serve(1))
	forceGoal(m, arena.P2)

	snap := m.Snapshot()
	assert.Equal(AwaitingServe, snap.Lifecycle)
	assert.Equal(1, snap.Scores[arena.P2])
	assert.Equal(2, snap.ServerIndex)
	assert.True(snap.ServePending)
	assert.False(snap.State.Ball.Moving())

	assert.False(m.Serve(1))
	assert.True(m.Serve(2))
}

func TestMatch_QuadServerRotationWraps(t *testing.T) {
	f := newFixture(t)
	m, err := f.registry.Create(arena.Quad, []PlayerID{1, 2, 3, 4})
	require.NoError(t, err)
	for _, p := range []PlayerID{1, 2, 3, 4} {
		require.NoError(t, m.Attach(p, newSocket()))
		m.Ready(p)
	}
	f.sched.Advance(CountdownSteps * CountdownStep)

	var seen []int
	for _, scorer := range []arena.Slot{arena.P3, arena.P4, arena.P1, arena.P2} {
		forceGoal(m, scorer)
		seen = append(seen, m.Snapshot().ServerIndex)
	}
	assert.Equal(t, []int{2, 3, 4, 1}, seen)
	assert.Equal(t, map[arena.Slot]int{arena.P1: 1, arena.P2: 1, arena.P3: 1, arena.P4: 1}, m.Snapshot().Scores)
}

func TestMatch_WinEndsOnceAndRecords(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	var mu sync.Mutex
	var results []Result
	f.registry.OnEnd(func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	})

	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)
	s1, s2 := startRally(t, f, m)

	for i := 0; i < 7; i++ {
		forceGoal(m, arena.P2)
	}
	for i := 0; i < arena.WinScore; i++ {
		forceGoal(m, arena.P1)
	}
	// Further ticks after the end change nothing.
	forceGoal(m, arena.P2)
	f.registry.Wait()

	assert.Equal(Ended, m.Lifecycle())
	_, live := f.registry.Get(m.ID())
	assert.False(live)
	assert.Equal(1, f.recorder.count())

	mu.Lock()
	require.Len(t, results, 1)
	res := results[0]
	mu.Unlock()
	assert.Equal(EndWin, res.Reason)
	assert.Equal(PlayerID(1), res.WinnerID)
	assert.Equal(10, res.Score(0))
	assert.Equal(7, res.Score(1))

	for _, s := range []*fakeSink{s1, s2} {
		ev, ok := s.last(EventEnd)
		require.True(t, ok)
		assert.Equal(arena.P1, ev.Payload.(endPayload).Winner)
		closed, code := s.isClosed()
		assert.True(closed)
		assert.Equal(CloseNormal, code)
	}
}

func TestMatch_DisconnectPausesAndFreezesBall(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)
	s1, s2 := startRally(t, f, m)
	require.True(t, m.Serve(1))

	m.Detach(2, s2)

	st := m.Status()
	assert.True(st.Paused)
	assert.True(st.ServePending)
	assert.Empty(st.Ready)
	assert.False(m.Snapshot().State.Ball.Moving())
	_, ok := s1.last(EventPaused)
	assert.True(ok)

	// Ticks do nothing while paused.
	m.Tick(arena.TickSeconds)
	assert.False(m.Snapshot().State.Ball.Moving())

	require.NoError(t, m.Attach(2, newSocket()))
	m.Ready(1)
	m.Ready(2)
	assert.Equal(Countdown, m.Lifecycle())
}

func TestMatch_StreamKeepsPlayerConnected(t *testing.T) {
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)
	_, s2 := startRally(t, f, m)

	require.NoError(t, m.Attach(2, newStream()))
	m.Detach(2, s2)

	assert.Equal(t, AwaitingServe, m.Lifecycle())
}

func TestMatch_IdleCleanup(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	var reasons []EndReason
	var mu sync.Mutex
	f.registry.OnEnd(func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, r.Reason)
	})

	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)
	s := newSocket()
	require.NoError(t, m.Attach(1, s))

	f.sched.Advance(DefaultIdleTimeout * 2)
	_, live := f.registry.Get(m.ID())
	assert.True(live, "connected matches never expire")

	m.Detach(1, s)
	f.sched.Advance(DefaultIdleTimeout - time.Second)
	_, live = f.registry.Get(m.ID())
	assert.True(live)

	// Reconnecting cancels the pending cleanup.
	s = newSocket()
	require.NoError(t, m.Attach(1, s))
	f.sched.Advance(time.Minute)
	_, live = f.registry.Get(m.ID())
	assert.True(live)

	m.Detach(1, s)
	f.sched.Advance(DefaultIdleTimeout)
	f.registry.Wait()
	_, live = f.registry.Get(m.ID())
	assert.False(live)
	assert.Equal(0, f.recorder.count())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal([]EndReason{EndIdle}, reasons)
}

func TestMatch_UnjoinedMatchExpires(t *testing.T) {
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)

	f.sched.Advance(DefaultIdleTimeout)
	_, live := f.registry.Get(m.ID())
	assert.False(t, live)
}

func TestMatch_AbandonSkipsRecording(t *testing.T) {
	f := newFixture(t)
	m, err := f.registry.Create(arena.Duo, []PlayerID{1, 2})
	require.NoError(t, err)
	s1, _ := startRally(t, f, m)

	assert.True(t, f.registry.Abandon(m.ID()))
	assert.False(t, f.registry.Abandon(m.ID()))
	f.registry.Wait()

	assert.Equal(t, 0, f.recorder.count())
	_, ok := s1.last(EventAbandoned)
	assert.True(t, ok)
	assert.ErrorIs(t, m.Attach(1, newSocket()), ErrMatchOver)
}

func TestMatch_QuadWinIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	m, err := f.registry.Create(arena.Quad, []PlayerID{1, 2, 3, 4})
	require.NoError(t, err)
	for i := 0; i < arena.WinScore; i++ {
		forceGoal(m, arena.P3)
	}
	f.registry.Wait()

	assert.Equal(t, Ended, m.Lifecycle())
	assert.Equal(t, 0, f.recorder.count())
}
