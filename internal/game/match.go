package game

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"pong-server/internal/arena"
	"pong-server/internal/schedule"
)

// Lifecycle is the coarse phase of a match.
type Lifecycle string

const (
	Forming       Lifecycle = "forming"
	Countdown     Lifecycle = "countdown"
	AwaitingServe Lifecycle = "awaiting_serve"
	Rallying      Lifecycle = "rallying"
	Paused        Lifecycle = "paused"
	Ended         Lifecycle = "ended"
)

// EndReason tells listeners why a match left the registry.
type EndReason string

const (
	EndWin       EndReason = "win"
	EndIdle      EndReason = "idle"
	EndAbandoned EndReason = "abandoned"
)

const (
	CountdownSteps     = 5
	CountdownStep      = time.Second
	DefaultIdleTimeout = 180 * time.Second
	nameLookupTimeout  = 2 * time.Second
)

// Result is published exactly once per match, when it is removed.
type Result struct {
	MatchID   int64              `json:"matchId"`
	Mode      arena.Mode         `json:"mode"`
	Players   []PlayerID         `json:"players"`
	Scores    map[arena.Slot]int `json:"scores"`
	Reason    EndReason          `json:"reason"`
	Winner    arena.Slot         `json:"winner,omitempty"`
	WinnerID  PlayerID           `json:"winnerId,omitempty"`
	StartedAt time.Time          `json:"startedAt"`
	EndedAt   time.Time          `json:"endedAt"`
}

// Won reports whether the match finished by reaching the winning score.
func (r Result) Won() bool {
	return r.Reason == EndWin
}

// Score returns the points of the player at index i.
func (r Result) Score(i int) int {
	s, ok := arena.SlotFor(i + 1)
	if !ok {
		return 0
	}
	return r.Scores[s]
}

// Snapshot is the full match view pushed to clients.
type Snapshot struct {
	MatchID      int64                 `json:"matchId"`
	Lifecycle    Lifecycle             `json:"lifecycle"`
	State        arena.State           `json:"state"`
	Scores       map[arena.Slot]int    `json:"scores"`
	Names        map[arena.Slot]string `json:"names"`
	ServerIndex  int                   `json:"serverIndex"`
	ServePending bool                  `json:"servePending"`
}

// Status answers match queries. Active is false for unknown ids.
type Status struct {
	MatchID      int64                 `json:"matchId"`
	Active       bool                  `json:"active"`
	Mode         arena.Mode            `json:"mode,omitempty"`
	Lifecycle    Lifecycle             `json:"lifecycle,omitempty"`
	Players      []PlayerID            `json:"players,omitempty"`
	Names        map[arena.Slot]string `json:"names,omitempty"`
	Scores       map[arena.Slot]int    `json:"scores,omitempty"`
	Ready        []PlayerID            `json:"ready,omitempty"`
	Connected    []PlayerID            `json:"connected,omitempty"`
	Paused       bool                  `json:"paused"`
	ServePending bool                  `json:"servePending"`
	CreatedAt    time.Time             `json:"createdAt,omitempty"`
}

type initPayload struct {
	Snapshot
	Config arena.Config `json:"config"`
	Index  int          `json:"index"`
	Slot   arena.Slot   `json:"slot"`
}

type countdownPayload struct {
	Remaining int `json:"remaining"`
}

type servePayload struct {
	ServerIndex int        `json:"serverIndex"`
	Slot        arena.Slot `json:"slot"`
}

type readyPayload struct {
	Ready []PlayerID `json:"ready"`
}

type endPayload struct {
	Reason   EndReason          `json:"reason"`
	Winner   arena.Slot         `json:"winner,omitempty"`
	WinnerID PlayerID           `json:"winnerId,omitempty"`
	Scores   map[arena.Slot]int `json:"scores"`
}

// matchEnv is what a match borrows from its registry.
type matchEnv struct {
	sched       schedule.Scheduler
	names       NameResolver
	idleTimeout time.Duration
	now         func() time.Time
	log         *zap.Logger
	onEnd       func(Result)
	async       func(func())
}

// Match owns the state of one live game. Every exported method takes the
// match lock; callbacks from the scheduler re-check a generation counter so
// a cancelled timer that already fired is a no-op.
type Match struct {
	mu sync.Mutex

	id        int64
	mode      arena.Mode
	players   []PlayerID
	createdAt time.Time
	env       matchEnv
	rng       *rand.Rand

	state        arena.State
	scores       map[arena.Slot]int
	names        map[PlayerID]string
	sinks        map[SinkKind]map[PlayerID]Sink
	ready        map[PlayerID]bool
	lifecycle    Lifecycle
	serverIndex  int
	servePending bool

	countdownLeft int
	countdownGen  uint64
	countdownTask schedule.Handle
	idleGen       uint64
	idleTask      schedule.Handle
}

func newMatch(id int64, mode arena.Mode, players []PlayerID, env matchEnv) (*Match, error) {
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}
	if err := validatePlayers(mode, players); err != nil {
		return nil, err
	}
	sinks := make(map[SinkKind]map[PlayerID]Sink, len(sinkKinds))
	for _, k := range sinkKinds {
		sinks[k] = make(map[PlayerID]Sink)
	}
	scores := make(map[arena.Slot]int, len(players))
	for i := range players {
		s, _ := arena.SlotFor(i + 1)
		scores[s] = 0
	}
	m := &Match{
		id:           id,
		mode:         mode,
		players:      append([]PlayerID(nil), players...),
		createdAt:    env.now(),
		env:          env,
		rng:          rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		state:        arena.NewState(mode),
		scores:       scores,
		names:        make(map[PlayerID]string, len(players)),
		sinks:        sinks,
		ready:        make(map[PlayerID]bool, len(players)),
		lifecycle:    Forming,
		serverIndex:  1,
		servePending: true,
	}
	// Nobody is connected yet: a match that is never joined expires too.
	m.mu.Lock()
	m.scheduleIdleLocked()
	m.mu.Unlock()
	return m, nil
}

func validatePlayers(mode arena.Mode, players []PlayerID) error {
	if len(players) != int(mode) {
		return ErrInvalidPlayers
	}
	seen := make(map[PlayerID]bool, len(players))
	for _, p := range players {
		if p <= 0 || seen[p] {
			return ErrInvalidPlayers
		}
		seen[p] = true
	}
	return nil
}

func (m *Match) ID() int64            { return m.id }
func (m *Match) Mode() arena.Mode     { return m.mode }
func (m *Match) CreatedAt() time.Time { return m.createdAt }

// Players returns the roster in slot order.
func (m *Match) Players() []PlayerID {
	return append([]PlayerID(nil), m.players...)
}

// Has reports whether p is on the roster.
func (m *Match) Has(p PlayerID) bool {
	return m.indexOf(p) >= 0
}

// SlotOf returns the paddle slot of p.
func (m *Match) SlotOf(p PlayerID) (arena.Slot, bool) {
	return arena.SlotFor(m.indexOf(p) + 1)
}

func (m *Match) indexOf(p PlayerID) int {
	for i, id := range m.players {
		if id == p {
			return i
		}
	}
	return -1
}

// Lifecycle returns the current phase.
func (m *Match) Lifecycle() Lifecycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lifecycle
}

func (m *Match) active() bool {
	switch m.lifecycle {
	case Countdown, AwaitingServe, Rallying:
		return true
	}
	return false
}

// Attach registers sink as the player's connection of its kind, replacing
// any earlier one, and sends the init snapshot.
func (m *Match) Attach(p PlayerID, sink Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lifecycle == Ended {
		return ErrMatchOver
	}
	idx := m.indexOf(p)
	if idx < 0 {
		return ErrForbidden
	}
	kind := sink.Kind()
	if old, ok := m.sinks[kind][p]; ok && old != sink {
		old.Close(CloseNormal, "replaced by a newer connection")
	}
	m.sinks[kind][p] = sink

	m.idleGen++
	schedule.Cancel(m.idleTask)
	m.idleTask = nil

	slot, _ := arena.SlotFor(idx + 1)
	sink.Send(Event{Type: EventInit, Payload: initPayload{
		Snapshot: m.snapshotLocked(),
		Config:   arena.DefaultConfig(),
		Index:    idx + 1,
		Slot:     slot,
	}})
	sink.Send(Event{Type: EventReady, Payload: readyPayload{Ready: m.readyListLocked()}})

	if _, ok := m.names[p]; !ok && m.env.names != nil {
		m.env.async(func() { m.resolveName(p) })
	}
	m.env.log.Debug("player attached",
		zap.Int64("match_id", m.id),
		zap.Int64("player_id", int64(p)),
		zap.String("transport", string(kind)))
	return nil
}

func (m *Match) resolveName(p PlayerID) {
	ctx, cancel := context.WithTimeout(context.Background(), nameLookupTimeout)
	defer cancel()
	name, err := m.env.names.DisplayName(ctx, p)
	if err != nil || name == "" {
		if err != nil {
			m.env.log.Debug("name lookup failed", zap.Int64("player_id", int64(p)), zap.Error(err))
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lifecycle == Ended {
		return
	}
	m.names[p] = name
	m.broadcastLocked(Event{Type: EventIdentify, Payload: m.namesLocked()})
}

// Detach removes sink if it is still the player's current connection of its
// kind. A stale sink that was already replaced is ignored.
func (m *Match) Detach(p PlayerID, sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lifecycle == Ended {
		return
	}
	kind := sink.Kind()
	if cur, ok := m.sinks[kind][p]; !ok || cur != sink {
		return
	}
	delete(m.sinks[kind], p)
	if m.connectedLocked(p) {
		return
	}

	m.cancelCountdownLocked()
	clear(m.ready)
	if m.active() || m.lifecycle == Paused {
		m.state.ResetBall()
		m.servePending = true
	}
	if m.lifecycle != Forming && m.connectedCountLocked() < len(m.players) {
		m.lifecycle = Paused
		m.broadcastLocked(Event{Type: EventPaused, Payload: m.snapshotLocked()})
	}
	m.broadcastLocked(Event{Type: EventReady, Payload: readyPayload{Ready: m.readyListLocked()}})

	if m.connectedCountLocked() == 0 {
		m.scheduleIdleLocked()
	}
	m.env.log.Debug("player detached",
		zap.Int64("match_id", m.id),
		zap.Int64("player_id", int64(p)),
		zap.String("lifecycle", string(m.lifecycle)))
}

// Ready marks p ready. The countdown starts once every rostered player is
// connected and ready while the match is forming or paused.
func (m *Match) Ready(p PlayerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lifecycle == Ended || !m.Has(p) || !m.connectedLocked(p) {
		return false
	}
	m.ready[p] = true
	m.broadcastLocked(Event{Type: EventReady, Payload: readyPayload{Ready: m.readyListLocked()}})

	if m.lifecycle != Forming && m.lifecycle != Paused {
		return true
	}
	for _, id := range m.players {
		if !m.ready[id] || !m.connectedLocked(id) {
			return true
		}
	}
	m.startCountdownLocked()
	return true
}

func (m *Match) startCountdownLocked() {
	m.lifecycle = Countdown
	m.countdownLeft = CountdownSteps
	m.broadcastLocked(Event{Type: EventCountdown, Payload: countdownPayload{Remaining: m.countdownLeft}})
	m.armCountdownLocked()
}

func (m *Match) armCountdownLocked() {
	m.countdownGen++
	gen := m.countdownGen
	m.countdownTask = m.env.sched.AfterFunc(CountdownStep, func() { m.countdownStep(gen) })
}

func (m *Match) countdownStep(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.countdownGen || m.lifecycle != Countdown {
		return
	}
	m.countdownLeft--
	if m.countdownLeft > 0 {
		m.broadcastLocked(Event{Type: EventCountdown, Payload: countdownPayload{Remaining: m.countdownLeft}})
		m.armCountdownLocked()
		return
	}
	m.countdownTask = nil
	m.state.ResetBall()
	m.servePending = true
	m.lifecycle = AwaitingServe
	clear(m.ready)
	m.broadcastLocked(Event{Type: EventServe, Payload: m.servePayloadLocked()})
}

func (m *Match) cancelCountdownLocked() {
	m.countdownGen++
	schedule.Cancel(m.countdownTask)
	m.countdownTask = nil
	m.countdownLeft = 0
}

// Serve launches the ball. Only the designated server may serve, and only
// while a serve is pending.
func (m *Match) Serve(p PlayerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lifecycle != AwaitingServe || !m.servePending {
		return false
	}
	if m.indexOf(p)+1 != m.serverIndex {
		return false
	}
	m.state.Serve(m.rng)
	m.servePending = false
	m.lifecycle = Rallying
	m.broadcastLocked(Event{Type: EventState, Payload: m.snapshotLocked()})
	return true
}

// MovePaddle sets the paddle of p. Moves are ignored unless the match is
// counting down, waiting for a serve, or rallying.
func (m *Match) MovePaddle(p PlayerID, axis arena.Axis, value float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active() {
		return false
	}
	idx := m.indexOf(p)
	if idx < 0 {
		return false
	}
	slot, _ := arena.SlotFor(idx + 1)
	if !m.state.MovePaddle(slot, axis, value) {
		return false
	}
	// Rallies are broadcast by the tick loop.
	if m.lifecycle != Rallying {
		m.broadcastLocked(Event{Type: EventState, Payload: m.snapshotLocked()})
	}
	return true
}

// Tick advances physics by dt seconds. It does nothing unless rallying.
func (m *Match) Tick(dt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lifecycle != Rallying {
		return
	}
	scorer, scored := m.state.Step(dt)
	if !scored {
		m.broadcastLocked(Event{Type: EventState, Payload: m.snapshotLocked()})
		return
	}
	m.scores[scorer]++
	if m.scores[scorer] >= arena.WinScore {
		m.endLocked(EndWin, scorer)
		return
	}
	m.serverIndex = m.serverIndex%len(m.players) + 1
	m.servePending = true
	m.lifecycle = AwaitingServe
	m.broadcastLocked(Event{Type: EventState, Payload: m.snapshotLocked()})
	m.broadcastLocked(Event{Type: EventServe, Payload: m.servePayloadLocked()})
}

// Abandon ends the match without a winner. Nothing is recorded.
func (m *Match) Abandon() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lifecycle == Ended {
		return false
	}
	m.endLocked(EndAbandoned, "")
	return true
}

func (m *Match) scheduleIdleLocked() {
	schedule.Cancel(m.idleTask)
	m.idleGen++
	gen := m.idleGen
	m.idleTask = m.env.sched.AfterFunc(m.env.idleTimeout, func() { m.expire(gen) })
}

func (m *Match) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.idleGen || m.lifecycle == Ended || m.connectedCountLocked() > 0 {
		return
	}
	m.env.log.Info("removing idle match", zap.Int64("match_id", m.id))
	m.endLocked(EndIdle, "")
}

// endLocked runs at most once per match.
func (m *Match) endLocked(reason EndReason, winner arena.Slot) {
	if m.lifecycle == Ended {
		return
	}
	m.lifecycle = Ended
	m.cancelCountdownLocked()
	m.idleGen++
	schedule.Cancel(m.idleTask)
	m.idleTask = nil

	res := Result{
		MatchID:   m.id,
		Mode:      m.mode,
		Players:   append([]PlayerID(nil), m.players...),
		Scores:    m.scoresLocked(),
		Reason:    reason,
		Winner:    winner,
		StartedAt: m.createdAt,
		EndedAt:   m.env.now(),
	}
	if winner != "" {
		res.WinnerID = m.players[winner.Index()-1]
	}

	ev := Event{Type: EventAbandoned, Payload: endPayload{Reason: reason, Scores: res.Scores}}
	if reason == EndWin {
		ev = Event{Type: EventEnd, Payload: endPayload{
			Reason:   reason,
			Winner:   winner,
			WinnerID: res.WinnerID,
			Scores:   res.Scores,
		}}
	}
	m.broadcastLocked(ev)
	for _, kind := range sinkKinds {
		for p, s := range m.sinks[kind] {
			s.Close(CloseNormal, "match over")
			delete(m.sinks[kind], p)
		}
	}
	m.env.log.Info("match ended",
		zap.Int64("match_id", m.id),
		zap.String("reason", string(reason)),
		zap.String("winner", string(winner)))
	if m.env.onEnd != nil {
		m.env.onEnd(res)
	}
}

// Snapshot returns the current client view.
func (m *Match) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Status returns the query view of the match.
func (m *Match) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	var connected []PlayerID
	for _, p := range m.players {
		if m.connectedLocked(p) {
			connected = append(connected, p)
		}
	}
	return Status{
		MatchID:      m.id,
		Active:       m.lifecycle != Ended,
		Mode:         m.mode,
		Lifecycle:    m.lifecycle,
		Players:      append([]PlayerID(nil), m.players...),
		Names:        m.namesLocked(),
		Scores:       m.scoresLocked(),
		Ready:        m.readyListLocked(),
		Connected:    connected,
		Paused:       m.lifecycle == Paused,
		ServePending: m.servePending,
		CreatedAt:    m.createdAt,
	}
}

func (m *Match) snapshotLocked() Snapshot {
	return Snapshot{
		MatchID:      m.id,
		Lifecycle:    m.lifecycle,
		State:        m.state.Clone(),
		Scores:       m.scoresLocked(),
		Names:        m.namesLocked(),
		ServerIndex:  m.serverIndex,
		ServePending: m.servePending,
	}
}

func (m *Match) servePayloadLocked() servePayload {
	slot, _ := arena.SlotFor(m.serverIndex)
	return servePayload{ServerIndex: m.serverIndex, Slot: slot}
}

func (m *Match) scoresLocked() map[arena.Slot]int {
	out := make(map[arena.Slot]int, len(m.scores))
	for k, v := range m.scores {
		out[k] = v
	}
	return out
}

func (m *Match) namesLocked() map[arena.Slot]string {
	out := make(map[arena.Slot]string, len(m.players))
	for i, p := range m.players {
		s, _ := arena.SlotFor(i + 1)
		if n, ok := m.names[p]; ok {
			out[s] = n
		} else {
			out[s] = fmt.Sprintf("User %d", p)
		}
	}
	return out
}

func (m *Match) readyListLocked() []PlayerID {
	out := make([]PlayerID, 0, len(m.ready))
	for _, p := range m.players {
		if m.ready[p] {
			out = append(out, p)
		}
	}
	return out
}

func (m *Match) connectedLocked(p PlayerID) bool {
	for _, kind := range sinkKinds {
		if _, ok := m.sinks[kind][p]; ok {
			return true
		}
	}
	return false
}

func (m *Match) connectedCountLocked() int {
	n := 0
	for _, p := range m.players {
		if m.connectedLocked(p) {
			n++
		}
	}
	return n
}

// broadcastLocked fans ev out to every sink. A sink whose buffer is full is
// skipped for this event.
func (m *Match) broadcastLocked(ev Event) {
	for _, kind := range sinkKinds {
		for _, s := range m.sinks[kind] {
			s.Send(ev)
		}
	}
}
