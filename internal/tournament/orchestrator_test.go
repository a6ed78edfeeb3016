package tournament

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pong-server/internal/arena"
	"pong-server/internal/game"
	"pong-server/internal/ledger"
	"pong-server/internal/presence"
	"pong-server/internal/schedule"
	"pong-server/internal/store"
)

type notice struct {
	to  game.PlayerID
	typ string
}

type fakeNotifier struct {
	mu      sync.Mutex
	offline map[game.PlayerID]bool
	sent    []notice
}

func (n *fakeNotifier) Online(p game.PlayerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.offline[p]
}

func (n *fakeNotifier) Notify(p game.PlayerID, typ string, _ any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notice{to: p, typ: typ})
	return true
}

func (n *fakeNotifier) setOffline(p game.PlayerID, off bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.offline == nil {
		n.offline = make(map[game.PlayerID]bool)
	}
	n.offline[p] = off
}

func (n *fakeNotifier) count(to game.PlayerID, typ string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.to == to && s.typ == typ {
			c++
		}
	}
	return c
}

type fakeLedger struct {
	mu    sync.Mutex
	calls int
	last  string
	err   error
}

func (l *fakeLedger) RecordTournament(_ context.Context, name, winner string, participants int) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.last = name + "/" + winner
	if l.err != nil {
		return ledger.Receipt{}, l.err
	}
	return ledger.Receipt{BlockNumber: 42, TxHash: "0xabc", ExplorerURL: "https://explorer/tx/0xabc"}, nil
}

func (l *fakeLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fixture struct {
	ctx    context.Context
	st     *store.Memory
	reg    *game.Registry
	notes  *fakeNotifier
	ledger *fakeLedger
	orch   *Orchestrator
	admin  store.Account

	clockMu sync.Mutex
	clock   time.Time
}

func (f *fixture) now() time.Time {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	return f.clock
}

func (f *fixture) advance(d time.Duration) {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	f.clock = f.clock.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		st:     store.NewMemory(),
		notes:  &fakeNotifier{},
		ledger: &fakeLedger{},
		clock:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.reg = game.NewRegistry(game.Options{Scheduler: schedule.NewManual(), Now: f.now})
	f.orch = New(Options{
		Store:    f.st,
		Live:     f.reg,
		Notifier: f.notes,
		Ledger:   f.ledger,
		Now:      f.now,
		Rand:     rand.New(rand.NewPCG(1, 2)),
	})
	f.reg.OnEnd(f.orch.OnLiveMatchEnded)
	t.Cleanup(func() {
		f.reg.Wait()
		f.orch.Wait()
	})

	admin, err := f.st.CreateAccount(f.ctx, "admin", "", false)
	require.NoError(t, err)
	f.admin = admin
	return f
}

func (f *fixture) create(t *testing.T, mode store.TournamentMode) store.Tournament {
	t.Helper()
	tr, err := f.orch.CreateTournament(f.ctx, "Spring Cup", game.PlayerID(f.admin.ID), mode)
	require.NoError(t, err)
	return tr
}

// fill seats eight fresh accounts and returns them in join order.
func (f *fixture) fill(t *testing.T, tid int64) []store.Account {
	t.Helper()
	accts := make([]store.Account, 0, Seats)
	for i := 0; i < Seats; i++ {
		a, err := f.st.CreateAccount(f.ctx, "player"+string(rune('a'+i)), "", false)
		require.NoError(t, err)
		_, err = f.orch.Join(f.ctx, tid, game.PlayerID(a.ID), "")
		require.NoError(t, err)
		accts = append(accts, a)
	}
	return accts
}

// accounts maps the seats of a bracket row to account ids.
func (f *fixture) accounts(t *testing.T, bm store.BracketMatch) (game.PlayerID, game.PlayerID) {
	t.Helper()
	p1, p2, err := f.orch.competitors(f.ctx, bm)
	require.NoError(t, err)
	return p1, p2
}

func (f *fixture) bracket(t *testing.T, tid int64) BracketView {
	t.Helper()
	v, err := f.orch.Bracket(f.ctx, tid)
	require.NoError(t, err)
	return v
}

func (f *fixture) report(t *testing.T, tid int64, bm BracketEntry, first bool) {
	t.Helper()
	winner, s1, s2 := *bm.Player1, 10, 4
	if !first {
		winner, s1, s2 = *bm.Player2, 6, 10
	}
	_, err := f.orch.ReportResult(f.ctx, tid, bm.ID, game.PlayerID(f.admin.ID), winner, s1, s2)
	require.NoError(t, err)
}

func TestCreateTournament_Validation(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	admin := game.PlayerID(f.admin.ID)

	_, err := f.orch.CreateTournament(f.ctx, "   ", admin, "")
	assert.ErrorIs(err, ErrInvalidName)
	_, err = f.orch.CreateTournament(f.ctx, strings.Repeat("x", 51), admin, "")
	assert.ErrorIs(err, ErrInvalidName)
	_, err = f.orch.CreateTournament(f.ctx, "Cup", admin, "hybrid")
	assert.ErrorIs(err, ErrInvalidMode)

	tr, err := f.orch.CreateTournament(f.ctx, "  Cup ", admin, "")
	require.NoError(t, err)
	assert.Equal("Cup", tr.Name)
	assert.Equal(store.ModeOnline, tr.Mode)
	assert.Equal(store.StatusPending, tr.Status)
	assert.Equal(Seats, tr.MaxPlayers)

	list, err := f.orch.List(f.ctx)
	require.NoError(t, err)
	assert.Len(list, 1)
}

// Test: the eighth seat seeds four quarterfinals
// Why: every seat must appear exactly once and nothing may exist before
func TestJoin_SeedsOnEighthSeat(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	tr := f.create(t, store.ModeOnline)

	for i := 0; i < Seats-1; i++ {
		a, err := f.st.CreateAccount(f.ctx, "early"+string(rune('a'+i)), "", false)
		require.NoError(t, err)
		_, err = f.orch.Join(f.ctx, tr.ID, game.PlayerID(a.ID), "")
		require.NoError(t, err)
	}
	v := f.bracket(t, tr.ID)
	assert.Equal(store.StatusPending, v.Status)
	assert.Empty(v.Quarter)

	last, err := f.st.CreateAccount(f.ctx, "last", "", false)
	require.NoError(t, err)
	seat, err := f.orch.Join(f.ctx, tr.ID, game.PlayerID(last.ID), "Closer")
	require.NoError(t, err)
	assert.Equal("Closer", seat.Nickname)

	v = f.bracket(t, tr.ID)
	assert.Equal(store.StatusOngoing, v.Status)
	require.Len(t, v.Quarter, 4)
	assert.Empty(v.Semi)
	assert.Empty(v.Final)

	seen := make(map[int64]int)
	for i, q := range v.Quarter {
		assert.Equal(i+1, q.Slot)
		require.NotNil(t, q.Player1)
		require.NotNil(t, q.Player2)
		assert.NotEmpty(q.Player1Name)
		seen[*q.Player1]++
		seen[*q.Player2]++
	}
	assert.Len(seen, Seats)
	for id, n := range seen {
		assert.Equal(1, n, "seat %d", id)
	}
	assert.Equal(1, f.notes.count(game.PlayerID(last.ID), presence.EventTournamentUpdate))
}

func TestJoin_Errors(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	tr := f.create(t, store.ModeOnline)

	a, err := f.st.CreateAccount(f.ctx, "dup", "", false)
	require.NoError(t, err)
	_, err = f.orch.Join(f.ctx, tr.ID, game.PlayerID(a.ID), "")
	require.NoError(t, err)
	_, err = f.orch.Join(f.ctx, tr.ID, game.PlayerID(a.ID), "")
	assert.ErrorIs(err, ErrAlreadyJoined)

	_, err = f.orch.Join(f.ctx, 9999, game.PlayerID(a.ID), "")
	assert.ErrorIs(err, ErrTournamentNotFound)

	details, err := f.orch.Tournament(f.ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, details.Players, 1)
	assert.Equal("dup", details.Players[0].Nickname)

	other := f.create(t, store.ModeOnline)
	f.fill(t, other.ID)
	late, err := f.st.CreateAccount(f.ctx, "late", "", false)
	require.NoError(t, err)
	_, err = f.orch.Join(f.ctx, other.ID, game.PlayerID(late.ID), "")
	assert.ErrorIs(err, ErrTournamentStarted)
}

func TestJoinAlias(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	tr := f.create(t, store.ModeOffline)

	_, err := f.orch.JoinAlias(f.ctx, tr.ID, "")
	assert.ErrorIs(err, ErrInvalidAlias)
	_, err = f.orch.JoinAlias(f.ctx, tr.ID, strings.Repeat("a", 21))
	assert.ErrorIs(err, ErrInvalidAlias)

	_, err = f.st.CreateAccount(f.ctx, "neo", "", false)
	require.NoError(t, err)

	seat, err := f.orch.JoinAlias(f.ctx, tr.ID, "neo")
	require.NoError(t, err)
	assert.Equal("neo", seat.Nickname)

	acct, err := f.st.Account(f.ctx, seat.AccountID)
	require.NoError(t, err)
	assert.True(acct.Guest)
	assert.True(strings.HasPrefix(acct.Username, "neo-"), acct.Username)
}

func TestLeave(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	tr := f.create(t, store.ModeOnline)

	a, err := f.st.CreateAccount(f.ctx, "quitter", "", false)
	require.NoError(t, err)
	_, err = f.orch.Join(f.ctx, tr.ID, game.PlayerID(a.ID), "")
	require.NoError(t, err)

	require.NoError(t, f.orch.Leave(f.ctx, tr.ID, game.PlayerID(a.ID)))
	assert.ErrorIs(f.orch.Leave(f.ctx, tr.ID, game.PlayerID(a.ID)), ErrNotJoined)

	started := f.create(t, store.ModeOnline)
	accts := f.fill(t, started.ID)
	assert.ErrorIs(f.orch.Leave(f.ctx, started.ID, game.PlayerID(accts[0].ID)), ErrTournamentStarted)
}

// Test: only the admin deletes, and only before the bracket is seeded
// Why: deleting a running tournament would strand its live matches
func TestDelete(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	admin := game.PlayerID(f.admin.ID)
	tr := f.create(t, store.ModeOnline)

	a, err := f.st.CreateAccount(f.ctx, "hopeful", "", false)
	require.NoError(t, err)
	_, err = f.orch.Join(f.ctx, tr.ID, game.PlayerID(a.ID), "")
	require.NoError(t, err)

	assert.ErrorIs(f.orch.Delete(f.ctx, tr.ID, game.PlayerID(a.ID)), ErrNotAdmin)
	require.NoError(t, f.orch.Delete(f.ctx, tr.ID, admin))

	_, err = f.orch.Tournament(f.ctx, tr.ID)
	assert.ErrorIs(err, ErrTournamentNotFound)
	assert.ErrorIs(f.orch.Delete(f.ctx, tr.ID, admin), ErrTournamentNotFound)
	seats, err := f.st.Seats(f.ctx, tr.ID)
	require.NoError(t, err)
	assert.Empty(seats)

	started := f.create(t, store.ModeOffline)
	f.fill(t, started.ID)
	assert.ErrorIs(f.orch.Delete(f.ctx, started.ID, admin), ErrTournamentStarted)
	assert.Len(f.bracket(t, started.ID).Quarter, 4)
}

// Test: reported results advance the bracket to a finished tournament
// Why: the ledger must be called exactly once however often progression re-runs
func TestReportResult_RunsBracketToFinish(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	tr := f.create(t, store.ModeOffline)
	f.fill(t, tr.ID)

	v := f.bracket(t, tr.ID)
	f.report(t, tr.ID, v.Quarter[0], true)
	assert.Empty(f.bracket(t, tr.ID).Semi, "one decided quarter cannot produce a semi")
	f.report(t, tr.ID, v.Quarter[1], false)

	v = f.bracket(t, tr.ID)
	require.Len(t, v.Semi, 1)
	assert.Equal(1, v.Semi[0].Slot)
	assert.Equal(*v.Quarter[0].Player1, *v.Semi[0].Player1)
	assert.Equal(*v.Quarter[1].Player2, *v.Semi[0].Player2)

	f.report(t, tr.ID, v.Quarter[2], true)
	f.report(t, tr.ID, v.Quarter[3], true)
	v = f.bracket(t, tr.ID)
	require.Len(t, v.Semi, 2)
	assert.Empty(v.Final)

	f.report(t, tr.ID, v.Semi[0], true)
	f.report(t, tr.ID, v.Semi[1], false)
	v = f.bracket(t, tr.ID)
	require.Len(t, v.Final, 1)
	assert.Equal(*v.Semi[0].Player1, *v.Final[0].Player1)
	assert.Equal(*v.Semi[1].Player2, *v.Final[0].Player2)

	f.report(t, tr.ID, v.Final[0], true)
	champion := v.Final[0].Player1Name

	require.NoError(t, f.orch.Progress(f.ctx, tr.ID))
	require.NoError(t, f.orch.Progress(f.ctx, tr.ID))
	f.orch.Wait()

	assert.Equal(1, f.ledger.callCount())
	assert.Equal("Spring Cup/"+champion, f.ledger.last)

	got, err := f.st.Tournament(f.ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(store.StatusFinished, got.Status)
	assert.Equal(champion, got.WinnerName)
	require.NotNil(t, got.Receipt)
	assert.Equal("0xabc", got.Receipt.TxHash)
	assert.Equal(uint64(42), got.Receipt.BlockNumber)
}

func TestFinish_LedgerFailureKeepsFinished(t *testing.T) {
	f := newFixture(t)
	f.ledger.err = errors.New("rpc down")
	tr := f.create(t, store.ModeOffline)
	f.fill(t, tr.ID)

	for _, round := range []func(BracketView) []BracketEntry{
		func(v BracketView) []BracketEntry { return v.Quarter },
		func(v BracketView) []BracketEntry { return v.Semi },
		func(v BracketView) []BracketEntry { return v.Final },
	} {
		for _, bm := range round(f.bracket(t, tr.ID)) {
			f.report(t, tr.ID, bm, true)
		}
	}
	f.orch.Wait()

	got, err := f.st.Tournament(f.ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFinished, got.Status)
	assert.Nil(t, got.Receipt)
	assert.Equal(t, 1, f.ledger.callCount())
}

func TestReportResult_Validation(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	tr := f.create(t, store.ModeOffline)
	accts := f.fill(t, tr.ID)
	q := f.bracket(t, tr.ID).Quarter[0]

	_, err := f.orch.ReportResult(f.ctx, tr.ID, q.ID, game.PlayerID(accts[0].ID), *q.Player1, 10, 0)
	assert.ErrorIs(err, ErrNotAdmin)

	admin := game.PlayerID(f.admin.ID)
	_, err = f.orch.ReportResult(f.ctx, tr.ID, q.ID, admin, 123456, 10, 0)
	assert.ErrorIs(err, ErrInvalidResult)
	_, err = f.orch.ReportResult(f.ctx, tr.ID, q.ID, admin, *q.Player1, -1, 0)
	assert.ErrorIs(err, ErrInvalidResult)
	_, err = f.orch.ReportResult(f.ctx, tr.ID, 999999, admin, *q.Player1, 10, 0)
	assert.ErrorIs(err, ErrBracketMatchNotFound)

	_, err = f.orch.ReportResult(f.ctx, tr.ID, q.ID, admin, *q.Player1, 10, 0)
	require.NoError(t, err)
	_, err = f.orch.ReportResult(f.ctx, tr.ID, q.ID, admin, *q.Player2, 10, 0)
	assert.ErrorIs(err, ErrMatchDecided)
}

func TestDedupe(t *testing.T) {
	assert := assert.New(t)
	w := int64(7)
	rows := []store.BracketMatch{
		{ID: 3, Round: store.RoundQuarter, Slot: 1},
		{ID: 5, Round: store.RoundQuarter, Slot: 1, Winner: &w},
		{ID: 4, Round: store.RoundQuarter, Slot: 2},
		{ID: 9, Round: store.RoundQuarter, Slot: 2},
		{ID: 6, Round: store.RoundSemi, Slot: 1},
	}
	kept, losers := Dedupe(rows)
	assert.Equal([]int64{3, 9}, losers)
	ids := make([]int64, 0, len(kept))
	for _, r := range kept {
		ids = append(ids, r.ID)
	}
	assert.Equal([]int64{4, 5, 6}, ids)

	again, none := Dedupe(kept)
	assert.Empty(none)
	assert.Equal(kept, again)
}

func TestProgress_RemovesDuplicateRows(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	tr := f.create(t, store.ModeOffline)
	f.fill(t, tr.ID)
	q := f.bracket(t, tr.ID).Quarter[0]

	dup := q.BracketMatch
	dup.Winner = idPtr(*q.Player2)
	dup, err := f.st.InsertBracketMatch(f.ctx, dup)
	require.NoError(t, err)

	// Reads dedupe without deleting.
	v := f.bracket(t, tr.ID)
	assert.Len(v.Quarter, 4)
	rows, err := f.st.BracketMatches(f.ctx, tr.ID)
	require.NoError(t, err)
	assert.Len(rows, 5)

	require.NoError(t, f.orch.Progress(f.ctx, tr.ID))
	rows, err = f.st.BracketMatches(f.ctx, tr.ID)
	require.NoError(t, err)
	assert.Len(rows, 4)
	_, err = f.st.BracketMatch(f.ctx, q.ID)
	assert.ErrorIs(err, store.ErrNotFound)
	_, err = f.st.BracketMatch(f.ctx, dup.ID)
	assert.NoError(err)

	require.NoError(t, f.orch.Progress(f.ctx, tr.ID))
	rows, err = f.st.BracketMatches(f.ctx, tr.ID)
	require.NoError(t, err)
	assert.Len(rows, 4)
}

// Test: a corrected quarterfinal resets the semi it feeds
// Why: a result recorded against a different pair must not survive
func TestProgress_PairChangeResetsResult(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	tr := f.create(t, store.ModeOffline)
	f.fill(t, tr.ID)

	v := f.bracket(t, tr.ID)
	f.report(t, tr.ID, v.Quarter[0], true)
	f.report(t, tr.ID, v.Quarter[1], true)
	semi := f.bracket(t, tr.ID).Semi[0]
	f.report(t, tr.ID, semi, true)

	corrected := v.Quarter[0].BracketMatch
	corrected.Winner = idPtr(*corrected.Player2)
	require.NoError(t, f.st.UpdateBracketMatch(f.ctx, corrected))
	require.NoError(t, f.orch.Progress(f.ctx, tr.ID))

	got, err := f.st.BracketMatch(f.ctx, semi.ID)
	require.NoError(t, err)
	assert.Equal(*corrected.Player2, *got.Player1)
	assert.Nil(got.Winner)
	assert.Zero(got.Score1)
	assert.Zero(got.Score2)
}

// Test: both competitors ready and online start exactly one live match
// Why: repeated ready calls must return the same match, not create another
func TestReady_StartsOneLiveMatch(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	tr := f.create(t, store.ModeOnline)
	f.fill(t, tr.ID)
	q := f.bracket(t, tr.ID).Quarter[0]
	p1, p2 := f.accounts(t, q.BracketMatch)

	res, err := f.orch.Ready(f.ctx, tr.ID, q.ID, p1)
	require.NoError(t, err)
	assert.Equal(ReadyWaiting, res.Status)
	assert.Equal([]game.PlayerID{p1}, res.Ready)
	assert.Equal(1, f.notes.count(p2, presence.EventTournamentReady))

	res, err = f.orch.Ready(f.ctx, tr.ID, q.ID, p2)
	require.NoError(t, err)
	assert.Equal(ReadyStarted, res.Status)
	require.NotZero(t, res.MatchID)
	assert.Equal(1, f.reg.Len())
	assert.Equal(1, f.notes.count(p1, presence.EventTournamentMatch))
	assert.Equal(1, f.notes.count(p2, presence.EventTournamentMatch))

	st := f.reg.Status(res.MatchID)
	assert.True(st.Active)
	assert.Equal([]game.PlayerID{p1, p2}, st.Players)

	again, err := f.orch.Ready(f.ctx, tr.ID, q.ID, p1)
	require.NoError(t, err)
	assert.Equal(ReadyStarted, again.Status)
	assert.Equal(res.MatchID, again.MatchID)
	assert.Equal(1, f.reg.Len())

	bm, err := f.st.BracketMatch(f.ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, bm.LiveMatchID)
	assert.Equal(res.MatchID, *bm.LiveMatchID)
}

func TestReady_WaitsForOfflineOpponent(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	tr := f.create(t, store.ModeOnline)
	f.fill(t, tr.ID)
	q := f.bracket(t, tr.ID).Quarter[0]
	p1, p2 := f.accounts(t, q.BracketMatch)

	f.notes.setOffline(p2, true)
	_, err := f.orch.Ready(f.ctx, tr.ID, q.ID, p1)
	require.NoError(t, err)
	res, err := f.orch.Ready(f.ctx, tr.ID, q.ID, p2)
	require.NoError(t, err)
	assert.Equal(ReadyWaiting, res.Status)
	assert.Zero(f.reg.Len())

	f.notes.setOffline(p2, false)
	res, err = f.orch.Ready(f.ctx, tr.ID, q.ID, p2)
	require.NoError(t, err)
	assert.Equal(ReadyStarted, res.Status)
}

func TestReady_Errors(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	offline := f.create(t, store.ModeOffline)
	f.fill(t, offline.ID)
	q := f.bracket(t, offline.ID).Quarter[0]
	p1, _ := f.accounts(t, q.BracketMatch)
	_, err := f.orch.Ready(f.ctx, offline.ID, q.ID, p1)
	assert.ErrorIs(err, ErrOfflineTournament)

	pending := f.create(t, store.ModeOnline)
	_, err = f.orch.Ready(f.ctx, pending.ID, q.ID, p1)
	assert.ErrorIs(err, ErrTournamentNotRunning)

	online, err := f.orch.CreateTournament(f.ctx, "Online Cup", game.PlayerID(f.admin.ID), store.ModeOnline)
	require.NoError(t, err)
	var accts []store.Account
	for i := 0; i < Seats; i++ {
		a, err := f.st.CreateAccount(f.ctx, "online"+string(rune('a'+i)), "", false)
		require.NoError(t, err)
		_, err = f.orch.Join(f.ctx, online.ID, game.PlayerID(a.ID), "")
		require.NoError(t, err)
		accts = append(accts, a)
	}
	oq := f.bracket(t, online.ID).Quarter[0]
	_, err = f.orch.Ready(f.ctx, online.ID, oq.ID, game.PlayerID(f.admin.ID))
	assert.ErrorIs(err, ErrNotCompetitor)

	// A bracket match of another tournament is not found here.
	_, err = f.orch.Ready(f.ctx, online.ID, q.ID, game.PlayerID(accts[0].ID))
	assert.ErrorIs(err, ErrBracketMatchNotFound)
}

// Test: a live match older than the maximum age is replaced
// Why: players returning to an abandoned session must get a fresh match
func TestReady_RecreatesStaleLiveMatch(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	tr := f.create(t, store.ModeOnline)
	f.fill(t, tr.ID)
	q := f.bracket(t, tr.ID).Quarter[0]
	p1, p2 := f.accounts(t, q.BracketMatch)

	_, err := f.orch.Ready(f.ctx, tr.ID, q.ID, p1)
	require.NoError(t, err)
	first, err := f.orch.Ready(f.ctx, tr.ID, q.ID, p2)
	require.NoError(t, err)
	require.Equal(t, ReadyStarted, first.Status)

	f.advance(DefaultLiveMatchMaxAge + time.Minute)

	res, err := f.orch.Ready(f.ctx, tr.ID, q.ID, p1)
	require.NoError(t, err)
	assert.Equal(ReadyWaiting, res.Status)
	_, live := f.reg.Get(first.MatchID)
	assert.False(live, "stale match is abandoned")

	second, err := f.orch.Ready(f.ctx, tr.ID, q.ID, p2)
	require.NoError(t, err)
	assert.Equal(ReadyStarted, second.Status)
	assert.NotEqual(first.MatchID, second.MatchID)

	// The abandoned match's result must not clear the new reference.
	f.reg.Wait()
	bm, err := f.st.BracketMatch(f.ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, bm.LiveMatchID)
	assert.Equal(second.MatchID, *bm.LiveMatchID)
	assert.Nil(bm.Winner)
}

func TestOnLiveMatchEnded_WritesResultBack(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	tr := f.create(t, store.ModeOnline)
	f.fill(t, tr.ID)
	q := f.bracket(t, tr.ID).Quarter[0]
	p1, p2 := f.accounts(t, q.BracketMatch)

	_, err := f.orch.Ready(f.ctx, tr.ID, q.ID, p1)
	require.NoError(t, err)
	started, err := f.orch.Ready(f.ctx, tr.ID, q.ID, p2)
	require.NoError(t, err)

	res := game.Result{
		MatchID:  started.MatchID,
		Mode:     arena.Duo,
		Players:  []game.PlayerID{p1, p2},
		Scores:   map[arena.Slot]int{arena.P1: 3, arena.P2: 10},
		Reason:   game.EndWin,
		Winner:   arena.P2,
		WinnerID: p2,
	}
	f.orch.OnLiveMatchEnded(res)

	bm, err := f.st.BracketMatch(f.ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, bm.Winner)
	assert.Equal(*q.Player2, *bm.Winner)
	assert.Equal(3, bm.Score1)
	assert.Equal(10, bm.Score2)
	assert.Nil(bm.LiveMatchID)

	// A second delivery is ignored.
	res.WinnerID, res.Winner = p1, arena.P1
	f.orch.OnLiveMatchEnded(res)
	bm, err = f.st.BracketMatch(f.ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(*q.Player2, *bm.Winner)
}

func TestOnLiveMatchEnded_AbandonedClearsLiveMatch(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	tr := f.create(t, store.ModeOnline)
	f.fill(t, tr.ID)
	q := f.bracket(t, tr.ID).Quarter[0]
	p1, p2 := f.accounts(t, q.BracketMatch)

	_, err := f.orch.Ready(f.ctx, tr.ID, q.ID, p1)
	require.NoError(t, err)
	started, err := f.orch.Ready(f.ctx, tr.ID, q.ID, p2)
	require.NoError(t, err)

	require.True(t, f.reg.Abandon(started.MatchID))
	f.reg.Wait()

	bm, err := f.st.BracketMatch(f.ctx, q.ID)
	require.NoError(t, err)
	assert.Nil(bm.LiveMatchID)
	assert.Nil(bm.Winner)
}
