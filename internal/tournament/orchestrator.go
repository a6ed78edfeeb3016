// Package tournament runs 8-seat single-elimination brackets on top of the
// live match registry.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pong-server/internal/game"
	"pong-server/internal/ledger"
	"pong-server/internal/presence"
	"pong-server/internal/store"
)

const (
	Seats                  = 8
	DefaultLiveMatchMaxAge = 20 * time.Minute
	ledgerTimeout          = 2 * time.Minute
	listenerTimeout        = 10 * time.Second
)

// LiveMatches is the slice of the match registry the orchestrator drives.
type LiveMatches interface {
	CreateDirect(p1, p2 game.PlayerID) (*game.Match, error)
	Status(id int64) game.Status
	Abandon(id int64) bool
}

// Notifier pushes events to players' presence channels.
type Notifier interface {
	Online(p game.PlayerID) bool
	Notify(p game.PlayerID, typ string, payload any) bool
}

type Options struct {
	Store      store.Store
	Live       LiveMatches
	Notifier   Notifier
	Ledger     ledger.Recorder
	Logger     *zap.Logger
	Now        func() time.Time
	MaxLiveAge time.Duration
	Rand       *rand.Rand
}

type liveRef struct {
	tournamentID   int64
	bracketMatchID int64
}

// Orchestrator owns seeding, progression and the ready protocol. Every
// mutation of one tournament runs under that tournament's lock.
type Orchestrator struct {
	store    store.Store
	live     LiveMatches
	notifier Notifier
	ledger   ledger.Recorder
	log      *zap.Logger
	now      func() time.Time
	maxAge   time.Duration

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	mu       sync.Mutex
	rng      *rand.Rand
	ready    map[int64]map[game.PlayerID]bool
	creating map[int64]bool
	liveRefs map[int64]liveRef

	wg sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxLiveAge <= 0 {
		opts.MaxLiveAge = DefaultLiveMatchMaxAge
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.Disabled{}
	}
	return &Orchestrator{
		store:    opts.Store,
		live:     opts.Live,
		notifier: opts.Notifier,
		ledger:   opts.Ledger,
		log:      opts.Logger.Named("tournament"),
		now:      opts.Now,
		maxAge:   opts.MaxLiveAge,
		locks:    make(map[int64]*sync.Mutex),
		rng:      opts.Rand,
		ready:    make(map[int64]map[game.PlayerID]bool),
		creating: make(map[int64]bool),
		liveRefs: make(map[int64]liveRef),
	}
}

func (o *Orchestrator) lock(tid int64) func() {
	o.locksMu.Lock()
	l, ok := o.locks[tid]
	if !ok {
		l = &sync.Mutex{}
		o.locks[tid] = l
	}
	o.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Wait blocks until background ledger submissions finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) notify(p game.PlayerID, typ string, payload any) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(p, typ, payload)
}

func (o *Orchestrator) loadTournament(ctx context.Context, tid int64) (store.Tournament, error) {
	t, err := o.store.Tournament(ctx, tid)
	if errors.Is(err, store.ErrNotFound) {
		return store.Tournament{}, ErrTournamentNotFound
	}
	return t, err
}

// TournamentView is a tournament with its seats.
type TournamentView struct {
	store.Tournament
	Players []store.Seat `json:"players"`
}

func (o *Orchestrator) CreateTournament(ctx context.Context, name string, adminID game.PlayerID, mode store.TournamentMode) (store.Tournament, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > 50 {
		return store.Tournament{}, ErrInvalidName
	}
	if mode == "" {
		mode = store.ModeOnline
	}
	if !mode.Valid() {
		return store.Tournament{}, ErrInvalidMode
	}
	t, err := o.store.CreateTournament(ctx, store.Tournament{
		Name:       name,
		AdminID:    int64(adminID),
		Mode:       mode,
		MaxPlayers: Seats,
		Status:     store.StatusPending,
	})
	if err != nil {
		return store.Tournament{}, err
	}
	o.log.Info("tournament created",
		zap.Int64("tournament_id", t.ID),
		zap.String("name", t.Name),
		zap.String("mode", string(t.Mode)))
	return t, nil
}

func (o *Orchestrator) List(ctx context.Context) ([]store.Tournament, error) {
	return o.store.ListTournaments(ctx)
}

func (o *Orchestrator) Tournament(ctx context.Context, tid int64) (TournamentView, error) {
	t, err := o.loadTournament(ctx, tid)
	if err != nil {
		return TournamentView{}, err
	}
	seats, err := o.store.Seats(ctx, tid)
	if err != nil {
		return TournamentView{}, err
	}
	if seats == nil {
		seats = []store.Seat{}
	}
	return TournamentView{Tournament: t, Players: seats}, nil
}

// Join seats an existing account. Filling the last seat starts the bracket.
func (o *Orchestrator) Join(ctx context.Context, tid int64, accountID game.PlayerID, nickname string) (store.Seat, error) {
	defer o.lock(tid)()

	t, err := o.joinable(ctx, tid)
	if err != nil {
		return store.Seat{}, err
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		if a, err := o.store.Account(ctx, int64(accountID)); err == nil {
			nickname = a.Username
		} else {
			nickname = fmt.Sprintf("Player %d", accountID)
		}
	}
	return o.seatLocked(ctx, t, store.Seat{TournamentID: tid, AccountID: int64(accountID), Nickname: nickname})
}

// JoinAlias mints a guest account for alias and seats it. A taken alias
// gets a short random suffix on the account; the seat keeps the alias.
func (o *Orchestrator) JoinAlias(ctx context.Context, tid int64, alias string) (store.Seat, error) {
	alias = strings.TrimSpace(alias)
	if n := utf8.RuneCountInString(alias); n == 0 || n > 20 {
		return store.Seat{}, ErrInvalidAlias
	}

	defer o.lock(tid)()

	t, err := o.joinable(ctx, tid)
	if err != nil {
		return store.Seat{}, err
	}
	acct, err := o.store.CreateAccount(ctx, alias, "", true)
	if errors.Is(err, store.ErrUsernameTaken) {
		acct, err = o.store.CreateAccount(ctx, alias+"-"+uuid.NewString()[:6], "", true)
	}
	if err != nil {
		return store.Seat{}, fmt.Errorf("failed to create guest %q: %w", alias, err)
	}
	return o.seatLocked(ctx, t, store.Seat{TournamentID: tid, AccountID: acct.ID, Nickname: alias})
}

func (o *Orchestrator) joinable(ctx context.Context, tid int64) (store.Tournament, error) {
	t, err := o.loadTournament(ctx, tid)
	if err != nil {
		return store.Tournament{}, err
	}
	if t.Status != store.StatusPending {
		return store.Tournament{}, ErrTournamentStarted
	}
	seats, err := o.store.Seats(ctx, tid)
	if err != nil {
		return store.Tournament{}, err
	}
	if len(seats) >= capacity(t) {
		return store.Tournament{}, ErrTournamentFull
	}
	return t, nil
}

func capacity(t store.Tournament) int {
	if t.MaxPlayers <= 0 || t.MaxPlayers > Seats {
		return Seats
	}
	return t.MaxPlayers
}

func (o *Orchestrator) seatLocked(ctx context.Context, t store.Tournament, s store.Seat) (store.Seat, error) {
	seat, err := o.store.AddSeat(ctx, s)
	if err != nil {
		return store.Seat{}, err
	}
	o.log.Info("seat taken",
		zap.Int64("tournament_id", t.ID),
		zap.Int64("account_id", seat.AccountID),
		zap.String("nickname", seat.Nickname))

	seats, err := o.store.Seats(ctx, t.ID)
	if err != nil {
		return seat, err
	}
	if len(seats) == capacity(t) {
		if err := o.seedLocked(ctx, t, seats); err != nil {
			return seat, err
		}
	}
	return seat, nil
}

// seedLocked shuffles the seats and creates the quarterfinals.
func (o *Orchestrator) seedLocked(ctx context.Context, t store.Tournament, seats []store.Seat) error {
	if err := o.store.SetTournamentStatus(ctx, t.ID, store.StatusOngoing); err != nil {
		return fmt.Errorf("failed to start tournament %d: %w", t.ID, err)
	}
	order := append([]store.Seat(nil), seats...)
	o.mu.Lock()
	o.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	o.mu.Unlock()

	for i := 0; i+1 < len(order); i += 2 {
		_, err := o.store.InsertBracketMatch(ctx, store.BracketMatch{
			TournamentID: t.ID,
			Round:        store.RoundQuarter,
			Slot:         i/2 + 1,
			Player1:      idPtr(order[i].ID),
			Player2:      idPtr(order[i+1].ID),
		})
		if err != nil {
			return err
		}
	}
	o.log.Info("bracket seeded", zap.Int64("tournament_id", t.ID), zap.Int("seats", len(order)))
	for _, s := range seats {
		o.notify(game.PlayerID(s.AccountID), presence.EventTournamentUpdate, updateNotice{
			TournamentID: t.ID, Status: store.StatusOngoing,
		})
	}
	return nil
}

// Leave frees the caller's seat while the tournament is still pending.
func (o *Orchestrator) Leave(ctx context.Context, tid int64, accountID game.PlayerID) error {
	defer o.lock(tid)()

	t, err := o.loadTournament(ctx, tid)
	if err != nil {
		return err
	}
	if t.Status != store.StatusPending {
		return ErrTournamentStarted
	}
	removed, err := o.store.RemoveSeat(ctx, tid, int64(accountID))
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotJoined
	}
	return nil
}

// Delete removes a tournament that has not started. Only the admin may
// delete; once seeded, the bracket plays out to the end.
func (o *Orchestrator) Delete(ctx context.Context, tid int64, caller game.PlayerID) error {
	defer o.lock(tid)()

	t, err := o.loadTournament(ctx, tid)
	if err != nil {
		return err
	}
	if t.AdminID != int64(caller) {
		return ErrNotAdmin
	}
	if t.Status != store.StatusPending {
		return ErrTournamentStarted
	}
	if err := o.store.DeleteTournament(ctx, tid); err != nil {
		return err
	}
	o.log.Info("tournament deleted", zap.Int64("tournament_id", tid))
	return nil
}

// Bracket returns the de-duplicated bracket. Reads never delete rows.
func (o *Orchestrator) Bracket(ctx context.Context, tid int64) (BracketView, error) {
	t, err := o.loadTournament(ctx, tid)
	if err != nil {
		return BracketView{}, err
	}
	rows, err := o.store.BracketMatches(ctx, tid)
	if err != nil {
		return BracketView{}, err
	}
	seats, err := o.store.Seats(ctx, tid)
	if err != nil {
		return BracketView{}, err
	}
	kept, _ := Dedupe(rows)
	return buildView(t, kept, seats), nil
}

// Progress advances the bracket as far as the decided results allow. It is
// safe to call any number of times.
func (o *Orchestrator) Progress(ctx context.Context, tid int64) error {
	defer o.lock(tid)()
	t, err := o.loadTournament(ctx, tid)
	if err != nil {
		return err
	}
	return o.progressLocked(ctx, t)
}

func (o *Orchestrator) progressLocked(ctx context.Context, t store.Tournament) error {
	rows, err := o.store.BracketMatches(ctx, t.ID)
	if err != nil {
		return err
	}
	kept, losers := Dedupe(rows)
	if len(losers) > 0 {
		if err := o.store.DeleteBracketMatches(ctx, losers); err != nil {
			return err
		}
		o.log.Warn("removed duplicate bracket rows",
			zap.Int64("tournament_id", t.ID),
			zap.Int64s("ids", losers))
	}
	idx := indexRows(kept)

	for _, round := range []store.Round{store.RoundSemi, store.RoundFinal} {
		f := feeders[round]
		for slot := 1; slot <= f.slots; slot++ {
			a, b := idx[slotKey{f.from, 2*slot - 1}], idx[slotKey{f.from, 2 * slot}]
			if a == nil || b == nil || a.Winner == nil || b.Winner == nil {
				continue
			}
			row, err := o.ensureLocked(ctx, t.ID, idx[slotKey{round, slot}], round, slot, *a.Winner, *b.Winner)
			if err != nil {
				return err
			}
			idx[slotKey{round, slot}] = row
		}
	}

	final := idx[slotKey{store.RoundFinal, 1}]
	if final == nil || final.Winner == nil || t.Status == store.StatusFinished {
		return nil
	}
	return o.finishLocked(ctx, t, *final.Winner)
}

// ensureLocked creates or updates a row so it holds p1 and p2. A row whose
// pair changes loses its result and any live match.
func (o *Orchestrator) ensureLocked(ctx context.Context, tid int64, cur *store.BracketMatch, round store.Round, slot int, p1, p2 int64) (*store.BracketMatch, error) {
	if cur == nil {
		row, err := o.store.InsertBracketMatch(ctx, store.BracketMatch{
			TournamentID: tid,
			Round:        round,
			Slot:         slot,
			Player1:      idPtr(p1),
			Player2:      idPtr(p2),
		})
		if err != nil {
			return nil, err
		}
		o.log.Info("bracket match created",
			zap.Int64("tournament_id", tid),
			zap.String("round", string(round)),
			zap.Int("slot", slot))
		return &row, nil
	}
	if sameID(cur.Player1, &p1) && sameID(cur.Player2, &p2) {
		return cur, nil
	}
	row := *cur
	row.Player1, row.Player2 = idPtr(p1), idPtr(p2)
	row.Winner = nil
	row.Score1, row.Score2 = 0, 0
	if row.LiveMatchID != nil {
		o.dropLive(*row.LiveMatchID)
		row.LiveMatchID = nil
	}
	if err := o.store.UpdateBracketMatch(ctx, row); err != nil {
		return nil, err
	}
	o.clearReady(row.ID)
	o.log.Warn("bracket match competitors changed, result reset",
		zap.Int64("tournament_id", tid),
		zap.Int64("bracket_match_id", row.ID))
	return &row, nil
}

func (o *Orchestrator) finishLocked(ctx context.Context, t store.Tournament, winnerSeat int64) error {
	seats, err := o.store.Seats(ctx, t.ID)
	if err != nil {
		return err
	}
	var winner store.Seat
	for _, s := range seats {
		if s.ID == winnerSeat {
			winner = s
		}
	}
	changed, err := o.store.FinishTournament(ctx, t.ID, winner.Nickname, winner.Avatar, o.now().UTC())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	o.log.Info("tournament finished",
		zap.Int64("tournament_id", t.ID),
		zap.String("winner", winner.Nickname))
	for _, s := range seats {
		o.notify(game.PlayerID(s.AccountID), presence.EventTournamentUpdate, updateNotice{
			TournamentID: t.ID, Status: store.StatusFinished, Winner: winner.Nickname,
		})
	}

	name, participants := t.Name, len(seats)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.recordOnLedger(t.ID, name, winner.Nickname, participants)
	}()
	return nil
}

func (o *Orchestrator) recordOnLedger(tid int64, name, winner string, participants int) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	r, err := o.ledger.RecordTournament(ctx, name, winner, participants)
	if err != nil {
		if errors.Is(err, ledger.ErrDisabled) {
			o.log.Debug("ledger disabled, tournament not recorded", zap.Int64("tournament_id", tid))
			return
		}
		o.log.Error("failed to record tournament on ledger", zap.Int64("tournament_id", tid), zap.Error(err))
		return
	}
	err = o.store.SaveReceipt(ctx, tid, store.Receipt{
		BlockNumber: r.BlockNumber,
		TxHash:      r.TxHash,
		ExplorerURL: r.ExplorerURL,
		ContractURL: r.ContractURL,
	})
	if err != nil {
		o.log.Error("failed to save ledger receipt", zap.Int64("tournament_id", tid), zap.Error(err))
		return
	}
	o.log.Info("tournament recorded on ledger",
		zap.Int64("tournament_id", tid),
		zap.String("tx_hash", r.TxHash),
		zap.Uint64("block", r.BlockNumber))
}

// ReportResult records a decided match directly. Only the admin may report.
func (o *Orchestrator) ReportResult(ctx context.Context, tid, bracketMatchID int64, caller game.PlayerID, winnerSeat int64, score1, score2 int) (store.BracketMatch, error) {
	defer o.lock(tid)()

	t, err := o.loadTournament(ctx, tid)
	if err != nil {
		return store.BracketMatch{}, err
	}
	if t.AdminID != int64(caller) {
		return store.BracketMatch{}, ErrNotAdmin
	}
	if t.Status != store.StatusOngoing {
		return store.BracketMatch{}, ErrTournamentNotRunning
	}
	bm, err := o.bracketMatch(ctx, tid, bracketMatchID)
	if err != nil {
		return store.BracketMatch{}, err
	}
	if bm.Winner != nil {
		return store.BracketMatch{}, ErrMatchDecided
	}
	if bm.Player1 == nil || bm.Player2 == nil {
		return store.BracketMatch{}, ErrMatchNotReady
	}
	if score1 < 0 || score2 < 0 || (winnerSeat != *bm.Player1 && winnerSeat != *bm.Player2) {
		return store.BracketMatch{}, ErrInvalidResult
	}
	if bm.LiveMatchID != nil {
		o.dropLive(*bm.LiveMatchID)
		bm.LiveMatchID = nil
	}
	bm.Winner = idPtr(winnerSeat)
	bm.Score1, bm.Score2 = score1, score2
	if err := o.store.UpdateBracketMatch(ctx, bm); err != nil {
		return store.BracketMatch{}, err
	}
	o.clearReady(bm.ID)
	o.log.Info("result reported",
		zap.Int64("tournament_id", tid),
		zap.Int64("bracket_match_id", bm.ID),
		zap.Int64("winner_seat", winnerSeat))
	return bm, o.progressLocked(ctx, t)
}

func (o *Orchestrator) bracketMatch(ctx context.Context, tid, id int64) (store.BracketMatch, error) {
	bm, err := o.store.BracketMatch(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && bm.TournamentID != tid) {
		return store.BracketMatch{}, ErrBracketMatchNotFound
	}
	return bm, err
}

type updateNotice struct {
	TournamentID int64                  `json:"tournamentId"`
	Status       store.TournamentStatus `json:"status"`
	Winner       string                 `json:"winner,omitempty"`
}
