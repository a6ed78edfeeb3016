package tournament

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"pong-server/internal/game"
	"pong-server/internal/presence"
	"pong-server/internal/store"
)

const (
	ReadyWaiting = "waiting"
	ReadyStarted = "started"
)

// ReadyResult answers a ready call. MatchID is set once a live match exists.
type ReadyResult struct {
	Status  string          `json:"status"`
	MatchID int64           `json:"matchId,omitempty"`
	Ready   []game.PlayerID `json:"ready"`
}

type readyNotice struct {
	TournamentID   int64         `json:"tournamentId"`
	BracketMatchID int64         `json:"bracketMatchId"`
	PlayerID       game.PlayerID `json:"playerId"`
}

type matchNotice struct {
	TournamentID   int64         `json:"tournamentId"`
	BracketMatchID int64         `json:"bracketMatchId"`
	MatchID        int64         `json:"matchId"`
	Opponent       game.PlayerID `json:"opponent"`
}

// Ready marks accountID ready for an online bracket match. When both
// competitors are ready and online, exactly one live match is created.
func (o *Orchestrator) Ready(ctx context.Context, tid, bracketMatchID int64, accountID game.PlayerID) (ReadyResult, error) {
	defer o.lock(tid)()

	t, err := o.loadTournament(ctx, tid)
	if err != nil {
		return ReadyResult{}, err
	}
	if t.Mode != store.ModeOnline {
		return ReadyResult{}, ErrOfflineTournament
	}
	if t.Status != store.StatusOngoing {
		return ReadyResult{}, ErrTournamentNotRunning
	}
	bm, err := o.bracketMatch(ctx, tid, bracketMatchID)
	if err != nil {
		return ReadyResult{}, err
	}
	if bm.Winner != nil {
		return ReadyResult{}, ErrMatchDecided
	}
	p1, p2, err := o.competitors(ctx, bm)
	if err != nil {
		return ReadyResult{}, err
	}
	var opponent game.PlayerID
	switch accountID {
	case p1:
		opponent = p2
	case p2:
		opponent = p1
	default:
		return ReadyResult{}, ErrNotCompetitor
	}

	o.mu.Lock()
	set := o.ready[bm.ID]
	if set == nil {
		set = make(map[game.PlayerID]bool, 2)
		o.ready[bm.ID] = set
	}
	set[accountID] = true
	o.mu.Unlock()

	o.notify(opponent, presence.EventTournamentReady, readyNotice{
		TournamentID: tid, BracketMatchID: bm.ID, PlayerID: accountID,
	})

	if bm.LiveMatchID != nil {
		id := *bm.LiveMatchID
		if !o.stale(o.live.Status(id), p1, p2) {
			o.notify(accountID, presence.EventTournamentMatch, matchNotice{
				TournamentID: tid, BracketMatchID: bm.ID, MatchID: id, Opponent: opponent,
			})
			return ReadyResult{Status: ReadyStarted, MatchID: id, Ready: o.readyList(bm.ID)}, nil
		}
		o.log.Info("discarding stale live match",
			zap.Int64("bracket_match_id", bm.ID),
			zap.Int64("match_id", id))
		o.dropLive(id)
		bm.LiveMatchID = nil
		if err := o.store.UpdateBracketMatch(ctx, bm); err != nil {
			return ReadyResult{}, err
		}
	}

	o.mu.Lock()
	both := o.ready[bm.ID][p1] && o.ready[bm.ID][p2]
	if !both || o.creating[bm.ID] {
		o.mu.Unlock()
		return ReadyResult{Status: ReadyWaiting, Ready: o.readyList(bm.ID)}, nil
	}
	o.creating[bm.ID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.creating, bm.ID)
		o.mu.Unlock()
	}()

	if o.notifier != nil && (!o.notifier.Online(p1) || !o.notifier.Online(p2)) {
		return ReadyResult{Status: ReadyWaiting, Ready: o.readyList(bm.ID)}, nil
	}

	m, err := o.live.CreateDirect(p1, p2)
	if err != nil {
		return ReadyResult{}, err
	}
	id := m.ID()
	bm.LiveMatchID = &id
	if err := o.store.UpdateBracketMatch(ctx, bm); err != nil {
		o.live.Abandon(id)
		return ReadyResult{}, err
	}

	o.mu.Lock()
	o.liveRefs[id] = liveRef{tournamentID: tid, bracketMatchID: bm.ID}
	delete(o.ready, bm.ID)
	o.mu.Unlock()

	o.log.Info("live match started",
		zap.Int64("tournament_id", tid),
		zap.Int64("bracket_match_id", bm.ID),
		zap.Int64("match_id", id))
	o.notify(p1, presence.EventTournamentMatch, matchNotice{
		TournamentID: tid, BracketMatchID: bm.ID, MatchID: id, Opponent: p2,
	})
	o.notify(p2, presence.EventTournamentMatch, matchNotice{
		TournamentID: tid, BracketMatchID: bm.ID, MatchID: id, Opponent: p1,
	})
	return ReadyResult{Status: ReadyStarted, MatchID: id, Ready: []game.PlayerID{}}, nil
}

// stale reports whether a live match can no longer stand for the pair.
func (o *Orchestrator) stale(st game.Status, p1, p2 game.PlayerID) bool {
	if !st.Active {
		return true
	}
	if o.now().Sub(st.CreatedAt) > o.maxAge {
		return true
	}
	return len(st.Players) != 2 || !slices.Contains(st.Players, p1) || !slices.Contains(st.Players, p2)
}

// competitors resolves the seat ids of a bracket match to account ids.
func (o *Orchestrator) competitors(ctx context.Context, bm store.BracketMatch) (game.PlayerID, game.PlayerID, error) {
	if bm.Player1 == nil || bm.Player2 == nil {
		return 0, 0, ErrMatchNotReady
	}
	seats, err := o.store.Seats(ctx, bm.TournamentID)
	if err != nil {
		return 0, 0, err
	}
	var p1, p2 game.PlayerID
	for _, s := range seats {
		switch s.ID {
		case *bm.Player1:
			p1 = game.PlayerID(s.AccountID)
		case *bm.Player2:
			p2 = game.PlayerID(s.AccountID)
		}
	}
	if p1 == 0 || p2 == 0 {
		return 0, 0, ErrMatchNotReady
	}
	return p1, p2, nil
}

func (o *Orchestrator) readyList(bracketMatchID int64) []game.PlayerID {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]game.PlayerID, 0, 2)
	for p := range o.ready[bracketMatchID] {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (o *Orchestrator) clearReady(bracketMatchID int64) {
	o.mu.Lock()
	delete(o.ready, bracketMatchID)
	o.mu.Unlock()
}

// dropLive forgets a live match and abandons it. Its end result is ignored.
func (o *Orchestrator) dropLive(id int64) {
	o.mu.Lock()
	delete(o.liveRefs, id)
	o.mu.Unlock()
	o.live.Abandon(id)
}

// OnLiveMatchEnded writes a finished live match back into its bracket row.
// Register it with the match registry.
func (o *Orchestrator) OnLiveMatchEnded(res game.Result) {
	o.mu.Lock()
	ref, ok := o.liveRefs[res.MatchID]
	delete(o.liveRefs, res.MatchID)
	o.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
	defer cancel()
	if err := o.applyLiveResult(ctx, ref, res); err != nil {
		o.log.Error("failed to apply live match result",
			zap.Int64("tournament_id", ref.tournamentID),
			zap.Int64("bracket_match_id", ref.bracketMatchID),
			zap.Int64("match_id", res.MatchID),
			zap.Error(err))
	}
}

func (o *Orchestrator) applyLiveResult(ctx context.Context, ref liveRef, res game.Result) error {
	defer o.lock(ref.tournamentID)()

	bm, err := o.store.BracketMatch(ctx, ref.bracketMatchID)
	if err != nil {
		return err
	}
	if bm.LiveMatchID == nil || *bm.LiveMatchID != res.MatchID {
		return nil
	}
	bm.LiveMatchID = nil

	if !res.Won() || bm.Winner != nil {
		o.log.Info("live match ended without a result",
			zap.Int64("bracket_match_id", bm.ID),
			zap.String("reason", string(res.Reason)))
		return o.store.UpdateBracketMatch(ctx, bm)
	}

	p1, p2, err := o.competitors(ctx, bm)
	if err != nil {
		return err
	}
	i1, i2 := slices.Index(res.Players, p1), slices.Index(res.Players, p2)
	if i1 < 0 || i2 < 0 {
		return o.store.UpdateBracketMatch(ctx, bm)
	}
	switch res.WinnerID {
	case p1:
		bm.Winner = idPtr(*bm.Player1)
	case p2:
		bm.Winner = idPtr(*bm.Player2)
	default:
		return o.store.UpdateBracketMatch(ctx, bm)
	}
	bm.Score1, bm.Score2 = res.Score(i1), res.Score(i2)
	if err := o.store.UpdateBracketMatch(ctx, bm); err != nil {
		return err
	}
	o.clearReady(bm.ID)
	o.log.Info("live match result recorded",
		zap.Int64("tournament_id", ref.tournamentID),
		zap.Int64("bracket_match_id", bm.ID),
		zap.Int64("match_id", res.MatchID))

	t, err := o.loadTournament(ctx, ref.tournamentID)
	if err != nil {
		return err
	}
	return o.progressLocked(ctx, t)
}
