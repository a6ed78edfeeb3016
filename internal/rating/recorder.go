package rating

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"pong-server/internal/game"
	"pong-server/internal/store"
)

// Recorder settles finished duo matches into the store.
type Recorder struct {
	store store.Store
	log   *zap.Logger
}

func NewRecorder(st store.Store, log *zap.Logger) *Recorder {
	return &Recorder{store: st, log: log.Named("rating")}
}

// RecordResult writes history rows and new ratings for a won duo match.
// Other results are ignored.
func (r *Recorder) RecordResult(ctx context.Context, res game.Result) error {
	if !res.Won() || len(res.Players) != 2 {
		return nil
	}
	winnerIdx := res.Winner.Index() - 1
	if winnerIdx < 0 || winnerIdx > 1 {
		return errors.New("INVALID_RESULT: winner slot outside a duo")
	}
	loserIdx := 1 - winnerIdx

	s, err := r.store.RecordDuel(ctx, store.Duel{
		MatchID:     res.MatchID,
		WinnerID:    int64(res.Players[winnerIdx]),
		LoserID:     int64(res.Players[loserIdx]),
		WinnerScore: res.Score(winnerIdx),
		LoserScore:  res.Score(loserIdx),
		PlayedAt:    res.EndedAt,
	}, Settle)
	if err != nil {
		return fmt.Errorf("failed to settle match %d: %w", res.MatchID, err)
	}
	r.log.Info("ratings updated",
		zap.Int64("match_id", res.MatchID),
		zap.Int64("winner_id", s.Winner.AccountID),
		zap.Int("winner_elo", s.Winner.EloAfter),
		zap.Int64("loser_id", s.Loser.AccountID),
		zap.Int("loser_elo", s.Loser.EloAfter))
	return nil
}
