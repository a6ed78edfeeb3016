package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// OpenPostgres connects, pings and applies pending migrations.
func OpenPostgres(ctx context.Context, url string, log *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := runMigrations(pool); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("database migrations applied")
	return &Postgres{pool: pool, log: log}, nil
}

// runMigrations applies the embedded goose migrations.
func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (p *Postgres) CreateAccount(ctx context.Context, username, avatar string, guest bool) (Account, error) {
	a := Account{Username: username, Avatar: avatar, Guest: guest}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO accounts (username, avatar, is_guest)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		username, avatar, guest,
	).Scan(&a.ID, &a.CreatedAt)
	if isUniqueViolation(err) {
		return Account{}, ErrUsernameTaken
	}
	if err != nil {
		return Account{}, fmt.Errorf("failed to create account %s: %w", username, err)
	}
	return a, nil
}

func (p *Postgres) Account(ctx context.Context, id int64) (Account, error) {
	var a Account
	err := p.pool.QueryRow(ctx, `
		SELECT id, username, avatar, is_guest, created_at FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Username, &a.Avatar, &a.Guest, &a.CreatedAt)
	if err != nil {
		return Account{}, notFound(err)
	}
	return a, nil
}

func (p *Postgres) Stats(ctx context.Context, accountID int64) (Stats, error) {
	s := DefaultStats(accountID)
	err := p.pool.QueryRow(ctx, `
		SELECT a.username, COALESCE(s.elo, 1000), COALESCE(s.matches_played, 0),
		       COALESCE(s.wins, 0), COALESCE(s.winrate, 0)
		FROM accounts a
		LEFT JOIN player_stats s ON s.account_id = a.id
		WHERE a.id = $1`, accountID,
	).Scan(&s.Username, &s.Elo, &s.MatchesPlayed, &s.Wins, &s.Winrate)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultStats(accountID), nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load stats for %d: %w", accountID, err)
	}
	return s, nil
}

func (p *Postgres) Leaderboard(ctx context.Context, limit int) ([]Stats, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT s.account_id, a.username, s.elo, s.matches_played, s.wins, s.winrate
		FROM player_stats s
		JOIN accounts a ON a.id = s.account_id
		ORDER BY s.elo DESC, s.account_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	defer rows.Close()

	var out []Stats
	for rows.Next() {
		var s Stats
		if err := rows.Scan(&s.AccountID, &s.Username, &s.Elo, &s.MatchesPlayed, &s.Wins, &s.Winrate); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) History(ctx context.Context, accountID int64, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, account_id, opponent_id, result, score, opponent_score,
		       elo_before, elo_after, live_match_id, played_at
		FROM match_history
		WHERE account_id = $1
		ORDER BY played_at DESC, id DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %d: %w", accountID, err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.AccountID, &h.OpponentID, &h.Result, &h.Score, &h.OpponentScore,
			&h.EloBefore, &h.EloAfter, &h.MatchID, &h.PlayedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *Postgres) RecordDuel(ctx context.Context, d Duel, settle SettleFunc) (Settlement, error) {
	if d.PlayedAt.IsZero() {
		d.PlayedAt = time.Now().UTC()
	}
	var out Settlement
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO player_stats (account_id) VALUES ($1), ($2)
			ON CONFLICT (account_id) DO NOTHING`, d.WinnerID, d.LoserID); err != nil {
			return fmt.Errorf("failed to ensure stats rows: %w", err)
		}

		// Lock in id order so concurrent duels between the same pair never deadlock.
		rows, err := tx.Query(ctx, `
			SELECT account_id, elo, matches_played, wins
			FROM player_stats
			WHERE account_id IN ($1, $2)
			ORDER BY account_id
			FOR UPDATE`, d.WinnerID, d.LoserID)
		if err != nil {
			return fmt.Errorf("failed to lock stats rows: %w", err)
		}
		current := make(map[int64]Stats, 2)
		for rows.Next() {
			var s Stats
			if err := rows.Scan(&s.AccountID, &s.Elo, &s.MatchesPlayed, &s.Wins); err != nil {
				rows.Close()
				return err
			}
			current[s.AccountID] = s
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		w, l := current[d.WinnerID], current[d.LoserID]
		newW, newL := settle(w.Elo, l.Elo)

		update := `
			UPDATE player_stats
			SET elo = $2, matches_played = $3, wins = $4, winrate = $5
			WHERE account_id = $1`
		if _, err := tx.Exec(ctx, update, d.WinnerID, newW, w.MatchesPlayed+1, w.Wins+1,
			Winrate(w.Wins+1, w.MatchesPlayed+1)); err != nil {
			return fmt.Errorf("failed to update winner stats: %w", err)
		}
		if _, err := tx.Exec(ctx, update, d.LoserID, newL, l.MatchesPlayed+1, l.Wins,
			Winrate(l.Wins, l.MatchesPlayed+1)); err != nil {
			return fmt.Errorf("failed to update loser stats: %w", err)
		}

		out.Winner = HistoryEntry{
			AccountID: d.WinnerID, OpponentID: d.LoserID, Result: OutcomeWin,
			Score: d.WinnerScore, OpponentScore: d.LoserScore,
			EloBefore: w.Elo, EloAfter: newW, MatchID: d.MatchID, PlayedAt: d.PlayedAt,
		}
		out.Loser = HistoryEntry{
			AccountID: d.LoserID, OpponentID: d.WinnerID, Result: OutcomeLoss,
			Score: d.LoserScore, OpponentScore: d.WinnerScore,
			EloBefore: l.Elo, EloAfter: newL, MatchID: d.MatchID, PlayedAt: d.PlayedAt,
		}
		for _, h := range []*HistoryEntry{&out.Winner, &out.Loser} {
			if err := tx.QueryRow(ctx, `
				INSERT INTO match_history (account_id, opponent_id, result, score, opponent_score,
				                           elo_before, elo_after, live_match_id, played_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				RETURNING id`,
				h.AccountID, h.OpponentID, h.Result, h.Score, h.OpponentScore,
				h.EloBefore, h.EloAfter, h.MatchID, h.PlayedAt,
			).Scan(&h.ID); err != nil {
				return fmt.Errorf("failed to insert history row: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Settlement{}, fmt.Errorf("failed to record match %d: %w", d.MatchID, err)
	}
	return out, nil
}

const tournamentColumns = `
	id, name, admin_id, mode, max_players, status, winner_name, winner_avatar,
	block_number, tx_hash, explorer_url, contract_url, created_at, finished_at`

func scanTournament(row pgx.Row) (Tournament, error) {
	var (
		t                          Tournament
		block                      *int64
		txHash, explorer, contract *string
	)
	err := row.Scan(&t.ID, &t.Name, &t.AdminID, &t.Mode, &t.MaxPlayers, &t.Status,
		&t.WinnerName, &t.WinnerAvatar, &block, &txHash, &explorer, &contract,
		&t.CreatedAt, &t.FinishedAt)
	if err != nil {
		return Tournament{}, err
	}
	if txHash != nil {
		r := Receipt{TxHash: *txHash}
		if block != nil {
			r.BlockNumber = uint64(*block)
		}
		if explorer != nil {
			r.ExplorerURL = *explorer
		}
		if contract != nil {
			r.ContractURL = *contract
		}
		t.Receipt = &r
	}
	return t, nil
}

func (p *Postgres) CreateTournament(ctx context.Context, t Tournament) (Tournament, error) {
	if t.Status == "" {
		t.Status = StatusPending
	}
	row := p.pool.QueryRow(ctx, `
		INSERT INTO tournaments (name, admin_id, mode, max_players, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING`+tournamentColumns,
		t.Name, t.AdminID, t.Mode, t.MaxPlayers, t.Status)
	out, err := scanTournament(row)
	if err != nil {
		return Tournament{}, fmt.Errorf("failed to create tournament %q: %w", t.Name, err)
	}
	return out, nil
}

func (p *Postgres) Tournament(ctx context.Context, id int64) (Tournament, error) {
	t, err := scanTournament(p.pool.QueryRow(ctx, `SELECT`+tournamentColumns+` FROM tournaments WHERE id = $1`, id))
	if err != nil {
		return Tournament{}, notFound(err)
	}
	return t, nil
}

func (p *Postgres) ListTournaments(ctx context.Context) ([]Tournament, error) {
	rows, err := p.pool.Query(ctx, `SELECT`+tournamentColumns+` FROM tournaments ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	defer rows.Close()

	var out []Tournament
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) SetTournamentStatus(ctx context.Context, id int64, status TournamentStatus) error {
	tag, err := p.pool.Exec(ctx, `UPDATE tournaments SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update tournament %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTournament relies on ON DELETE CASCADE for seats and bracket rows.
func (p *Postgres) DeleteTournament(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM tournaments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tournament %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) FinishTournament(ctx context.Context, id int64, winnerName, winnerAvatar string, at time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE tournaments
		SET status = 'finished', winner_name = $2, winner_avatar = $3, finished_at = $4
		WHERE id = $1 AND status <> 'finished'`,
		id, winnerName, winnerAvatar, at)
	if err != nil {
		return false, fmt.Errorf("failed to finish tournament %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) SaveReceipt(ctx context.Context, id int64, r Receipt) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE tournaments
		SET block_number = $2, tx_hash = $3, explorer_url = $4, contract_url = $5
		WHERE id = $1`,
		id, int64(r.BlockNumber), r.TxHash, r.ExplorerURL, r.ContractURL)
	if err != nil {
		return fmt.Errorf("failed to save receipt for tournament %d: %w", id, err)
	}
	return nil
}

func (p *Postgres) AddSeat(ctx context.Context, s Seat) (Seat, error) {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO tournament_players (tournament_id, account_id, nickname, rank)
		VALUES ($1, $2, $3, $4)
		RETURNING id, joined_at`,
		s.TournamentID, s.AccountID, s.Nickname, s.Rank,
	).Scan(&s.ID, &s.JoinedAt)
	if isUniqueViolation(err) {
		return Seat{}, ErrAlreadyJoined
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Seat{}, ErrNotFound
		}
		return Seat{}, fmt.Errorf("failed to add seat: %w", err)
	}
	return s, nil
}

func (p *Postgres) Seats(ctx context.Context, tournamentID int64) ([]Seat, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT tp.id, tp.tournament_id, tp.account_id, tp.nickname, a.avatar, tp.rank, tp.joined_at
		FROM tournament_players tp
		JOIN accounts a ON a.id = tp.account_id
		WHERE tp.tournament_id = $1
		ORDER BY tp.id`, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load seats for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	var out []Seat
	for rows.Next() {
		var s Seat
		if err := rows.Scan(&s.ID, &s.TournamentID, &s.AccountID, &s.Nickname, &s.Avatar, &s.Rank, &s.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) RemoveSeat(ctx context.Context, tournamentID, accountID int64) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM tournament_players WHERE tournament_id = $1 AND account_id = $2`,
		tournamentID, accountID)
	if err != nil {
		return false, fmt.Errorf("failed to remove seat: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const bracketColumns = `id, tournament_id, round, slot, player1, player2, winner, score1, score2, live_match_id`

func scanBracketMatch(row pgx.Row) (BracketMatch, error) {
	var bm BracketMatch
	err := row.Scan(&bm.ID, &bm.TournamentID, &bm.Round, &bm.Slot, &bm.Player1, &bm.Player2,
		&bm.Winner, &bm.Score1, &bm.Score2, &bm.LiveMatchID)
	return bm, err
}

func (p *Postgres) InsertBracketMatch(ctx context.Context, bm BracketMatch) (BracketMatch, error) {
	out, err := scanBracketMatch(p.pool.QueryRow(ctx, `
		INSERT INTO bracket_matches (tournament_id, round, slot, player1, player2, winner, score1, score2, live_match_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+bracketColumns,
		bm.TournamentID, bm.Round, bm.Slot, bm.Player1, bm.Player2, bm.Winner, bm.Score1, bm.Score2, bm.LiveMatchID))
	if err != nil {
		return BracketMatch{}, fmt.Errorf("failed to insert %s match %d: %w", bm.Round, bm.Slot, err)
	}
	return out, nil
}

func (p *Postgres) BracketMatch(ctx context.Context, id int64) (BracketMatch, error) {
	bm, err := scanBracketMatch(p.pool.QueryRow(ctx, `SELECT `+bracketColumns+` FROM bracket_matches WHERE id = $1`, id))
	if err != nil {
		return BracketMatch{}, notFound(err)
	}
	return bm, nil
}

func (p *Postgres) BracketMatches(ctx context.Context, tournamentID int64) ([]BracketMatch, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+bracketColumns+` FROM bracket_matches WHERE tournament_id = $1 ORDER BY id`, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bracket for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	var out []BracketMatch
	for rows.Next() {
		bm, err := scanBracketMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bm)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateBracketMatch(ctx context.Context, bm BracketMatch) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE bracket_matches
		SET player1 = $2, player2 = $3, winner = $4, score1 = $5, score2 = $6, live_match_id = $7
		WHERE id = $1`,
		bm.ID, bm.Player1, bm.Player2, bm.Winner, bm.Score1, bm.Score2, bm.LiveMatchID)
	if err != nil {
		return fmt.Errorf("failed to update bracket match %d: %w", bm.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteBracketMatches(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM bracket_matches WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("failed to delete bracket matches: %w", err)
	}
	return nil
}
