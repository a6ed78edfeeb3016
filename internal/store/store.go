// Package store persists accounts, ratings, match history and tournaments.
//
// Postgres is the production backend. Memory implements the same interface
// for tests and for running without a database.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("NOT_FOUND: record not found")
	ErrUsernameTaken = errors.New("USERNAME_TAKEN: username already in use")
	ErrAlreadyJoined = errors.New("ALREADY_JOINED: account already holds a seat")
)

type Account struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar,omitempty"`
	Guest     bool      `json:"guest"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stats is the rating row of one account. Accounts without a row read as
// the defaults.
type Stats struct {
	AccountID     int64   `json:"accountId"`
	Username      string  `json:"username,omitempty"`
	Elo           int     `json:"elo"`
	MatchesPlayed int     `json:"matchesPlayed"`
	Wins          int     `json:"wins"`
	Winrate       float64 `json:"winrate"`
}

const DefaultElo = 1000

func DefaultStats(accountID int64) Stats {
	return Stats{AccountID: accountID, Elo: DefaultElo}
}

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
)

// HistoryEntry is one participant's view of a decided match.
type HistoryEntry struct {
	ID            int64     `json:"id"`
	AccountID     int64     `json:"accountId"`
	OpponentID    int64     `json:"opponentId"`
	Result        Outcome   `json:"result"`
	Score         int       `json:"score"`
	OpponentScore int       `json:"opponentScore"`
	EloBefore     int       `json:"eloBefore"`
	EloAfter      int       `json:"eloAfter"`
	MatchID       int64     `json:"matchId"`
	PlayedAt      time.Time `json:"playedAt"`
}

// Duel is a decided two-player match waiting to be settled.
type Duel struct {
	MatchID     int64
	WinnerID    int64
	LoserID     int64
	WinnerScore int
	LoserScore  int
	PlayedAt    time.Time
}

// SettleFunc maps the ratings before a duel to the ratings after it.
type SettleFunc func(winnerElo, loserElo int) (newWinner, newLoser int)

// Settlement reports the rows written for a duel.
type Settlement struct {
	Winner HistoryEntry `json:"winner"`
	Loser  HistoryEntry `json:"loser"`
}

type TournamentMode string

const (
	ModeOnline  TournamentMode = "online"
	ModeOffline TournamentMode = "offline"
)

func (m TournamentMode) Valid() bool {
	return m == ModeOnline || m == ModeOffline
}

type TournamentStatus string

const (
	StatusPending  TournamentStatus = "pending"
	StatusOngoing  TournamentStatus = "ongoing"
	StatusFinished TournamentStatus = "finished"
)

// Receipt is the ledger reference stored for a finished tournament.
type Receipt struct {
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"txHash"`
	ExplorerURL string `json:"explorerUrl"`
	ContractURL string `json:"contractUrl"`
}

type Tournament struct {
	ID           int64            `json:"id"`
	Name         string           `json:"name"`
	AdminID      int64            `json:"adminId"`
	Mode         TournamentMode   `json:"mode"`
	MaxPlayers   int              `json:"maxPlayers"`
	Status       TournamentStatus `json:"status"`
	WinnerName   string           `json:"winnerName,omitempty"`
	WinnerAvatar string           `json:"winnerAvatar,omitempty"`
	Receipt      *Receipt         `json:"receipt,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	FinishedAt   *time.Time       `json:"finishedAt,omitempty"`
}

// Seat is one competitor of a tournament.
type Seat struct {
	ID           int64     `json:"id"`
	TournamentID int64     `json:"tournamentId"`
	AccountID    int64     `json:"accountId"`
	Nickname     string    `json:"nickname"`
	Avatar       string    `json:"avatar,omitempty"`
	Rank         int       `json:"rank"`
	JoinedAt     time.Time `json:"joinedAt"`
}

type Round string

const (
	RoundQuarter Round = "quarter"
	RoundSemi    Round = "semi"
	RoundFinal   Round = "final"
)

// BracketMatch is one node of the elimination tree. Player and winner
// fields hold seat ids.
type BracketMatch struct {
	ID           int64  `json:"id"`
	TournamentID int64  `json:"tournamentId"`
	Round        Round  `json:"round"`
	Slot         int    `json:"slot"`
	Player1      *int64 `json:"player1"`
	Player2      *int64 `json:"player2"`
	Winner       *int64 `json:"winner"`
	Score1       int    `json:"score1"`
	Score2       int    `json:"score2"`
	LiveMatchID  *int64 `json:"liveMatchId,omitempty"`
}

// Store is the persistence contract shared by Postgres and Memory.
type Store interface {
	CreateAccount(ctx context.Context, username, avatar string, guest bool) (Account, error)
	Account(ctx context.Context, id int64) (Account, error)

	Stats(ctx context.Context, accountID int64) (Stats, error)
	Leaderboard(ctx context.Context, limit int) ([]Stats, error)
	History(ctx context.Context, accountID int64, limit int) ([]HistoryEntry, error)
	// RecordDuel settles a duel atomically: both stats rows are read under
	// lock, settle computes the new ratings, and two history rows are written.
	RecordDuel(ctx context.Context, d Duel, settle SettleFunc) (Settlement, error)

	CreateTournament(ctx context.Context, t Tournament) (Tournament, error)
	Tournament(ctx context.Context, id int64) (Tournament, error)
	ListTournaments(ctx context.Context) ([]Tournament, error)
	SetTournamentStatus(ctx context.Context, id int64, status TournamentStatus) error
	// FinishTournament marks a tournament finished. It reports false if the
	// tournament was already finished.
	FinishTournament(ctx context.Context, id int64, winnerName, winnerAvatar string, at time.Time) (bool, error)
	SaveReceipt(ctx context.Context, id int64, r Receipt) error
	// DeleteTournament removes a tournament with its seats and bracket rows.
	DeleteTournament(ctx context.Context, id int64) error

	AddSeat(ctx context.Context, s Seat) (Seat, error)
	Seats(ctx context.Context, tournamentID int64) ([]Seat, error)
	RemoveSeat(ctx context.Context, tournamentID, accountID int64) (bool, error)

	InsertBracketMatch(ctx context.Context, m BracketMatch) (BracketMatch, error)
	BracketMatch(ctx context.Context, id int64) (BracketMatch, error)
	BracketMatches(ctx context.Context, tournamentID int64) ([]BracketMatch, error)
	UpdateBracketMatch(ctx context.Context, m BracketMatch) error
	DeleteBracketMatches(ctx context.Context, ids []int64) error

	Close()
}

// Winrate is wins over matches played, zero before the first match.
func Winrate(wins, matches int) float64 {
	if matches == 0 {
		return 0
	}
	return float64(wins) / float64(matches)
}
