package server

import (
	"time"

	"pong-server/internal/store"
)

// ============================================================================
// ERROR RESPONSES
// ============================================================================
// tygo:generate
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// TOURNAMENTS
// ============================================================================
// tygo:generate
type CreateTournamentRequest struct {
	Name string               `json:"name"`
	Mode store.TournamentMode `json:"mode"`
}

// tygo:generate
type JoinTournamentRequest struct {
	Nickname string `json:"nickname"`
}

// tygo:generate
type JoinAliasRequest struct {
	Alias string `json:"alias"`
}

// tygo:generate
type ReportResultRequest struct {
	Winner int64 `json:"winner"`
	Score1 int   `json:"score1"`
	Score2 int   `json:"score2"`
}

// ============================================================================
// PLAYERS
// ============================================================================
// tygo:generate
type StatsResponse struct {
	store.Stats
	History []store.HistoryEntry `json:"history"`
	Online  bool                 `json:"online"`
	InMatch int64                `json:"inMatch,omitempty"`
}

// ============================================================================
// HEALTH
// ============================================================================
// tygo:generate
type HealthResponse struct {
	Status      string    `json:"status"`
	LiveMatches int       `json:"liveMatches"`
	Connections int       `json:"connections"`
	Online      int       `json:"online"`
	Time        time.Time `json:"time"`
}
