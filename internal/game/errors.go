package game

import "errors"

var (
	ErrMatchNotFound  = errors.New("MATCH_NOT_FOUND: match not found")
	ErrForbidden      = errors.New("FORBIDDEN: player is not part of this match")
	ErrInvalidPlayers = errors.New("INVALID_PLAYERS: a match needs 2 or 4 distinct players")
	ErrInvalidMode    = errors.New("INVALID_MODE: mode must be duo or quad")
	ErrMatchOver      = errors.New("MATCH_OVER: match has ended")
)
