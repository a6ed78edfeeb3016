package tournament

import (
	"errors"

	"pong-server/internal/store"
)

var (
	ErrTournamentNotFound   = errors.New("TOURNAMENT_NOT_FOUND: tournament not found")
	ErrBracketMatchNotFound = errors.New("BRACKET_MATCH_NOT_FOUND: bracket match not found")
	ErrTournamentFull       = errors.New("TOURNAMENT_FULL: all seats are taken")
	ErrTournamentStarted    = errors.New("TOURNAMENT_STARTED: tournament is no longer accepting changes")
	ErrTournamentNotRunning = errors.New("TOURNAMENT_NOT_RUNNING: tournament is not in progress")
	ErrNotJoined            = errors.New("NOT_JOINED: account holds no seat in this tournament")
	ErrNotCompetitor        = errors.New("NOT_COMPETITOR: account does not play this match")
	ErrMatchDecided         = errors.New("MATCH_DECIDED: bracket match already has a winner")
	ErrMatchNotReady        = errors.New("MATCH_NOT_READY: both competitors are not known yet")
	ErrOfflineTournament    = errors.New("OFFLINE_TOURNAMENT: matches of offline tournaments are reported, not played online")
	ErrNotAdmin             = errors.New("FORBIDDEN: only the tournament admin can do this")
	ErrInvalidName          = errors.New("INVALID_NAME: name must be 1 to 50 characters")
	ErrInvalidAlias         = errors.New("INVALID_ALIAS: alias must be 1 to 20 characters")
	ErrInvalidMode          = errors.New("INVALID_MODE: mode must be online or offline")
	ErrInvalidResult        = errors.New("INVALID_RESULT: winner must be one of the competitors and scores non-negative")

	ErrAlreadyJoined = store.ErrAlreadyJoined
)
