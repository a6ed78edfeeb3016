package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pong-server/internal/auth"
	"pong-server/internal/game"
	"pong-server/internal/store"
	"pong-server/internal/tournament"
)

var (
	errBadRequest = errors.New("BAD_REQUEST: malformed request")
	errInternal   = errors.New("INTERNAL: internal server error")
)

const maxBody = 1 << 16

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /game", s.gameSocketHandler)
	mux.HandleFunc("GET /game/stream", s.gameStreamHandler)
	mux.HandleFunc("POST /game/input", s.gameInputHandler)
	mux.HandleFunc("GET /presence", s.presenceHandler)

	mux.HandleFunc("POST /api/queue/{mode}", s.joinQueueHandler)
	mux.HandleFunc("POST /api/queue/{mode}/cancel", s.cancelQueueHandler)
	mux.HandleFunc("GET /api/queue/{mode}/status", s.queueStatusHandler)
	mux.HandleFunc("GET /api/matches/{id}", s.matchStatusHandler)

	mux.HandleFunc("POST /api/tournaments", s.createTournamentHandler)
	mux.HandleFunc("GET /api/tournaments", s.listTournamentsHandler)
	mux.HandleFunc("GET /api/tournaments/{id}", s.tournamentHandler)
	mux.HandleFunc("DELETE /api/tournaments/{id}", s.deleteTournamentHandler)
	mux.HandleFunc("POST /api/tournaments/{id}/join", s.joinTournamentHandler)
	mux.HandleFunc("POST /api/tournaments/{id}/join-alias", s.joinAliasHandler)
	mux.HandleFunc("POST /api/tournaments/{id}/leave", s.leaveTournamentHandler)
	mux.HandleFunc("GET /api/tournaments/{id}/bracket", s.bracketHandler)
	mux.HandleFunc("POST /api/tournaments/{id}/matches/{matchId}/ready", s.readyHandler)
	mux.HandleFunc("POST /api/tournaments/{id}/matches/{matchId}/result", s.reportResultHandler)

	mux.HandleFunc("GET /api/leaderboard", s.leaderboardHandler)
	mux.HandleFunc("GET /api/players/{id}/stats", s.playerStatsHandler)

	return corsMiddleware(s.allowedOrigins, requestLogger(s.log, mux))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		LiveMatches: s.registry.Len(),
		Connections: s.connectionManager.Count(),
		Online:      s.presence.Count(),
		Time:        time.Now().UTC(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to write response", zap.Error(err))
	}
}

// writeError maps err to a status and an ErrorMessage body. Errors that are
// not part of the API surface are logged and reported as internal.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
		err = errInternal
	}
	code, msg := splitCode(err)
	s.writeJSON(w, status, ErrorMessage{Message: msg, Code: code})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, tournament.ErrNotAdmin),
		errors.Is(err, tournament.ErrNotCompetitor),
		errors.Is(err, game.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, tournament.ErrTournamentNotFound),
		errors.Is(err, tournament.ErrBracketMatchNotFound),
		errors.Is(err, game.ErrMatchNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tournament.ErrAlreadyJoined),
		errors.Is(err, tournament.ErrTournamentFull),
		errors.Is(err, tournament.ErrTournamentStarted),
		errors.Is(err, tournament.ErrTournamentNotRunning),
		errors.Is(err, tournament.ErrNotJoined),
		errors.Is(err, tournament.ErrMatchDecided),
		errors.Is(err, tournament.ErrMatchNotReady),
		errors.Is(err, tournament.ErrOfflineTournament),
		errors.Is(err, store.ErrUsernameTaken),
		errors.Is(err, game.ErrMatchOver):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, tournament.ErrInvalidName),
		errors.Is(err, tournament.ErrInvalidAlias),
		errors.Is(err, tournament.ErrInvalidMode),
		errors.Is(err, tournament.ErrInvalidResult),
		errors.Is(err, game.ErrInvalidMode),
		errors.Is(err, game.ErrInvalidPlayers):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// splitCode separates "CODE: message" error text.
func splitCode(err error) (string, string) {
	code, msg, ok := strings.Cut(err.Error(), ": ")
	if !ok || code != strings.ToUpper(code) || strings.ContainsAny(code, " ") {
		return "", err.Error()
	}
	return code, msg
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return errBadRequest
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadRequest
	}
	return id, nil
}

// caller authenticates r. A userId query parameter, when present, must
// name the token's player.
func (s *Server) caller(r *http.Request) (game.PlayerID, error) {
	id, err := s.auth.Authenticate(r)
	if err != nil {
		return 0, err
	}
	if raw := r.URL.Query().Get("userId"); raw != "" {
		claimed, err := game.ParsePlayerID(raw)
		if err != nil || claimed != id {
			return 0, auth.ErrUnauthorized
		}
	}
	return id, nil
}
