package server

import (
	"net/http"
	"strconv"

	"pong-server/internal/arena"
	"pong-server/internal/game"
	"pong-server/internal/store"
)

const (
	defaultLeaderboardLimit = 20
	defaultHistoryLimit     = 20
	maxListLimit            = 100
)

func queueMode(r *http.Request) (arena.Mode, error) {
	mode, err := arena.ParseMode(r.PathValue("mode"))
	if err != nil {
		return 0, game.ErrInvalidMode
	}
	return mode, nil
}

func (s *Server) joinQueueHandler(w http.ResponseWriter, r *http.Request) {
	player, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mode, err := queueMode(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ticket, err := s.matchmaker.Join(mode, player)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) cancelQueueHandler(w http.ResponseWriter, r *http.Request) {
	player, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mode, err := queueMode(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.matchmaker.Cancel(mode, player); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, game.Ticket{Status: game.QueueIdle})
}

func (s *Server) queueStatusHandler(w http.ResponseWriter, r *http.Request) {
	player, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mode, err := queueMode(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ticket, err := s.matchmaker.Status(mode, player)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) createTournamentHandler(w http.ResponseWriter, r *http.Request) {
	player, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req CreateTournamentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	t, err := s.tournaments.CreateTournament(r.Context(), req.Name, player, req.Mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, t)
}

func (s *Server) listTournamentsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.tournaments.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []store.Tournament{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) tournamentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	t, err := s.tournaments.Tournament(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

// deleteTournamentHandler is admin only and limited to pending tournaments.
func (s *Server) deleteTournamentHandler(w http.ResponseWriter, r *http.Request) {
	player, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.tournaments.Delete(r.Context(), id, player); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) joinTournamentHandler(w http.ResponseWriter, r *http.Request) {
	player, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req JoinTournamentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	seat, err := s.tournaments.Join(r.Context(), id, player, req.Nickname)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, seat)
}

// joinAliasHandler seats a guest. No account token is required.
func (s *Server) joinAliasHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req JoinAliasRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	seat, err := s.tournaments.JoinAlias(r.Context(), id, req.Alias)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, seat)
}

func (s *Server) leaveTournamentHandler(w http.ResponseWriter, r *http.Request) {
	player, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.tournaments.Leave(r.Context(), id, player); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) bracketHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.tournaments.Bracket(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	player, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	tid, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	bmID, err := pathID(r, "matchId")
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.tournaments.Ready(r.Context(), tid, bmID, player)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) reportResultHandler(w http.ResponseWriter, r *http.Request) {
	player, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	tid, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	bmID, err := pathID(r, "matchId")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req ReportResultRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	bm, err := s.tournaments.ReportResult(r.Context(), tid, bmID, player, req.Winner, req.Score1, req.Score2)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, bm)
}

func (s *Server) leaderboardHandler(w http.ResponseWriter, r *http.Request) {
	board, err := s.store.Leaderboard(r.Context(), limitParam(r, defaultLeaderboardLimit))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if board == nil {
		board = []store.Stats{}
	}
	s.writeJSON(w, http.StatusOK, board)
}

func (s *Server) playerStatsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.store.Account(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.store.Stats(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	history, err := s.store.History(r.Context(), id, limitParam(r, defaultHistoryLimit))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if history == nil {
		history = []store.HistoryEntry{}
	}
	resp := StatsResponse{Stats: stats, History: history, Online: s.presence.Online(game.PlayerID(id))}
	if matchID, ok := s.connectionManager.ActiveMatch(game.PlayerID(id)); ok {
		resp.InMatch = matchID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxListLimit)
}
