package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pong-server/internal/game"
	"pong-server/internal/presence"
)

// admit resolves the match a connection asks for. No state changes here.
func (s *Server) admit(r *http.Request, p game.PlayerID) (*game.Match, error) {
	id, err := game.ParseMatchID(r.URL.Query().Get("matchId"))
	if err != nil {
		return nil, game.ErrMatchNotFound
	}
	m, ok := s.registry.Get(id)
	if !ok {
		return nil, game.ErrMatchNotFound
	}
	if !m.Has(p) {
		return nil, game.ErrForbidden
	}
	return m, nil
}

func closeCodeFor(err error) (websocket.StatusCode, string) {
	if errors.Is(err, game.ErrForbidden) {
		return game.CloseForbidden, "forbidden"
	}
	return game.CloseNotFound, "not found"
}

// gameSocketHandler serves GET /game?matchId=&token=[&userId=].
func (s *Server) gameSocketHandler(w http.ResponseWriter, r *http.Request) {
	player, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOrigins,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer socket.CloseNow()

	m, err := s.admit(r, player)
	if err != nil {
		code, reason := closeCodeFor(err)
		socket.Close(code, reason)
		return
	}

	ctx := r.Context()
	sink := newSocketSink(ctx, socket, s.log)
	if err := m.Attach(player, sink); err != nil {
		code, reason := closeCodeFor(err)
		socket.Close(code, reason)
		return
	}

	connectionID := uuid.NewString()
	s.connectionManager.AddConnection(connectionID, PlayerConnection{
		PlayerID:  player,
		MatchID:   m.ID(),
		Channel:   ChannelGame,
		Transport: game.SinkSocket,
	})
	log := s.log.With(zap.String("conn_id", connectionID), zap.Int64("match_id", m.ID()), zap.Int64("player_id", int64(player)))
	log.Debug("game socket connected")

	defer func() {
		m.Detach(player, sink)
		sink.Close(game.CloseNormal, "")
		s.rateLimiter.RemoveConnection(connectionID)
		s.connectionManager.RemoveConnection(connectionID)
		log.Debug("game socket closed")
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		if !s.rateLimiter.Allow(connectionID) {
			continue
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug("dropping malformed message", zap.Error(err))
			continue
		}
		if reply, ok := s.dispatch(m, player, msg, log); ok {
			sink.Send(reply)
		}
	}
}

// gameStreamHandler serves GET /game/stream, the event stream fallback.
// Rejections are plain HTTP errors.
func (s *Server) gameStreamHandler(w http.ResponseWriter, r *http.Request) {
	player, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	m, err := s.admit(r, player)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	http.NewResponseController(w).Flush()

	sink := newStreamSink()
	if err := m.Attach(player, sink); err != nil {
		writeSSE(w, game.Event{Type: "close", Payload: ErrorMessage{Message: "not found", Code: "MATCH_OVER"}})
		return
	}

	connectionID := uuid.NewString()
	s.connectionManager.AddConnection(connectionID, PlayerConnection{
		PlayerID:  player,
		MatchID:   m.ID(),
		Channel:   ChannelGame,
		Transport: game.SinkStream,
	})
	defer func() {
		m.Detach(player, sink)
		s.connectionManager.RemoveConnection(connectionID)
	}()

	sink.serve(r.Context(), w)
}

// gameInputHandler serves POST /game/input?matchId=, the input path of the
// stream transport. Replies to ping and whoami come back in the body.
func (s *Server) gameInputHandler(w http.ResponseWriter, r *http.Request) {
	player, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	m, err := s.admit(r, player)
	if err != nil {
		s.writeError(w, err)
		return
	}
	key := "input:" + player.String()
	if !s.rateLimiter.Allow(key) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	var msg ClientMessage
	if err := decode(r, &msg); err != nil || msg.Type == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if reply, ok := s.dispatch(m, player, msg, s.log); ok {
		s.writeJSON(w, http.StatusOK, reply)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dispatch applies one client message. Invalid input is dropped; the return
// value is a reply meant only for the sender.
func (s *Server) dispatch(m *game.Match, p game.PlayerID, msg ClientMessage, log *zap.Logger) (game.Event, bool) {
	switch msg.Type {
	case msgPaddle, msgMove:
		var in paddlePayload
		if err := json.Unmarshal(msg.Payload, &in); err != nil || in.Value == nil {
			log.Debug("dropping malformed paddle message")
			return game.Event{}, false
		}
		m.MovePaddle(p, in.Axis, *in.Value)
	case msgReady:
		m.Ready(p)
	case msgServe:
		m.Serve(p)
	case msgWhoami:
		slot, _ := m.SlotOf(p)
		return game.Event{Type: eventWhoami, Payload: whoamiPayload{
			PlayerID: p,
			MatchID:  m.ID(),
			Index:    slot.Index(),
			Slot:     slot,
		}}, true
	case msgPing:
		return game.Event{Type: game.EventPong, Payload: pongPayload{Time: time.Now().UnixMilli()}}, true
	default:
		log.Debug("dropping unknown message", zap.String("type", msg.Type))
	}
	return game.Event{}, false
}

// matchStatusHandler serves GET /api/matches/{id}. Unknown ids answer with
// active=false so clients can decide whether to resume.
func (s *Server) matchStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.registry.Status(id))
}

// presenceHandler serves GET /presence?token=, the per-player notification
// channel.
func (s *Server) presenceHandler(w http.ResponseWriter, r *http.Request) {
	player, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOrigins,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer socket.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sink := newSocketSink(ctx, socket, s.log)

	connectionID := uuid.NewString()
	s.connectionManager.AddConnection(connectionID, PlayerConnection{
		PlayerID:  player,
		Channel:   ChannelPresence,
		Transport: game.SinkSocket,
	})
	s.presence.Register(player, sink)
	defer func() {
		s.presence.Unregister(player, sink)
		s.rateLimiter.RemoveConnection(connectionID)
		s.connectionManager.RemoveConnection(connectionID)
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText || !s.rateLimiter.Allow(connectionID) {
			continue
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case msgOnline:
			var in onlineRequest
			if err := json.Unmarshal(msg.Payload, &in); err != nil {
				continue
			}
			online := s.presence.OnlineAmong(in.IDs)
			sink.Send(game.Event{Type: presence.EventOnlineList, Payload: onlinePayload{Online: online}})
		case msgPing:
			sink.Send(game.Event{Type: game.EventPong, Payload: pongPayload{Time: time.Now().UnixMilli()}})
		}
	}
}
