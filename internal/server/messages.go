package server

import (
	"encoding/json"

	"pong-server/internal/arena"
	"pong-server/internal/game"
)

// ClientMessage is the envelope of every inbound message, on the socket and
// on POST /game/input alike.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound message types.
const (
	msgPaddle = "paddle"
	msgMove   = "move"
	msgReady  = "ready"
	msgServe  = "serve"
	msgWhoami = "whoami"
	msgPing   = "ping"

	msgOnline = "get:online"
)

const eventWhoami = "whoami"

type paddlePayload struct {
	Axis  arena.Axis `json:"axis"`
	Value *float64   `json:"value"`
}

type whoamiPayload struct {
	PlayerID game.PlayerID `json:"playerId"`
	MatchID  int64         `json:"matchId"`
	Index    int           `json:"index"`
	Slot     arena.Slot    `json:"slot"`
}

type pongPayload struct {
	Time int64 `json:"time"`
}

type onlineRequest struct {
	IDs []game.PlayerID `json:"ids"`
}

type onlinePayload struct {
	Online []game.PlayerID `json:"online"`
}
