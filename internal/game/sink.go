package game

// SinkKind names the transport carrying a connection.
type SinkKind string

const (
	SinkSocket SinkKind = "socket"
	SinkStream SinkKind = "stream"
)

var sinkKinds = [...]SinkKind{SinkSocket, SinkStream}

// Event is the envelope every outbound message uses.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Sink is one live connection of a player. Send must not block: the tick
// loop broadcasts while holding the match lock.
type Sink interface {
	Kind() SinkKind
	Send(ev Event) bool
	Close(code int, reason string)
}

// Close codes used when a match closes its sinks.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseForbidden = 4403
	CloseNotFound  = 4404
)

const (
	EventInit      = "init"
	EventState     = "state"
	EventIdentify  = "identify"
	EventReady     = "ready"
	EventCountdown = "countdown"
	EventServe     = "serve"
	EventPaused    = "paused"
	EventEnd       = "end"
	EventAbandoned = "abandoned"
	EventPong      = "pong"
)
