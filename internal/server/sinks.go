package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"pong-server/internal/game"
)

const (
	sinkBuffer   = 64
	writeTimeout = 5 * time.Second
)

type closeFrame struct {
	code   int
	reason string
}

// outbox is the non-blocking half shared by both transports: Send queues,
// Close asks the writer to flush what is queued and then close.
// Why non-blocking: matches broadcast under their own lock, so a slow client
// must never stall the tick loop
type outbox struct {
	out     chan game.Event // Queued events, bounded by sinkBuffer
	closing chan closeFrame // Receives the single close request
	once    sync.Once       // Close is idempotent
	done    chan struct{}   // Closed when the writer exits
}

func (o *outbox) init() {
	o.out = make(chan game.Event, sinkBuffer)
	o.closing = make(chan closeFrame, 1)
	o.done = make(chan struct{})
}

// Send queues ev. A full buffer drops the frame.
// Why drop: the next state frame supersedes this one within a tick
func (o *outbox) Send(ev game.Event) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.out <- ev:
		return true
	default:
		return false
	}
}

func (o *outbox) Close(code int, reason string) {
	o.once.Do(func() {
		o.closing <- closeFrame{code: code, reason: reason}
	})
}

// Done is closed once the writer has stopped.
func (o *outbox) Done() <-chan struct{} {
	return o.done
}

// socketSink writes events to a WebSocket from its own goroutine.
type socketSink struct {
	outbox
	conn *websocket.Conn
	log  *zap.Logger
}

func newSocketSink(ctx context.Context, conn *websocket.Conn, log *zap.Logger) *socketSink {
	s := &socketSink{conn: conn, log: log}
	s.init()
	go s.writeLoop(ctx)
	return s
}

func (s *socketSink) Kind() game.SinkKind { return game.SinkSocket }

func (s *socketSink) writeLoop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case ev := <-s.out:
			if err := s.write(ctx, ev); err != nil {
				s.log.Debug("socket write failed", zap.Error(err))
				return
			}
		case f := <-s.closing:
			// Flush first
			// Why: the final result or abandon notice is queued just before Close
			s.flush(ctx)
			s.conn.Close(websocket.StatusCode(f.code), f.reason)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *socketSink) flush(ctx context.Context) {
	for {
		select {
		case ev := <-s.out:
			if err := s.write(ctx, ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *socketSink) write(ctx context.Context, ev game.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// streamSink carries events over server-sent events. The handler that owns
// the response runs serve.
type streamSink struct {
	outbox
}

func newStreamSink() *streamSink {
	s := &streamSink{}
	s.init()
	return s
}

func (s *streamSink) Kind() game.SinkKind { return game.SinkStream }

// serve writes events until the sink is closed or ctx ends.
func (s *streamSink) serve(ctx context.Context, w http.ResponseWriter) {
	defer close(s.done)
	rc := http.NewResponseController(w)
	for {
		select {
		case ev := <-s.out:
			if err := writeSSE(w, ev); err != nil {
				return
			}
			rc.Flush()
		case f := <-s.closing:
			// Same flush-then-close order as the socket; SSE has no close
			// frame, so the code travels in a final "close" event
			for drained := false; !drained; {
				select {
				case ev := <-s.out:
					writeSSE(w, ev)
				default:
					drained = true
				}
			}
			writeSSE(w, game.Event{Type: "close", Payload: map[string]any{"code": f.code, "reason": f.reason}})
			rc.Flush()
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev game.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
