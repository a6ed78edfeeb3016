package game

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"pong-server/internal/arena"
)

// QueueState is what a queued player sees when polling.
type QueueState string

const (
	QueueIdle    QueueState = "idle"
	QueueWaiting QueueState = "waiting"
	QueueMatched QueueState = "matched"
)

// Ticket answers join and status calls.
type Ticket struct {
	Status   QueueState `json:"status"`
	MatchID  int64      `json:"matchId,omitempty"`
	Position int        `json:"position,omitempty"`
}

type matchedRecord struct {
	matchID int64
	at      time.Time
}

// queue is a FIFO for one mode. Each queue has its own lock so duo and quad
// traffic never contend.
type queue struct {
	mu      sync.Mutex
	mode    arena.Mode
	waiting []PlayerID
	matched map[PlayerID]matchedRecord
}

// Matchmaker turns queued players into registry matches.
type Matchmaker struct {
	registry *Registry
	queues   map[arena.Mode]*queue
	now      func() time.Time
	log      *zap.Logger
}

func NewMatchmaker(registry *Registry, log *zap.Logger) *Matchmaker {
	if log == nil {
		log = zap.NewNop()
	}
	mm := &Matchmaker{
		registry: registry,
		queues:   make(map[arena.Mode]*queue, 2),
		now:      registry.opts.Now,
		log:      log.Named("matchmaker"),
	}
	for _, mode := range []arena.Mode{arena.Duo, arena.Quad} {
		mm.queues[mode] = &queue{mode: mode, matched: make(map[PlayerID]matchedRecord)}
	}
	return mm
}

func (mm *Matchmaker) queue(mode arena.Mode) (*queue, error) {
	q, ok := mm.queues[mode]
	if !ok {
		return nil, ErrInvalidMode
	}
	return q, nil
}

// Join enqueues p. Joining again first drops any earlier entry and any
// uncollected match for p. When the queue reaches the mode's player count
// the head entries are drained into a new match, joiner last.
func (mm *Matchmaker) Join(mode arena.Mode, p PlayerID) (Ticket, error) {
	q, err := mm.queue(mode)
	if err != nil {
		return Ticket{}, err
	}
	if p <= 0 {
		return Ticket{}, ErrInvalidPlayers
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.remove(p)
	delete(q.matched, p)
	q.waiting = append(q.waiting, p)

	size := int(mode)
	if len(q.waiting) < size {
		queueDepth.WithLabelValues(mode.String()).Set(float64(len(q.waiting)))
		return Ticket{Status: QueueWaiting, Position: len(q.waiting)}, nil
	}

	players := append([]PlayerID(nil), q.waiting[:size]...)
	m, err := mm.registry.Create(mode, players)
	if err != nil {
		q.remove(p)
		queueDepth.WithLabelValues(mode.String()).Set(float64(len(q.waiting)))
		return Ticket{}, err
	}
	q.waiting = append(q.waiting[:0:0], q.waiting[size:]...)
	now := mm.now()
	for _, id := range players {
		q.matched[id] = matchedRecord{matchID: m.ID(), at: now}
	}
	queueDepth.WithLabelValues(mode.String()).Set(float64(len(q.waiting)))

	mm.log.Info("players matched",
		zap.String("mode", mode.String()),
		zap.Int64("match_id", m.ID()),
		zap.Any("players", players))
	return Ticket{Status: QueueMatched, MatchID: m.ID()}, nil
}

// Status reports the player's queue state. A matched record is handed out
// once and then forgotten.
func (mm *Matchmaker) Status(mode arena.Mode, p PlayerID) (Ticket, error) {
	q, err := mm.queue(mode)
	if err != nil {
		return Ticket{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if rec, ok := q.matched[p]; ok {
		delete(q.matched, p)
		return Ticket{Status: QueueMatched, MatchID: rec.matchID}, nil
	}
	for i, id := range q.waiting {
		if id == p {
			return Ticket{Status: QueueWaiting, Position: i + 1}, nil
		}
	}
	return Ticket{Status: QueueIdle}, nil
}

// Cancel removes p from the queue and drops any uncollected match record.
func (mm *Matchmaker) Cancel(mode arena.Mode, p PlayerID) error {
	q, err := mm.queue(mode)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.remove(p)
	delete(q.matched, p)
	queueDepth.WithLabelValues(mode.String()).Set(float64(len(q.waiting)))
	return nil
}

// Depth returns the number of waiting players.
func (mm *Matchmaker) Depth(mode arena.Mode) int {
	q, err := mm.queue(mode)
	if err != nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Sweep forgets matched records nobody collected within maxAge.
func (mm *Matchmaker) Sweep(maxAge time.Duration) int {
	cutoff := mm.now().Add(-maxAge)
	removed := 0
	for _, q := range mm.queues {
		q.mu.Lock()
		for p, rec := range q.matched {
			if rec.at.Before(cutoff) {
				delete(q.matched, p)
				removed++
			}
		}
		q.mu.Unlock()
	}
	if removed > 0 {
		mm.log.Debug("swept uncollected match records", zap.Int("count", removed))
	}
	return removed
}

func (q *queue) remove(p PlayerID) {
	for i, id := range q.waiting {
		if id == p {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}
