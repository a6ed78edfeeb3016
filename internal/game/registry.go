package game

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"pong-server/internal/arena"
	"pong-server/internal/schedule"
)

// NameResolver looks up display names shown to opponents.
type NameResolver interface {
	DisplayName(ctx context.Context, id PlayerID) (string, error)
}

// ResultRecorder persists finished duo matches and applies rating changes.
type ResultRecorder interface {
	RecordResult(ctx context.Context, res Result) error
}

type Options struct {
	Scheduler   schedule.Scheduler
	Names       NameResolver
	Recorder    ResultRecorder
	IdleTimeout time.Duration
	Logger      *zap.Logger
	Now         func() time.Time
}

// Registry holds every live match. Its lock is never held while a match
// lock is acquired; matches call back into the registry under their own
// lock when they end.
type Registry struct {
	mu        sync.RWMutex
	matches   map[int64]*Match
	lastID    int64
	listeners []func(Result)

	opts Options
	log  *zap.Logger

	// asyncMu orders wg.Add against the final wg.Wait in Shutdown.
	asyncMu  sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.Timers{}
	}
	return &Registry{
		matches: make(map[int64]*Match),
		opts:    opts,
		log:     opts.Logger.Named("registry"),
	}
}

// OnEnd registers fn to receive every match result. Listeners run on their
// own goroutine after the match has left the registry.
func (r *Registry) OnEnd(fn func(Result)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Create starts a match in the forming phase.
func (r *Registry) Create(mode arena.Mode, players []PlayerID) (*Match, error) {
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}
	if err := validatePlayers(mode, players); err != nil {
		return nil, err
	}

	r.mu.Lock()
	id := GenerateMatchID(r.lastID, r.opts.Now())
	r.lastID = id
	r.mu.Unlock()

	m, err := newMatch(id, mode, players, matchEnv{
		sched:       r.opts.Scheduler,
		names:       r.opts.Names,
		idleTimeout: r.opts.IdleTimeout,
		now:         r.opts.Now,
		log:         r.log,
		onEnd:       r.finish,
		async:       r.goAsync,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.matches[id] = m
	live := len(r.matches)
	r.mu.Unlock()

	liveMatches.Set(float64(live))
	matchesCreated.WithLabelValues(mode.String()).Inc()
	r.log.Info("match created",
		zap.Int64("match_id", id),
		zap.String("mode", mode.String()),
		zap.Any("players", players))
	return m, nil
}

// CreateDirect starts a duo match between two given players, bypassing the
// queues. Bracket matches use it.
func (r *Registry) CreateDirect(p1, p2 PlayerID) (*Match, error) {
	return r.Create(arena.Duo, []PlayerID{p1, p2})
}

func (r *Registry) Get(id int64) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[id]
	return m, ok
}

// Status reports a live match, or an inactive status for unknown ids.
func (r *Registry) Status(id int64) Status {
	m, ok := r.Get(id)
	if !ok {
		return Status{MatchID: id}
	}
	return m.Status()
}

// Abandon removes a live match without recording it.
func (r *Registry) Abandon(id int64) bool {
	m, ok := r.Get(id)
	if !ok {
		return false
	}
	return m.Abandon()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}

func (r *Registry) all() []*Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Match, 0, len(r.matches))
	for _, m := range r.matches {
		out = append(out, m)
	}
	return out
}

// Run drives the physics loop until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(arena.TickInterval)
	defer ticker.Stop()
	r.log.Info("tick loop started", zap.Duration("interval", arena.TickInterval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("tick loop stopped")
			return
		case <-ticker.C:
			r.Tick(arena.TickSeconds)
		}
	}
}

// Tick advances every rallying match once.
func (r *Registry) Tick(dt float64) {
	start := time.Now()
	for _, m := range r.all() {
		m.Tick(dt)
	}
	tickDuration.Observe(time.Since(start).Seconds())
}

// finish is called by a match, under its own lock, exactly once.
func (r *Registry) finish(res Result) {
	r.mu.Lock()
	delete(r.matches, res.MatchID)
	live := len(r.matches)
	// Copy listeners so they run without the registry lock
	// Why: listeners call back into the registry (CreateDirect, Abandon)
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	liveMatches.Set(float64(live))
	matchesEnded.WithLabelValues(res.Mode.String(), string(res.Reason)).Inc()

	// Recording and listeners run off the match lock
	// Why: finish is called with the match locked, and the tournament lock
	// must never be taken under it
	r.goAsync(func() {
		if res.Won() && res.Mode == arena.Duo && r.opts.Recorder != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.opts.Recorder.RecordResult(ctx, res); err != nil {
				r.log.Error("failed to record match result",
					zap.Int64("match_id", res.MatchID),
					zap.Error(err))
			}
		}
		for _, fn := range listeners {
			fn(res)
		}
	})
}

func (r *Registry) goAsync(fn func()) {
	r.asyncMu.Lock()
	if r.draining {
		r.asyncMu.Unlock()
		go fn()
		return
	}
	r.wg.Add(1)
	r.asyncMu.Unlock()
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// Wait blocks until background work started by ended matches completes.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Shutdown closes every connection with a going-away code and waits for
// pending result handling. Matches stay in memory; the process is about to
// exit. Results published after this point are handled untracked.
func (r *Registry) Shutdown() {
	for _, m := range r.all() {
		m.closeSinks(CloseGoingAway, "server shutting down")
	}
	r.asyncMu.Lock()
	r.draining = true
	r.asyncMu.Unlock()
	r.wg.Wait()
}

func (m *Match) closeSinks(code int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kind := range sinkKinds {
		for p, s := range m.sinks[kind] {
			s.Close(code, reason)
			delete(m.sinks[kind], p)
		}
	}
}
