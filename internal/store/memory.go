package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory keeps everything in process memory. It is used when no database
// is configured and by tests.
type Memory struct {
	mu sync.Mutex

	nextID      int64
	accounts    map[int64]Account
	usernames   map[string]int64
	stats       map[int64]Stats
	history     []HistoryEntry
	tournaments map[int64]Tournament
	seats       map[int64][]Seat
	bracket     map[int64]BracketMatch
}

func NewMemory() *Memory {
	return &Memory{
		accounts:    make(map[int64]Account),
		usernames:   make(map[string]int64),
		stats:       make(map[int64]Stats),
		tournaments: make(map[int64]Tournament),
		seats:       make(map[int64][]Seat),
		bracket:     make(map[int64]BracketMatch),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) CreateAccount(_ context.Context, username, avatar string, guest bool) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(username)
	if _, ok := m.usernames[key]; ok {
		return Account{}, ErrUsernameTaken
	}
	a := Account{ID: m.id(), Username: username, Avatar: avatar, Guest: guest, CreatedAt: time.Now().UTC()}
	m.accounts[a.ID] = a
	m.usernames[key] = a.ID
	return a, nil
}

func (m *Memory) Account(_ context.Context, id int64) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) statsLocked(id int64) Stats {
	s, ok := m.stats[id]
	if !ok {
		s = DefaultStats(id)
	}
	s.Username = m.accounts[id].Username
	return s
}

func (m *Memory) Stats(_ context.Context, accountID int64) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked(accountID), nil
}

func (m *Memory) Leaderboard(_ context.Context, limit int) ([]Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Stats, 0, len(m.stats))
	for id := range m.stats {
		out = append(out, m.statsLocked(id))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Elo == out[j].Elo {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].Elo > out[j].Elo
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) History(_ context.Context, accountID int64, limit int) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].AccountID == accountID {
			out = append(out, m.history[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) RecordDuel(_ context.Context, d Duel, settle SettleFunc) (Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, l := m.statsLocked(d.WinnerID), m.statsLocked(d.LoserID)
	newW, newL := settle(w.Elo, l.Elo)

	played := d.PlayedAt
	if played.IsZero() {
		played = time.Now().UTC()
	}
	win := HistoryEntry{
		ID: m.id(), AccountID: d.WinnerID, OpponentID: d.LoserID, Result: OutcomeWin,
		Score: d.WinnerScore, OpponentScore: d.LoserScore,
		EloBefore: w.Elo, EloAfter: newW, MatchID: d.MatchID, PlayedAt: played,
	}
	loss := HistoryEntry{
		ID: m.id(), AccountID: d.LoserID, OpponentID: d.WinnerID, Result: OutcomeLoss,
		Score: d.LoserScore, OpponentScore: d.WinnerScore,
		EloBefore: l.Elo, EloAfter: newL, MatchID: d.MatchID, PlayedAt: played,
	}
	m.history = append(m.history, win, loss)

	w.Elo, w.MatchesPlayed, w.Wins = newW, w.MatchesPlayed+1, w.Wins+1
	w.Winrate = Winrate(w.Wins, w.MatchesPlayed)
	l.Elo, l.MatchesPlayed = newL, l.MatchesPlayed+1
	l.Winrate = Winrate(l.Wins, l.MatchesPlayed)
	m.stats[d.WinnerID] = w
	m.stats[d.LoserID] = l

	return Settlement{Winner: win, Loser: loss}, nil
}

func (m *Memory) CreateTournament(_ context.Context, t Tournament) (Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.id()
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.tournaments[t.ID] = t
	return t, nil
}

func (m *Memory) Tournament(_ context.Context, id int64) (Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[id]
	if !ok {
		return Tournament{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) ListTournaments(_ context.Context) ([]Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Tournament, 0, len(m.tournaments))
	for _, t := range m.tournaments {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Memory) SetTournamentStatus(_ context.Context, id int64, status TournamentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	m.tournaments[id] = t
	return nil
}

func (m *Memory) FinishTournament(_ context.Context, id int64, winnerName, winnerAvatar string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[id]
	if !ok {
		return false, ErrNotFound
	}
	if t.Status == StatusFinished {
		return false, nil
	}
	t.Status = StatusFinished
	t.WinnerName = winnerName
	t.WinnerAvatar = winnerAvatar
	t.FinishedAt = &at
	m.tournaments[id] = t
	return true, nil
}

func (m *Memory) SaveReceipt(_ context.Context, id int64, r Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[id]
	if !ok {
		return ErrNotFound
	}
	t.Receipt = &r
	m.tournaments[id] = t
	return nil
}

func (m *Memory) DeleteTournament(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tournaments[id]; !ok {
		return ErrNotFound
	}
	delete(m.tournaments, id)
	delete(m.seats, id)
	for bmID, bm := range m.bracket {
		if bm.TournamentID == id {
			delete(m.bracket, bmID)
		}
	}
	return nil
}

func (m *Memory) AddSeat(_ context.Context, s Seat) (Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tournaments[s.TournamentID]; !ok {
		return Seat{}, ErrNotFound
	}
	for _, existing := range m.seats[s.TournamentID] {
		if existing.AccountID == s.AccountID {
			return Seat{}, ErrAlreadyJoined
		}
	}
	s.ID = m.id()
	if s.JoinedAt.IsZero() {
		s.JoinedAt = time.Now().UTC()
	}
	m.seats[s.TournamentID] = append(m.seats[s.TournamentID], s)
	return s, nil
}

func (m *Memory) Seats(_ context.Context, tournamentID int64) ([]Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Seat(nil), m.seats[tournamentID]...), nil
}

func (m *Memory) RemoveSeat(_ context.Context, tournamentID, accountID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seats := m.seats[tournamentID]
	for i, s := range seats {
		if s.AccountID == accountID {
			m.seats[tournamentID] = append(seats[:i:i], seats[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) InsertBracketMatch(_ context.Context, bm BracketMatch) (BracketMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bm.ID = m.id()
	m.bracket[bm.ID] = cloneBracketMatch(bm)
	return bm, nil
}

func (m *Memory) BracketMatch(_ context.Context, id int64) (BracketMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bm, ok := m.bracket[id]
	if !ok {
		return BracketMatch{}, ErrNotFound
	}
	return cloneBracketMatch(bm), nil
}

func (m *Memory) BracketMatches(_ context.Context, tournamentID int64) ([]BracketMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BracketMatch
	for _, bm := range m.bracket {
		if bm.TournamentID == tournamentID {
			out = append(out, cloneBracketMatch(bm))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateBracketMatch(_ context.Context, bm BracketMatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bracket[bm.ID]; !ok {
		return ErrNotFound
	}
	m.bracket[bm.ID] = cloneBracketMatch(bm)
	return nil
}

func (m *Memory) DeleteBracketMatches(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.bracket, id)
	}
	return nil
}

func (m *Memory) Close() {}

func cloneBracketMatch(bm BracketMatch) BracketMatch {
	bm.Player1 = cloneID(bm.Player1)
	bm.Player2 = cloneID(bm.Player2)
	bm.Winner = cloneID(bm.Winner)
	bm.LiveMatchID = cloneID(bm.LiveMatchID)
	return bm
}

func cloneID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
