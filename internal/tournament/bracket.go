package tournament

import (
	"sort"

	"pong-server/internal/store"
)

type slotKey struct {
	round store.Round
	slot  int
}

// Dedupe collapses rows sharing a (round, slot). The survivor is the row
// with a decided winner, else the lowest id; among several decided rows the
// lowest id wins. It returns survivors in id order and the ids to delete.
// Running it on its own output removes nothing.
func Dedupe(rows []store.BracketMatch) (kept []store.BracketMatch, losers []int64) {
	best := make(map[slotKey]store.BracketMatch, len(rows))
	for _, r := range rows {
		k := slotKey{r.Round, r.Slot}
		cur, ok := best[k]
		if !ok {
			best[k] = r
			continue
		}
		if prefer(r, cur) {
			losers = append(losers, cur.ID)
			best[k] = r
		} else {
			losers = append(losers, r.ID)
		}
	}
	kept = make([]store.BracketMatch, 0, len(best))
	for _, r := range best {
		kept = append(kept, r)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })
	sort.Slice(losers, func(i, j int) bool { return losers[i] < losers[j] })
	return kept, losers
}

// prefer reports whether a should survive over b.
func prefer(a, b store.BracketMatch) bool {
	ad, bd := a.Winner != nil, b.Winner != nil
	if ad != bd {
		return ad
	}
	return a.ID < b.ID
}

func indexRows(rows []store.BracketMatch) map[slotKey]*store.BracketMatch {
	idx := make(map[slotKey]*store.BracketMatch, len(rows))
	for i := range rows {
		r := &rows[i]
		idx[slotKey{r.Round, r.Slot}] = r
	}
	return idx
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func idPtr(v int64) *int64 { return &v }

// feeders lists which two rows of the previous round produce each slot.
var feeders = map[store.Round]struct {
	from  store.Round
	slots int
}{
	store.RoundSemi:  {from: store.RoundQuarter, slots: 2},
	store.RoundFinal: {from: store.RoundSemi, slots: 1},
}

// BracketEntry is a bracket row with seat nicknames resolved.
type BracketEntry struct {
	store.BracketMatch
	Player1Name string `json:"player1Name,omitempty"`
	Player2Name string `json:"player2Name,omitempty"`
	WinnerName  string `json:"winnerName,omitempty"`
}

// BracketView groups a tournament's bracket by round.
type BracketView struct {
	TournamentID int64                  `json:"tournamentId"`
	Status       store.TournamentStatus `json:"status"`
	Quarter      []BracketEntry         `json:"quarter"`
	Semi         []BracketEntry         `json:"semi"`
	Final        []BracketEntry         `json:"final"`
}

func buildView(t store.Tournament, rows []store.BracketMatch, seats []store.Seat) BracketView {
	names := make(map[int64]string, len(seats))
	for _, s := range seats {
		names[s.ID] = s.Nickname
	}
	name := func(id *int64) string {
		if id == nil {
			return ""
		}
		return names[*id]
	}

	v := BracketView{
		TournamentID: t.ID,
		Status:       t.Status,
		Quarter:      []BracketEntry{},
		Semi:         []BracketEntry{},
		Final:        []BracketEntry{},
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Slot < rows[j].Slot })
	for _, r := range rows {
		e := BracketEntry{
			BracketMatch: r,
			Player1Name:  name(r.Player1),
			Player2Name:  name(r.Player2),
			WinnerName:   name(r.Winner),
		}
		switch r.Round {
		case store.RoundQuarter:
			v.Quarter = append(v.Quarter, e)
		case store.RoundSemi:
			v.Semi = append(v.Semi, e)
		case store.RoundFinal:
			v.Final = append(v.Final, e)
		}
	}
	return v
}
