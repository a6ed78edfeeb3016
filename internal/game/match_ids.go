package game

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// PlayerID identifies an account, registered or guest.
type PlayerID int64

func (p PlayerID) String() string {
	return strconv.FormatInt(int64(p), 10)
}

// ParsePlayerID parses a decimal player id.
func ParsePlayerID(s string) (PlayerID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.New("INVALID_PLAYER_ID: player id must be a positive integer")
	}
	return PlayerID(n), nil
}

// GenerateMatchID returns a time-based id greater than last. Ids are Unix
// milliseconds, bumped forward when two matches start in the same millisecond.
func GenerateMatchID(last int64, now time.Time) int64 {
	id := now.UnixMilli()
	if id <= last {
		id = last + 1
	}
	return id
}

// ParseMatchID validates a match id taken from a query string or path.
func ParseMatchID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.New("INVALID_MATCH_ID: match id must be an integer")
	}
	if id <= 0 {
		return 0, errors.New("INVALID_MATCH_ID: match id must be positive")
	}
	return id, nil
}
