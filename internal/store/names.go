package store

import (
	"context"

	"pong-server/internal/game"
)

// Names resolves in-match display names from account usernames.
type Names struct {
	Store Store
}

func (n Names) DisplayName(ctx context.Context, id game.PlayerID) (string, error) {
	a, err := n.Store.Account(ctx, int64(id))
	if err != nil {
		return "", err
	}
	return a.Username, nil
}
