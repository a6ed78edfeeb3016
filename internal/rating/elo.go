// Package rating implements the ELO bookkeeping applied to decided duo
// matches.
package rating

import "math"

const K = 32

// Expected is the logistic probability that a player rated r beats an
// opponent rated opp.
func Expected(r, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-r)/400))
}

// Settle returns the ratings after winner beat loser. New ratings are
// floored.
func Settle(winner, loser int) (int, int) {
	ew := Expected(winner, loser)
	el := 1 - ew
	newWinner := int(math.Floor(float64(winner) + K*(1-ew)))
	newLoser := int(math.Floor(float64(loser) + K*(0-el)))
	return newWinner, newLoser
}
