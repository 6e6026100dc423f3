package rating

import (
	"math"

	"github.com/yourname/game-master/pkg/types"
)

// Expected is the classic Elo win probability of a against b.
func Expected(a, b float64) float64 {
	return 1 / (1 + math.Pow(10, (b-a)/400))
}

// Updates computes one rating adjustment per participant: k times the
// surprise of the outcome against the mean opponent rating. For two players
// the adjustment is exactly zero-sum. An empty WinnerID is a draw.
func Updates(matchID string, entries []types.QueueEntry, out types.Outcome, k float64) []types.RatingUpdate {
	updates := make([]types.RatingUpdate, 0, len(entries))
	for _, e := range entries {
		score := 0.5
		if out.WinnerID != "" {
			if e.PlayerID == out.WinnerID {
				score = 1
			} else {
				score = 0
			}
		}
		opp := meanOpponentRating(entries, e.PlayerID)
		delta := k * (score - Expected(e.Rating, opp))
		updates = append(updates, types.RatingUpdate{
			MatchID:   matchID,
			PlayerID:  e.PlayerID,
			OldRating: e.Rating,
			NewRating: e.Rating + delta,
			Score:     score,
		})
	}
	return updates
}

func meanOpponentRating(entries []types.QueueEntry, playerID string) float64 {
	var sum float64
	var n int
	for _, e := range entries {
		if e.PlayerID == playerID {
			continue
		}
		sum += e.Rating
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
