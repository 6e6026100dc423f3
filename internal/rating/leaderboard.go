package rating

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourname/game-master/pkg/types"
)

// Leaderboard is the rating-storage collaborator. It must be idempotent by
// matchID on its side as well.
type Leaderboard interface {
	ApplyRatingUpdates(ctx context.Context, matchID string, updates []types.RatingUpdate) error
}

// HTTPLeaderboard posts updates to the leaderboard service.
type HTTPLeaderboard struct {
	baseURL string
	client  *http.Client
}

func NewHTTPLeaderboard(baseURL string) *HTTPLeaderboard {
	return &HTTPLeaderboard{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (l *HTTPLeaderboard) ApplyRatingUpdates(ctx context.Context, matchID string, updates []types.RatingUpdate) error {
	body, _ := json.Marshal(map[string]any{"match_id": matchID, "updates": updates})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/ratings", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("leaderboard: status %d", resp.StatusCode)
	}
	return nil
}

// LogLeaderboard just logs updates; used when no leaderboard URL is
// configured (dev mode).
type LogLeaderboard struct{}

func (LogLeaderboard) ApplyRatingUpdates(_ context.Context, matchID string, updates []types.RatingUpdate) error {
	for _, u := range updates {
		log.Info().Str("match", matchID).Str("player", u.PlayerID).
			Float64("old", u.OldRating).Float64("new", u.NewRating).Msg("rating update")
	}
	return nil
}
