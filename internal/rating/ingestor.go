package rating

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourname/game-master/internal/config"
	"github.com/yourname/game-master/internal/metrics"
	"github.com/yourname/game-master/internal/store"
	"github.com/yourname/game-master/pkg/types"
)

// Ingestor turns a completed session's outcome into rating updates, exactly
// once per match, and forwards them to the leaderboard collaborator.
type Ingestor struct {
	st      store.Store
	lb      Leaderboard
	k       float64
	retries int
	backoff time.Duration
}

func NewIngestor(cfg *config.Config, st store.Store, lb Leaderboard) *Ingestor {
	return &Ingestor{st: st, lb: lb, k: cfg.EloK, retries: cfg.IngestRetries, backoff: cfg.BackoffBase}
}

// Ingest is idempotent per matchID: a duplicate delivery is a silent no-op
// with nil updates. The processed marker is written only after the
// leaderboard accepted the updates, so a crash in between is recovered by
// redelivery; the leaderboard's own matchID idempotency covers that replay.
func (in *Ingestor) Ingest(ctx context.Context, matchID string, entries []types.QueueEntry, out types.Outcome) ([]types.RatingUpdate, error) {
	processed, err := in.st.IsProcessed(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if processed {
		log.Debug().Str("match", matchID).Msg("duplicate outcome ignored")
		return nil, nil
	}

	updates := Updates(matchID, entries, out, in.k)

	var lastErr error
	for attempt := 0; attempt < in.retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(in.backoff << (attempt - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		if lastErr = in.lb.ApplyRatingUpdates(ctx, matchID, updates); lastErr == nil {
			break
		}
		log.Warn().Err(lastErr).Str("match", matchID).Int("attempt", attempt+1).Msg("leaderboard update failed")
	}
	if lastErr != nil {
		return nil, fmt.Errorf("apply rating updates: %w", lastErr)
	}

	if _, err := in.st.MarkProcessed(ctx, matchID); err != nil {
		return nil, err
	}
	metrics.RatingUpdatesTotal.Add(float64(len(updates)))
	log.Info().Str("match", matchID).Int("updates", len(updates)).Msg("match outcome ingested")
	return updates, nil
}
