package status

import (
	"context"
	"time"

	"github.com/yourname/game-master/internal/queue"
	"github.com/yourname/game-master/internal/session"
	"github.com/yourname/game-master/internal/store"
	"github.com/yourname/game-master/pkg/types"
)

// Reporter is the read-only projection of a player's matchmaking state.
// Precedence: active session, then live proposal, then queue entry, then a
// recent terminal outcome, else not_queued. It never mutates anything.
type Reporter struct {
	st  store.Store
	mgr *queue.Manager
	reg *session.Registry
}

func NewReporter(st store.Store, mgr *queue.Manager, reg *session.Registry) *Reporter {
	return &Reporter{st: st, mgr: mgr, reg: reg}
}

func (r *Reporter) PlayerStatus(ctx context.Context, playerID string) (types.PlayerStatus, error) {
	if matchID, state, endpoint, ok := r.reg.StatusFor(playerID); ok {
		return types.PlayerStatus{
			State:        types.StateInSession,
			MatchID:      matchID,
			SessionState: state,
			Endpoint:     endpoint,
		}, nil
	}
	if matchID, ok := r.mgr.ProposalFor(playerID); ok {
		return types.PlayerStatus{State: types.StateMatched, MatchID: matchID}, nil
	}
	e, err := r.st.Get(ctx, playerID)
	if err != nil {
		return types.PlayerStatus{}, err
	}
	if e != nil {
		return types.PlayerStatus{
			State:  types.StateQueued,
			WaitMs: e.Wait(time.Now()).Milliseconds(),
		}, nil
	}
	o, err := r.st.GetOutcome(ctx, playerID)
	if err != nil {
		return types.PlayerStatus{}, err
	}
	if o != "" {
		return types.PlayerStatus{State: types.StateFailed, Outcome: string(o)}, nil
	}
	return types.PlayerStatus{State: types.StateNotQueued}, nil
}
