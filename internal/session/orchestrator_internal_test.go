package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourname/game-master/pkg/types"
)

func TestResultRefusedDuringFailureTeardown(t *testing.T) {
	o := &Orchestrator{reg: NewRegistry()}
	p := &types.MatchProposal{MatchID: "m1", Entries: []types.QueueEntry{{PlayerID: "a"}, {PlayerID: "b"}}}
	s := newSession(p)
	s.setState(types.SessionFailed)
	o.reg.add(s)

	err := o.HandleResult(context.Background(), "m1", types.Outcome{WinnerID: "a"})
	require.ErrorIs(t, err, ErrSessionFailed)

	// The refused outcome must not sit buffered for a reader that never comes.
	select {
	case <-s.resultCh:
		t.Fatal("refused result was buffered")
	default:
	}
}
