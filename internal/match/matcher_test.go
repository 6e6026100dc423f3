package match

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourname/game-master/internal/config"
	"github.com/yourname/game-master/internal/queue"
	"github.com/yourname/game-master/internal/store"
	"github.com/yourname/game-master/internal/ws"
	"github.com/yourname/game-master/pkg/types"
)

type starterFunc func(p *types.MatchProposal)

func (f starterFunc) Start(_ context.Context, p *types.MatchProposal) { f(p) }

func testConfig() *config.Config {
	return &config.Config{
		MatchSize:        2,
		QueueScanLimit:   64,
		InitialWindow:    100,
		WindowGrowthPerS: 10,
		MaxWindow:        500,
		MaxQueueWait:     time.Minute,
	}
}

func newTestMatcher(t *testing.T, cfg *config.Config) (*Matcher, *queue.Manager, store.Store, *[]*types.MatchProposal) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewRedisStore(mr.Addr(), "", time.Hour, time.Hour)
	t.Cleanup(func() { _ = st.Close() })
	mgr := queue.NewManager(st, ws.NewHub())
	proposals := &[]*types.MatchProposal{}
	m := NewMatcher(cfg, st, mgr, starterFunc(func(p *types.MatchProposal) {
		*proposals = append(*proposals, p)
	}))
	return m, mgr, st, proposals
}

func enqueueAt(t *testing.T, st store.Store, id string, rating float64, at time.Time) {
	t.Helper()
	created, err := st.Enqueue(context.Background(), types.QueueEntry{PlayerID: id, Rating: rating, EnqueuedAt: at})
	require.NoError(t, err)
	require.True(t, created)
}

func TestPairsWithinInitialWindow(t *testing.T) {
	m, _, st, proposals := newTestMatcher(t, testConfig())
	ctx := context.Background()

	enqueueAt(t, st, "a", 1000, time.Now())
	enqueueAt(t, st, "b", 1050, time.Now())

	m.Pass(ctx)

	require.Len(t, *proposals, 1)
	p := (*proposals)[0]
	require.Len(t, p.Entries, 2)
	assert.ElementsMatch(t, []string{"a", "b"},
		[]string{p.Entries[0].PlayerID, p.Entries[1].PlayerID})

	n, err := st.QueueLen(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestNoPairBeyondWindow(t *testing.T) {
	cfg := testConfig()
	cfg.WindowGrowthPerS = 0
	m, _, st, proposals := newTestMatcher(t, cfg)
	ctx := context.Background()

	enqueueAt(t, st, "a", 1000, time.Now())
	enqueueAt(t, st, "b", 1200, time.Now())

	m.Pass(ctx)

	assert.Empty(t, *proposals)
	n, err := st.QueueLen(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestWindowWidensWithWait(t *testing.T) {
	m, _, st, proposals := newTestMatcher(t, testConfig())
	ctx := context.Background()

	// 200 apart: outside the initial window of 100, inside the window after
	// both waited 15s (100 + 10*15 = 250).
	enqueueAt(t, st, "a", 1000, time.Now().Add(-15*time.Second))
	enqueueAt(t, st, "b", 1200, time.Now().Add(-15*time.Second))

	m.Pass(ctx)

	require.Len(t, *proposals, 1)
}

func TestFreshEntryWindowBinds(t *testing.T) {
	m, _, st, proposals := newTestMatcher(t, testConfig())
	ctx := context.Background()

	// The old entry's window is wide, but the fresh one's is still 100:
	// the narrower window decides.
	enqueueAt(t, st, "old", 1000, time.Now().Add(-30*time.Second))
	enqueueAt(t, st, "fresh", 1200, time.Now())

	m.Pass(ctx)

	assert.Empty(t, *proposals)
}

func TestOldestEntrySeedsFirst(t *testing.T) {
	m, _, st, proposals := newTestMatcher(t, testConfig())
	ctx := context.Background()

	now := time.Now()
	enqueueAt(t, st, "oldest", 1000, now.Add(-10*time.Second))
	enqueueAt(t, st, "older", 1010, now.Add(-5*time.Second))
	enqueueAt(t, st, "newest", 1020, now)

	m.Pass(ctx)

	require.Len(t, *proposals, 1)
	p := (*proposals)[0]
	assert.Equal(t, "oldest", p.Entries[0].PlayerID)
	assert.Equal(t, "older", p.Entries[1].PlayerID)
}

func TestExpiredEntryTimesOutInsteadOfMatching(t *testing.T) {
	m, _, st, proposals := newTestMatcher(t, testConfig())
	ctx := context.Background()

	// Compatible partner available, but the entry is past the max wait:
	// it must time out, never match.
	enqueueAt(t, st, "stale", 1000, time.Now().Add(-2*time.Minute))
	enqueueAt(t, st, "fresh", 1000, time.Now())

	m.Pass(ctx)

	assert.Empty(t, *proposals)

	gone, err := st.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, gone)

	o, err := st.GetOutcome(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeQueueTimeout, o)

	still, err := st.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, still)
}

func TestLeaveBeforePassPreventsMatch(t *testing.T) {
	m, mgr, st, proposals := newTestMatcher(t, testConfig())
	ctx := context.Background()

	_, err := mgr.Join(ctx, "a", 1000)
	require.NoError(t, err)
	_, err = mgr.Join(ctx, "b", 1010)
	require.NoError(t, err)

	left, err := mgr.Leave(ctx, "b")
	require.NoError(t, err)
	require.True(t, left)

	m.Pass(ctx)

	assert.Empty(t, *proposals)
	still, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.NotNil(t, still)
}

func TestWindowIsCapped(t *testing.T) {
	m, _, _, _ := newTestMatcher(t, testConfig())

	assert.Equal(t, 100.0, m.Window(0))
	assert.Equal(t, 200.0, m.Window(10*time.Second))
	assert.Equal(t, 500.0, m.Window(time.Hour))
}
