package match

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourname/game-master/internal/config"
	"github.com/yourname/game-master/internal/queue"
	"github.com/yourname/game-master/internal/store"
	"github.com/yourname/game-master/pkg/types"
)

// SessionStarter accepts a committed proposal and drives it to a session.
type SessionStarter interface {
	Start(ctx context.Context, p *types.MatchProposal)
}

// Matcher pairs waiting players greedily in enqueue order: the oldest
// unmatched entry seeds a group and the earliest-queued compatible candidates
// fill it. Greedy-oldest-first trades match quality for bounded latency; the
// per-player rating window widens with wait time so nobody waits forever
// behind a narrow band.
type Matcher struct {
	cfg     *config.Config
	st      store.Store
	mgr     *queue.Manager
	starter SessionStarter

	lastVersion  int64
	lastQueueLen int
}

func NewMatcher(cfg *config.Config, st store.Store, mgr *queue.Manager, starter SessionStarter) *Matcher {
	return &Matcher{cfg: cfg, st: st, mgr: mgr, starter: starter}
}

func (m *Matcher) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Pass(ctx)
		}
	}
}

// Pass runs one matching sweep. Skipped only when the queue was empty last
// time and nothing has mutated since: a non-empty queue must be re-scanned
// every tick because windows keep growing even without churn.
func (m *Matcher) Pass(ctx context.Context) {
	ver, err := m.st.Version(ctx)
	if err != nil {
		log.Error().Err(err).Msg("matcher: read queue version")
		return
	}
	if ver == m.lastVersion && m.lastQueueLen == 0 {
		return
	}

	entries, err := m.st.Peek(ctx, m.cfg.QueueScanLimit)
	if err != nil {
		log.Error().Err(err).Msg("matcher: peek queue")
		return
	}
	m.lastVersion = ver
	m.lastQueueLen = len(entries)

	now := time.Now()
	live := entries[:0]
	for _, e := range entries {
		if e.Wait(now) > m.cfg.MaxQueueWait {
			if err := m.mgr.Expire(ctx, e.PlayerID); err != nil {
				log.Error().Err(err).Str("player", e.PlayerID).Msg("matcher: expire entry")
			}
			continue
		}
		live = append(live, e)
	}

	used := map[string]bool{}
	for i := range live {
		if used[live[i].PlayerID] {
			continue
		}
		group := []types.QueueEntry{live[i]}
		for j := i + 1; j < len(live) && len(group) < m.cfg.MatchSize; j++ {
			if used[live[j].PlayerID] {
				continue
			}
			if m.compatible(group, live[j], now) {
				group = append(group, live[j])
			}
		}
		if len(group) < m.cfg.MatchSize {
			continue
		}

		p, err := m.mgr.CommitProposal(ctx, group)
		if errors.Is(err, store.ErrEntryGone) {
			continue // a leave won the race, retry next pass
		}
		if err != nil {
			log.Error().Err(err).Msg("matcher: commit proposal")
			continue
		}
		for _, e := range group {
			used[e.PlayerID] = true
		}
		m.starter.Start(ctx, p)
	}
}

// compatible reports whether cand may join the group: every pairwise rating
// gap must fit within the narrower of the two members' windows, so a fresh
// entry's tight tolerance binds.
func (m *Matcher) compatible(group []types.QueueEntry, cand types.QueueEntry, now time.Time) bool {
	for _, e := range group {
		allowed := math.Min(m.Window(e.Wait(now)), m.Window(cand.Wait(now)))
		if math.Abs(e.Rating-cand.Rating) > allowed {
			return false
		}
	}
	return true
}

// Window is the maximum allowed rating gap for an entry that has waited d.
func (m *Matcher) Window(d time.Duration) float64 {
	w := m.cfg.InitialWindow + m.cfg.WindowGrowthPerS*d.Seconds()
	return math.Min(w, m.cfg.MaxWindow)
}
