package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	pie "github.com/elliotchance/pie/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yourname/game-master/internal/metrics"
	"github.com/yourname/game-master/internal/store"
	"github.com/yourname/game-master/internal/ws"
	"github.com/yourname/game-master/pkg/types"
)

var (
	ErrAlreadyQueued    = errors.New("player already queued")
	ErrAlreadyInSession = errors.New("player already in a session")
	// ErrInSession rejects a leave once the orchestrator owns the player.
	ErrInSession = errors.New("player is in an active session")
)

// SessionLookup answers whether a player is owned by the session orchestrator.
type SessionLookup interface {
	SessionFor(playerID string) (matchID string, state types.SessionState, ok bool)
}

// Manager serializes every queue-membership mutation. Holding mu across entry
// removal-for-matching is what makes "leave before proposal" always win over a
// concurrent matcher pass.
type Manager struct {
	mu             sync.Mutex
	st             store.Store
	hub            *ws.Hub
	sessions       SessionLookup
	proposals      map[string]*types.MatchProposal
	playerProposal map[string]string
}

func NewManager(st store.Store, hub *ws.Hub) *Manager {
	return &Manager{
		st:             st,
		hub:            hub,
		proposals:      map[string]*types.MatchProposal{},
		playerProposal: map[string]string{},
	}
}

// SetSessionLookup wires the orchestrator's registry in after construction.
func (m *Manager) SetSessionLookup(l SessionLookup) { m.sessions = l }

// Join creates a queue entry for the player. If one already exists the
// existing entry is returned with ErrAlreadyQueued; the entry itself is left
// untouched so client retransmissions are harmless.
func (m *Manager) Join(ctx context.Context, playerID string, rating float64) (types.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight(playerID) {
		return types.QueueEntry{}, ErrAlreadyInSession
	}

	e := types.QueueEntry{PlayerID: playerID, Rating: rating, EnqueuedAt: time.Now()}
	created, err := m.st.Enqueue(ctx, e)
	if err != nil {
		return types.QueueEntry{}, err
	}
	if !created {
		existing, err := m.st.Get(ctx, playerID)
		if err != nil {
			return types.QueueEntry{}, err
		}
		if existing == nil {
			// Entry vanished between ZADD and lookup; treat as fresh join.
			return e, nil
		}
		return *existing, ErrAlreadyQueued
	}
	m.updateQueueGauge(ctx)
	log.Info().Str("player", playerID).Float64("rating", rating).Msg("player joined queue")
	return e, nil
}

// Requeue puts a participant of a failed session back in the queue with a
// fresh enqueue time and its attempt counter carried over.
func (m *Manager) Requeue(ctx context.Context, e types.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.EnqueuedAt = time.Now()
	if _, err := m.st.Enqueue(ctx, e); err != nil {
		return err
	}
	m.updateQueueGauge(ctx)
	log.Info().Str("player", e.PlayerID).Int("attempts", e.Attempts).Msg("player re-enqueued")
	return nil
}

// Leave removes the player's queue entry. A leave while the player sits in a
// pending proposal cancels the whole proposal and returns the remaining
// participants to the queue with their original enqueue times. A leave during
// an active session is refused with ErrInSession.
func (m *Manager) Leave(ctx context.Context, playerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions != nil {
		if _, _, ok := m.sessions.SessionFor(playerID); ok {
			return false, ErrInSession
		}
	}

	if matchID, ok := m.playerProposal[playerID]; ok {
		p := m.proposals[matchID]
		m.dropProposalLocked(p)
		for _, e := range p.Entries {
			if e.PlayerID == playerID {
				continue
			}
			if _, err := m.st.Enqueue(ctx, e); err != nil {
				return false, err
			}
		}
		m.updateQueueGauge(ctx)
		log.Info().Str("player", playerID).Str("match", matchID).Msg("leave cancelled pending proposal")
		return true, nil
	}

	removed, err := m.st.Remove(ctx, playerID)
	if err != nil {
		return false, err
	}
	if removed {
		m.updateQueueGauge(ctx)
		log.Info().Str("player", playerID).Msg("player left queue")
	}
	return removed, nil
}

// CommitProposal atomically claims the entries of a full group and registers a
// live proposal for them. Returns store.ErrEntryGone when a concurrent leave
// already took one of the members.
func (m *Manager) CommitProposal(ctx context.Context, entries []types.QueueEntry) (*types.MatchProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if _, ok := m.playerProposal[e.PlayerID]; ok {
			return nil, store.ErrEntryGone
		}
	}
	if err := m.st.CommitMatch(ctx, entries); err != nil {
		return nil, err
	}

	p := &types.MatchProposal{
		MatchID:   uuid.NewString(),
		Entries:   entries,
		CreatedAt: time.Now(),
	}
	m.proposals[p.MatchID] = p
	for _, e := range entries {
		m.playerProposal[e.PlayerID] = p.MatchID
	}

	players := pie.Map(entries, func(e types.QueueEntry) string { return e.PlayerID })
	m.hub.Broadcast(types.Event{Type: types.EventMatchFound, Players: players, Payload: p.MatchID})
	metrics.MatchesTotal.Inc()
	m.updateQueueGauge(ctx)
	log.Info().Str("match", p.MatchID).Strs("players", players).Msg("match proposal formed")
	return p, nil
}

// AcceptProposal hands a proposal over to the orchestrator. Returns false if
// the proposal was cancelled in the meantime. The handoff callback runs under
// the manager mutex, before the proposal index is released, so it must
// register the participants elsewhere (the session registry) without calling
// back into the manager; that keeps every participant in exactly one of
// {queue, proposal, session} at any observed instant.
func (m *Manager) AcceptProposal(matchID string, handoff func(*types.MatchProposal)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[matchID]
	if !ok {
		return false
	}
	handoff(p)
	m.dropProposalLocked(p)
	return true
}

// ProposalFor reports the live proposal a player belongs to, if any.
func (m *Manager) ProposalFor(playerID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matchID, ok := m.playerProposal[playerID]
	return matchID, ok
}

// Expire removes an entry that waited past the configured maximum and records
// a queue_timeout outcome for its owner.
func (m *Manager) Expire(ctx context.Context, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed, err := m.st.Remove(ctx, playerID)
	if err != nil || !removed {
		return err
	}
	if err := m.st.SetOutcome(ctx, playerID, types.OutcomeQueueTimeout); err != nil {
		return err
	}
	m.hub.Broadcast(types.Event{Type: types.EventQueueTimeout, Players: []string{playerID}})
	metrics.QueueTimeouts.Inc()
	m.updateQueueGauge(ctx)
	log.Info().Str("player", playerID).Msg("queue entry timed out")
	return nil
}

func (m *Manager) inFlight(playerID string) bool {
	if _, ok := m.playerProposal[playerID]; ok {
		return true
	}
	if m.sessions != nil {
		if _, _, ok := m.sessions.SessionFor(playerID); ok {
			return true
		}
	}
	return false
}

func (m *Manager) dropProposalLocked(p *types.MatchProposal) {
	delete(m.proposals, p.MatchID)
	for _, e := range p.Entries {
		delete(m.playerProposal, e.PlayerID)
	}
}

func (m *Manager) updateQueueGauge(ctx context.Context) {
	if n, err := m.st.QueueLen(ctx); err == nil {
		metrics.QueueSize.Set(float64(n))
	}
}
