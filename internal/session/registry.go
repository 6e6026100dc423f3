package session

import (
	"sync"
	"time"

	pie "github.com/elliotchance/pie/v2"

	"github.com/yourname/game-master/pkg/types"
)

// Session is a provisioned (or provisioning) game instance for one match.
// Its state is mutated only by the supervising goroutine; everyone else reads
// snapshots through the registry.
type Session struct {
	MatchID   string
	Entries   []types.QueueEntry
	Players   []string
	CreatedAt time.Time

	mu        sync.Mutex
	state     types.SessionState
	handle    string
	endpoint  string
	connected map[string]bool

	connectCh chan string
	resultCh  chan types.Outcome
}

func newSession(p *types.MatchProposal) *Session {
	players := pie.Map(p.Entries, func(e types.QueueEntry) string { return e.PlayerID })
	return &Session{
		MatchID:   p.MatchID,
		Entries:   p.Entries,
		Players:   players,
		CreatedAt: time.Now(),
		state:     types.SessionPending,
		connected: map[string]bool{},
		connectCh: make(chan string, len(players)),
		resultCh:  make(chan types.Outcome, 1),
	}
}

func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st types.SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

func (s *Session) setWorkload(handle, endpoint string) {
	s.mu.Lock()
	s.handle = handle
	if endpoint != "" {
		s.endpoint = endpoint
	}
	s.mu.Unlock()
}

func (s *Session) workloadHandle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Session) isParticipant(playerID string) bool {
	return pie.Contains(s.Players, playerID)
}

// Registry indexes live sessions by match and by participant. It backs both
// the status read path and the queue manager's membership checks.
type Registry struct {
	mu       sync.RWMutex
	byMatch  map[string]*Session
	byPlayer map[string]string
}

func NewRegistry() *Registry {
	return &Registry{byMatch: map[string]*Session{}, byPlayer: map[string]string{}}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byMatch[s.MatchID] = s
	for _, p := range s.Players {
		r.byPlayer[p] = s.MatchID
	}
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byMatch[s.MatchID] != s {
		return
	}
	delete(r.byMatch, s.MatchID)
	for _, p := range s.Players {
		delete(r.byPlayer, p)
	}
}

func (r *Registry) Get(matchID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byMatch[matchID]
	return s, ok
}

// SessionFor satisfies queue.SessionLookup.
func (r *Registry) SessionFor(playerID string) (string, types.SessionState, bool) {
	r.mu.RLock()
	matchID, ok := r.byPlayer[playerID]
	s := r.byMatch[matchID]
	r.mu.RUnlock()
	if !ok || s == nil {
		return "", "", false
	}
	return matchID, s.State(), true
}

// StatusFor returns the player's session view for the status endpoint.
func (r *Registry) StatusFor(playerID string) (matchID string, state types.SessionState, endpoint string, ok bool) {
	r.mu.RLock()
	matchID, ok = r.byPlayer[playerID]
	s := r.byMatch[matchID]
	r.mu.RUnlock()
	if !ok || s == nil {
		return "", "", "", false
	}
	return matchID, s.State(), s.Endpoint(), true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byMatch)
}
