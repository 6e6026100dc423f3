package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourname/game-master/internal/config"
	"github.com/yourname/game-master/internal/metrics"
	"github.com/yourname/game-master/internal/queue"
	"github.com/yourname/game-master/internal/rating"
	"github.com/yourname/game-master/internal/store"
	"github.com/yourname/game-master/internal/ws"
	"github.com/yourname/game-master/pkg/types"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrNotParticipant = errors.New("player is not a session participant")
	// ErrSessionFailed refuses a result arriving while the session is being
	// torn down as failed; the outcome will not be ingested.
	ErrSessionFailed = errors.New("session failed before a result was accepted")
)

// Failure reasons, exported on the status endpoint and as metric labels.
const (
	ReasonProvisioningFailed  = "provisioning_failed"
	ReasonHealthCheckTimeout  = "health_check_timeout"
	ReasonConnectGraceExpired = "connect_grace_expired"
)

// Orchestrator owns every GameSession from proposal acceptance to teardown.
// One supervising goroutine drives each session through its state machine;
// no other component mutates session state.
type Orchestrator struct {
	cfg  *config.Config
	prov Provisioner
	reg  *Registry
	mgr  *queue.Manager
	ing  *rating.Ingestor
	st   store.Store
	hub  *ws.Hub
}

func NewOrchestrator(cfg *config.Config, prov Provisioner, mgr *queue.Manager, ing *rating.Ingestor, st store.Store, hub *ws.Hub) *Orchestrator {
	return &Orchestrator{
		cfg:  cfg,
		prov: prov,
		reg:  NewRegistry(),
		mgr:  mgr,
		ing:  ing,
		st:   st,
		hub:  hub,
	}
}

func (o *Orchestrator) Registry() *Registry { return o.reg }

// Start accepts a proposal and spawns its supervisor. A proposal cancelled by
// a leave between commit and acceptance is dropped silently; the manager has
// already returned the other participants to the queue. The session is
// registered inside the acceptance handoff, under the manager mutex, so a
// concurrent join can never find the participants unclaimed.
func (o *Orchestrator) Start(ctx context.Context, p *types.MatchProposal) {
	var s *Session
	ok := o.mgr.AcceptProposal(p.MatchID, func(accepted *types.MatchProposal) {
		s = newSession(accepted)
		o.reg.add(s)
	})
	if !ok {
		log.Info().Str("match", p.MatchID).Msg("proposal cancelled before acceptance")
		return
	}
	metrics.ActiveSessions.Inc()
	o.transition(s, types.SessionPending)
	go o.supervise(ctx, s)
}

// HandleConnected records a participant connecting to its workload.
func (o *Orchestrator) HandleConnected(matchID, playerID string) error {
	s, ok := o.reg.Get(matchID)
	if !ok {
		return ErrUnknownSession
	}
	if !s.isParticipant(playerID) {
		return ErrNotParticipant
	}
	select {
	case s.connectCh <- playerID:
	default:
	}
	return nil
}

// HandleResult delivers a workload's final outcome. Re-delivery after the
// session is gone is answered as success when the match was already ingested,
// so duplicate callbacks never double-apply ratings; if the session tore down
// with its leaderboard hand-off still owed, the redelivery finishes it from
// the parked record.
func (o *Orchestrator) HandleResult(ctx context.Context, matchID string, out types.Outcome) error {
	s, ok := o.reg.Get(matchID)
	if !ok {
		return o.resolveParked(ctx, matchID)
	}
	switch s.State() {
	case types.SessionCompleted, types.SessionTerminated:
		return nil
	case types.SessionFailed:
		return ErrSessionFailed
	}
	select {
	case s.resultCh <- out:
	default: // a result is already pending, duplicate dropped
	}
	return nil
}

// resolveParked handles a result callback for a session that no longer
// exists: already-ingested matches are acknowledged, matches whose hand-off
// failed at completion are re-ingested from the parked record.
func (o *Orchestrator) resolveParked(ctx context.Context, matchID string) error {
	processed, err := o.st.IsProcessed(ctx, matchID)
	if err != nil {
		return err
	}
	if processed {
		return nil
	}
	parked, err := o.st.GetPendingResult(ctx, matchID)
	if err != nil {
		return err
	}
	if parked == nil {
		return ErrUnknownSession
	}
	updates, err := o.ing.Ingest(ctx, matchID, parked.Entries, parked.Outcome)
	if err != nil {
		return fmt.Errorf("re-ingest parked outcome: %w", err)
	}
	if err := o.st.ClearPendingResult(ctx, matchID); err != nil {
		log.Warn().Err(err).Str("match", matchID).Msg("clear parked outcome")
	}
	for _, u := range updates {
		o.hub.Broadcast(types.Event{Type: types.EventRatingUpdate, Players: []string{u.PlayerID}, Payload: u})
	}
	log.Info().Str("match", matchID).Msg("parked outcome ingested on redelivery")
	return nil
}

func (o *Orchestrator) supervise(ctx context.Context, s *Session) {
	defer func() {
		o.reg.remove(s)
		metrics.ActiveSessions.Dec()
	}()

	start := time.Now()
	o.transition(s, types.SessionProvisioning)
	handle, err := o.provision(ctx, s)
	if err != nil {
		log.Error().Err(err).Str("match", s.MatchID).Msg("provisioning failed")
		o.fail(ctx, s, ReasonProvisioningFailed)
		return
	}
	s.setWorkload(handle, "")

	endpoint, err := o.awaitHealthy(ctx, s)
	if err != nil {
		log.Error().Err(err).Str("match", s.MatchID).Msg("workload never became healthy")
		o.fail(ctx, s, ReasonHealthCheckTimeout)
		return
	}
	s.setWorkload(handle, endpoint)
	metrics.ProvisionDuration.Observe(time.Since(start).Seconds())
	o.transition(s, types.SessionReady)
	o.hub.Broadcast(types.Event{
		Type:    types.EventSessionReady,
		Players: s.Players,
		Payload: map[string]string{"match_id": s.MatchID, "endpoint": endpoint},
	})

	if !o.awaitConnections(ctx, s) {
		log.Warn().Str("match", s.MatchID).Msg("no participant connected within grace period")
		o.fail(ctx, s, ReasonConnectGraceExpired)
		return
	}
	o.transition(s, types.SessionActive)

	out, err := o.awaitResult(ctx, s)
	if err != nil {
		log.Error().Err(err).Str("match", s.MatchID).Msg("session lost before completion")
		o.fail(ctx, s, ReasonHealthCheckTimeout)
		return
	}
	o.transition(s, types.SessionCompleted)
	o.complete(ctx, s, out)
}

func (o *Orchestrator) provision(ctx context.Context, s *Session) (string, error) {
	var lastErr error
	for attempt := 0; attempt < o.cfg.ProvisionRetries; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, backoff(o.cfg.BackoffBase, attempt-1)) {
				return "", ctx.Err()
			}
		}
		cctx, cancel := context.WithTimeout(ctx, o.cfg.ProvisionTimeout)
		handle, err := o.prov.CreateWorkload(cctx, s.MatchID, s.Players)
		cancel()
		if err == nil {
			return handle, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("match", s.MatchID).Int("attempt", attempt+1).Msg("create workload failed")
	}
	return "", fmt.Errorf("provisioning exhausted after %d attempts: %w", o.cfg.ProvisionRetries, lastErr)
}

func (o *Orchestrator) awaitHealthy(ctx context.Context, s *Session) (string, error) {
	deadline := time.Now().Add(o.cfg.HealthTimeout)
	ticker := time.NewTicker(o.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		st, err := o.prov.GetWorkloadStatus(ctx, s.workloadHandle())
		if err == nil && st.Healthy {
			return st.Endpoint, nil
		}
		if err != nil {
			log.Debug().Err(err).Str("match", s.MatchID).Msg("workload status check failed")
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("workload not healthy within %s", o.cfg.HealthTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// awaitConnections waits the connect grace period. The session goes Active
// once every participant connected, or when the grace elapses with at least
// one connection; zero connections mean the workload would sit unused.
func (o *Orchestrator) awaitConnections(ctx context.Context, s *Session) bool {
	timer := time.NewTimer(o.cfg.ConnectGrace)
	defer timer.Stop()
	for {
		select {
		case playerID := <-s.connectCh:
			s.mu.Lock()
			s.connected[playerID] = true
			n := len(s.connected)
			s.mu.Unlock()
			log.Info().Str("match", s.MatchID).Str("player", playerID).Msg("participant connected")
			if n == len(s.Players) {
				return true
			}
		case <-timer.C:
			s.mu.Lock()
			n := len(s.connected)
			s.mu.Unlock()
			return n > 0
		case <-ctx.Done():
			return false
		}
	}
}

func (o *Orchestrator) awaitResult(ctx context.Context, s *Session) (types.Outcome, error) {
	ticker := time.NewTicker(o.cfg.HealthInterval)
	defer ticker.Stop()
	lastHealthy := time.Now()
	for {
		select {
		case out := <-s.resultCh:
			return out, nil
		case <-ticker.C:
			st, err := o.prov.GetWorkloadStatus(ctx, s.workloadHandle())
			if err == nil && st.Healthy {
				lastHealthy = time.Now()
				continue
			}
			if time.Since(lastHealthy) > o.cfg.HealthTimeout {
				return types.Outcome{}, fmt.Errorf("workload unhealthy for %s", o.cfg.HealthTimeout)
			}
		case <-ctx.Done():
			return types.Outcome{}, ctx.Err()
		}
	}
}

// fail converts a session-level failure into re-enqueueing: participants go
// back to the queue with a fresh enqueue time, except those at their retry
// cap, who get a terminal matchmaking_failed outcome instead. Re-enqueueing
// happens before the workload is released; deprovisioning can retry for a
// while and the players' wait clock must not pay for it.
func (o *Orchestrator) fail(ctx context.Context, s *Session, reason string) {
	o.transition(s, types.SessionFailed)
	metrics.SessionFailures.WithLabelValues(reason).Inc()
	o.reg.remove(s)

	var requeued []string
	for _, e := range s.Entries {
		e.Attempts++
		if e.Attempts > o.cfg.MaxRequeue {
			if err := o.st.SetOutcome(ctx, e.PlayerID, types.OutcomeMatchmakingFailed); err != nil {
				log.Error().Err(err).Str("player", e.PlayerID).Msg("record matchmaking_failed outcome")
			}
			o.hub.Broadcast(types.Event{Type: types.EventMatchmakingFailed, Players: []string{e.PlayerID}})
			continue
		}
		if err := o.mgr.Requeue(ctx, e); err != nil {
			log.Error().Err(err).Str("player", e.PlayerID).Msg("re-enqueue after session failure")
			continue
		}
		requeued = append(requeued, e.PlayerID)
	}
	if len(requeued) > 0 {
		o.hub.Broadcast(types.Event{
			Type:    types.EventSessionFailed,
			Players: requeued,
			Payload: map[string]string{"match_id": s.MatchID, "reason": reason},
		})
	}
	o.destroy(ctx, s)
	o.transition(s, types.SessionTerminated)
}

// complete hands the outcome to the result ingestor and only then releases
// the workload, so a slow deprovision can never drop a result. A hand-off
// that exhausts its retries parks the outcome in the store; the workload's
// redelivery (or an operator replay) finishes the ingestion later.
func (o *Orchestrator) complete(ctx context.Context, s *Session, out types.Outcome) {
	updates, err := o.ing.Ingest(ctx, s.MatchID, s.Entries, out)
	if err != nil {
		log.Error().Err(err).Str("match", s.MatchID).Msg("result hand-off failed, outcome parked")
		parked := types.PendingResult{Entries: s.Entries, Outcome: out}
		if perr := o.st.SetPendingResult(ctx, s.MatchID, parked); perr != nil {
			log.Error().Err(perr).Str("match", s.MatchID).Msg("park outcome")
		}
	}
	for _, u := range updates {
		o.hub.Broadcast(types.Event{Type: types.EventRatingUpdate, Players: []string{u.PlayerID}, Payload: u})
	}
	o.destroy(ctx, s)
	o.reg.remove(s)
	o.transition(s, types.SessionTerminated)
}

func (o *Orchestrator) destroy(ctx context.Context, s *Session) {
	handle := s.workloadHandle()
	if handle == "" {
		return
	}
	var err error
	for attempt := 0; attempt < o.cfg.ProvisionRetries; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, backoff(o.cfg.BackoffBase, attempt-1)) {
				break
			}
		}
		if err = o.prov.DestroyWorkload(ctx, handle); err == nil {
			return
		}
	}
	log.Error().Err(err).Str("match", s.MatchID).Str("handle", handle).Msg("destroy workload failed")
}

func (o *Orchestrator) transition(s *Session, st types.SessionState) {
	s.setState(st)
	metrics.SessionTransitions.WithLabelValues(string(st)).Inc()
	log.Info().Str("match", s.MatchID).Str("state", string(st)).Msg("session transition")
}

func backoff(base time.Duration, n int) time.Duration {
	return base << n
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
