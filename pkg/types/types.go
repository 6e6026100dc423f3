package types

import "time"

type JoinRequest struct {
	Rating float64 `json:"rating"`
}

// QueueEntry is a waiting player's matchmaking record. Attempts counts how many
// failed sessions this player has already been re-enqueued from.
type QueueEntry struct {
	PlayerID   string    `json:"player_id"`
	Rating     float64   `json:"rating"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

func (e QueueEntry) Wait(now time.Time) time.Duration { return now.Sub(e.EnqueuedAt) }

// MatchProposal is a tentative grouping of queue entries pending session creation.
type MatchProposal struct {
	MatchID   string       `json:"match_id"`
	Entries   []QueueEntry `json:"entries"`
	CreatedAt time.Time    `json:"created_at"`
}

type SessionState string

const (
	SessionPending      SessionState = "pending"
	SessionProvisioning SessionState = "provisioning"
	SessionReady        SessionState = "ready"
	SessionActive       SessionState = "active"
	SessionCompleted    SessionState = "completed"
	SessionFailed       SessionState = "failed"
	SessionTerminated   SessionState = "terminated"
)

func (s SessionState) Terminal() bool { return s == SessionTerminated }

// Outcome is the final result reported by a game-server workload.
// An empty WinnerID means a draw.
type Outcome struct {
	WinnerID string `json:"winner_id"`
}

// RatingUpdate is produced once per participant of a completed session.
type RatingUpdate struct {
	MatchID   string  `json:"match_id"`
	PlayerID  string  `json:"player_id"`
	OldRating float64 `json:"old_rating"`
	NewRating float64 `json:"new_rating"`
	Score     float64 `json:"score"`
}

// PendingResult parks a completed session's outcome while the leaderboard
// hand-off is still owed. It carries the participant entries because the
// session that held them is torn down before the redelivery arrives.
type PendingResult struct {
	Entries []QueueEntry `json:"entries"`
	Outcome Outcome      `json:"outcome"`
}

// TerminalOutcome is recorded against a player when matchmaking ends without a
// session; the status endpoint reports it until the player re-joins.
type TerminalOutcome string

const (
	OutcomeQueueTimeout      TerminalOutcome = "queue_timeout"
	OutcomeMatchmakingFailed TerminalOutcome = "matchmaking_failed"
)

// PlayerStatus is the tagged status object served by GET /queue/status.
type PlayerStatus struct {
	State        string       `json:"state"`
	WaitMs       int64        `json:"wait_ms,omitempty"`
	MatchID      string       `json:"match_id,omitempty"`
	SessionState SessionState `json:"session_state,omitempty"`
	Endpoint     string       `json:"endpoint,omitempty"`
	Outcome      string       `json:"outcome,omitempty"`
}

const (
	StateNotQueued = "not_queued"
	StateQueued    = "queued"
	StateMatched   = "matched"
	StateInSession = "in_session"
	StateFailed    = "failed"
)

type Event struct {
	Type    string      `json:"type"`
	Players []string    `json:"players,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

const (
	EventMatchFound        = "match_found"
	EventSessionReady      = "session_ready"
	EventSessionFailed     = "session_failed"
	EventQueueTimeout      = "queue_timeout"
	EventMatchmakingFailed = "matchmaking_failed"
	EventRatingUpdate      = "rating_update"
)
