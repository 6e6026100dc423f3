package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourname/game-master/pkg/types"
)

// ErrEntryGone reports that a queue entry vanished between the matcher's
// snapshot and the commit, i.e. a concurrent leave won the race.
var ErrEntryGone = errors.New("queue entry gone")

// Store is the single source of truth for queue membership. Remove and
// CommitMatch have remove-if-present semantics so a leave and a match commit
// can never both claim the same entry.
type Store interface {
	Enqueue(ctx context.Context, e types.QueueEntry) (created bool, err error)
	Get(ctx context.Context, playerID string) (*types.QueueEntry, error)
	Remove(ctx context.Context, playerID string) (bool, error)
	Peek(ctx context.Context, n int) ([]types.QueueEntry, error)
	CommitMatch(ctx context.Context, entries []types.QueueEntry) error
	QueueLen(ctx context.Context) (int64, error)
	Version(ctx context.Context) (int64, error)

	IsProcessed(ctx context.Context, matchID string) (bool, error)
	MarkProcessed(ctx context.Context, matchID string) (bool, error)

	SetPendingResult(ctx context.Context, matchID string, p types.PendingResult) error
	GetPendingResult(ctx context.Context, matchID string) (*types.PendingResult, error)
	ClearPendingResult(ctx context.Context, matchID string) error

	SetOutcome(ctx context.Context, playerID string, o types.TerminalOutcome) error
	GetOutcome(ctx context.Context, playerID string) (types.TerminalOutcome, error)

	Close() error
}

type RedisStore struct {
	rdb          *redis.Client
	processedTTL time.Duration
	outcomeTTL   time.Duration
}

const (
	queueKey     = "gm:queue" // ZSET: score=enqueue unix millis, member=playerID
	metaKey      = "gm:meta:" // HASH per player: rating, enqueued_at, attempts
	versionKey   = "gm:queue_version"
	processedKey = "gm:processed:" // per matchID, idempotency marker
	pendingKey   = "gm:pending:"   // per matchID, outcome awaiting leaderboard hand-off
	outcomeKey   = "gm:outcome:"   // per player, terminal matchmaking outcome
)

func NewRedisStore(addr, password string, processedTTL, outcomeTTL time.Duration) *RedisStore {
	return &RedisStore{
		rdb:          redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		processedTTL: processedTTL,
		outcomeTTL:   outcomeTTL,
	}
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) Enqueue(ctx context.Context, e types.QueueEntry) (bool, error) {
	added, err := s.rdb.ZAddNX(ctx, queueKey, redis.Z{
		Score:  float64(e.EnqueuedAt.UnixMilli()),
		Member: e.PlayerID,
	}).Result()
	if err != nil {
		return false, err
	}
	if added == 0 {
		return false, nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, metaKey+e.PlayerID, map[string]any{
		"rating":      e.Rating,
		"enqueued_at": e.EnqueuedAt.UnixMilli(),
		"attempts":    e.Attempts,
	})
	pipe.Del(ctx, outcomeKey+e.PlayerID)
	pipe.Incr(ctx, versionKey)
	_, err = pipe.Exec(ctx)
	return true, err
}

func (s *RedisStore) Get(ctx context.Context, playerID string) (*types.QueueEntry, error) {
	m, err := s.rdb.HGetAll(ctx, metaKey+playerID).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return entryFromMeta(playerID, m)
}

func (s *RedisStore) Remove(ctx context.Context, playerID string) (bool, error) {
	n, err := s.rdb.ZRem(ctx, queueKey, playerID).Result()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// No-op removals must not bump the version; the matcher would
		// re-scan an untouched queue.
		return false, nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, metaKey+playerID)
	pipe.Incr(ctx, versionKey)
	_, err = pipe.Exec(ctx)
	return true, err
}

func (s *RedisStore) Peek(ctx context.Context, n int) ([]types.QueueEntry, error) {
	ids, err := s.rdb.ZRange(ctx, queueKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	res := make([]types.QueueEntry, 0, len(ids))
	for _, id := range ids {
		m, err := s.rdb.HGetAll(ctx, metaKey+id).Result()
		if err != nil {
			return nil, err
		}
		if len(m) == 0 {
			continue // removed mid-scan
		}
		e, err := entryFromMeta(id, m)
		if err != nil {
			return nil, err
		}
		res = append(res, *e)
	}
	return res, nil
}

// CommitMatch removes all entries of a proposal atomically with respect to
// concurrent leaves: if any member was already removed, the ones taken here
// are put back and ErrEntryGone is returned.
func (s *RedisStore) CommitMatch(ctx context.Context, entries []types.QueueEntry) error {
	pipe := s.rdb.TxPipeline()
	zrems := make([]*redis.IntCmd, len(entries))
	for i, e := range entries {
		zrems[i] = pipe.ZRem(ctx, queueKey, e.PlayerID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("commit match: %w", err)
	}

	gone := false
	for _, cmd := range zrems {
		if cmd.Val() == 0 {
			gone = true
			break
		}
	}
	if gone {
		// Roll back the members we did take.
		pipe = s.rdb.TxPipeline()
		for i, e := range entries {
			if zrems[i].Val() > 0 {
				pipe.ZAdd(ctx, queueKey, redis.Z{Score: float64(e.EnqueuedAt.UnixMilli()), Member: e.PlayerID})
			}
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("rollback match commit: %w", err)
		}
		return ErrEntryGone
	}

	pipe = s.rdb.TxPipeline()
	for _, e := range entries {
		pipe.Del(ctx, metaKey+e.PlayerID)
	}
	pipe.Incr(ctx, versionKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("commit match: %w", err)
	}
	return nil
}

func (s *RedisStore) QueueLen(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, queueKey).Result()
}

func (s *RedisStore) Version(ctx context.Context) (int64, error) {
	v, err := s.rdb.Get(ctx, versionKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

func (s *RedisStore) IsProcessed(ctx context.Context, matchID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, processedKey+matchID).Result()
	return n > 0, err
}

// MarkProcessed records a match as ingested; returns false when it already was.
func (s *RedisStore) MarkProcessed(ctx context.Context, matchID string) (bool, error) {
	return s.rdb.SetNX(ctx, processedKey+matchID, 1, s.processedTTL).Result()
}

// SetPendingResult parks a completed session's outcome so a redelivered
// result callback can finish the leaderboard hand-off after teardown.
func (s *RedisStore) SetPendingResult(ctx context.Context, matchID string, p types.PendingResult) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("pending result for %s: %w", matchID, err)
	}
	return s.rdb.Set(ctx, pendingKey+matchID, b, s.processedTTL).Err()
}

func (s *RedisStore) GetPendingResult(ctx context.Context, matchID string) (*types.PendingResult, error) {
	b, err := s.rdb.Get(ctx, pendingKey+matchID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p types.PendingResult
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("pending result for %s: %w", matchID, err)
	}
	return &p, nil
}

func (s *RedisStore) ClearPendingResult(ctx context.Context, matchID string) error {
	return s.rdb.Del(ctx, pendingKey+matchID).Err()
}

func (s *RedisStore) SetOutcome(ctx context.Context, playerID string, o types.TerminalOutcome) error {
	return s.rdb.Set(ctx, outcomeKey+playerID, string(o), s.outcomeTTL).Err()
}

func (s *RedisStore) GetOutcome(ctx context.Context, playerID string) (types.TerminalOutcome, error) {
	v, err := s.rdb.Get(ctx, outcomeKey+playerID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return types.TerminalOutcome(v), err
}

func entryFromMeta(playerID string, m map[string]string) (*types.QueueEntry, error) {
	rating, err := strconv.ParseFloat(m["rating"], 64)
	if err != nil {
		return nil, fmt.Errorf("meta for %s: %w", playerID, err)
	}
	at, err := strconv.ParseInt(m["enqueued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("meta for %s: %w", playerID, err)
	}
	attempts, _ := strconv.Atoi(m["attempts"])
	return &types.QueueEntry{
		PlayerID:   playerID,
		Rating:     rating,
		EnqueuedAt: time.UnixMilli(at),
		Attempts:   attempts,
	}, nil
}
