package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

var _ app.AttemptLedger = (*AttemptStore)(nil)

// AttemptStore keeps attempts in Redis so every instance sees one ledger.
//
// Layout:
//
//	attempt:pair:{studentID}:{quizID}  -> attemptID (SETNX guard, both IDs query-escaped)
//	attempt:{attemptID}                -> HASH status, data (JSON)
//	attempts:quiz:{quizID}             -> SET of attempt IDs
//	attempts:student:{studentID}       -> SET of attempt IDs
//	attempts:in_progress               -> SET of attempt IDs
//	attempts:finalized                 -> SET of attempt IDs
type AttemptStore struct {
	client *redis.Client
}

func NewAttemptStore(client *redis.Client) *AttemptStore {
	return &AttemptStore{client: client}
}

// startScript claims the pair and writes the attempt in one step.
var startScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], 'status', ARGV[2], 'data', ARGV[3])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[1])
redis.call('SADD', KEYS[5], ARGV[1])
return 1
`)

// transitionScript replaces the attempt only if its status still matches.
// Returns -1 for a missing attempt, 0 when the status moved on.
var transitionScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
if status ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'data', ARGV[3])
redis.call('SREM', KEYS[2], ARGV[4])
redis.call('SADD', KEYS[3], ARGV[4])
return 1
`)

func (s *AttemptStore) TryStart(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	attempt.Status = domain.StatusInProgress
	raw, err := json.Marshal(attempt)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("encode attempt: %w", err)
	}

	keys := []string{
		pairKey(attempt.StudentID, attempt.QuizID),
		attemptKey(attempt.ID),
		quizIndexKey(attempt.QuizID),
		studentIndexKey(attempt.StudentID),
		inProgressKey,
	}
	ok, err := startScript.Run(ctx, s.client, keys, attempt.ID, string(attempt.Status), raw).Int()
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("start attempt: %w", err)
	}
	if ok == 0 {
		return domain.Attempt{}, domain.ErrAlreadyAttempted
	}
	return attempt, nil
}

func (s *AttemptStore) Finalize(ctx context.Context, attemptID string, sub domain.Submission) (domain.Attempt, error) {
	current, err := s.Get(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if !current.Status.CanTransitionTo(domain.StatusSubmitted) {
		return domain.Attempt{}, domain.ErrInvalidTransition
	}
	return s.transition(ctx, current.Status, current.Apply(sub))
}

func (s *AttemptStore) MarkPublished(ctx context.Context, attemptID string) (domain.Attempt, error) {
	current, err := s.Get(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	switch current.Status {
	case domain.StatusPublished:
		return current, nil
	case domain.StatusSubmitted:
	default:
		return domain.Attempt{}, domain.ErrInvalidTransition
	}

	published, err := s.transition(ctx, current.Status, current.Published())
	if errors.Is(err, domain.ErrInvalidTransition) {
		// a concurrent publish got there first
		if again, getErr := s.Get(ctx, attemptID); getErr == nil && again.Status == domain.StatusPublished {
			return again, nil
		}
	}
	return published, err
}

func (s *AttemptStore) transition(ctx context.Context, from domain.AttemptStatus, next domain.Attempt) (domain.Attempt, error) {
	raw, err := json.Marshal(next)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("encode attempt: %w", err)
	}
	keys := []string{attemptKey(next.ID), inProgressKey, finalizedKey}
	res, err := transitionScript.Run(ctx, s.client, keys, string(from), string(next.Status), raw, next.ID).Int()
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("update attempt: %w", err)
	}
	switch res {
	case -1:
		return domain.Attempt{}, domain.ErrAttemptNotFound
	case 0:
		return domain.Attempt{}, domain.ErrInvalidTransition
	}
	return next, nil
}

func (s *AttemptStore) Get(ctx context.Context, attemptID string) (domain.Attempt, error) {
	raw, err := s.client.HGet(ctx, attemptKey(attemptID), "data").Result()
	if errors.Is(err, redis.Nil) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return decodeAttempt(raw)
}

func (s *AttemptStore) Find(ctx context.Context, studentID, quizID string) (domain.Attempt, error) {
	id, err := s.client.Get(ctx, pairKey(studentID, quizID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("find attempt: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *AttemptStore) ListByQuiz(ctx context.Context, quizID string) ([]domain.Attempt, error) {
	return s.listSet(ctx, quizIndexKey(quizID))
}

func (s *AttemptStore) ListByStudent(ctx context.Context, studentID string) ([]domain.Attempt, error) {
	return s.listSet(ctx, studentIndexKey(studentID))
}

func (s *AttemptStore) ListInProgress(ctx context.Context) ([]domain.Attempt, error) {
	attempts, err := s.listSet(ctx, inProgressKey)
	if err != nil {
		return nil, err
	}
	// the index may briefly lag a transition
	out := attempts[:0]
	for _, attempt := range attempts {
		if attempt.Status == domain.StatusInProgress {
			out = append(out, attempt)
		}
	}
	return out, nil
}

func (s *AttemptStore) ListFinalized(ctx context.Context) ([]domain.Attempt, error) {
	attempts, err := s.listSet(ctx, finalizedKey)
	if err != nil {
		return nil, err
	}
	out := attempts[:0]
	for _, attempt := range attempts {
		if attempt.Status.Final() {
			out = append(out, attempt)
		}
	}
	return out, nil
}

func (s *AttemptStore) listSet(ctx context.Context, key string) ([]domain.Attempt, error) {
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Attempt{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, attemptKey(id), "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load attempts: %w", err)
	}

	out := make([]domain.Attempt, 0, len(ids))
	for _, cmd := range cmds {
		raw, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load attempt: %w", err)
		}
		attempt, err := decodeAttempt(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, attempt)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func decodeAttempt(raw string) (domain.Attempt, error) {
	var attempt domain.Attempt
	if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
		return domain.Attempt{}, fmt.Errorf("decode attempt: %w", err)
	}
	return attempt, nil
}

const (
	inProgressKey = "attempts:in_progress"
	finalizedKey  = "attempts:finalized"
)

// pairKey escapes both IDs so a ':' inside one cannot shift the boundary.
func pairKey(studentID, quizID string) string {
	return "attempt:pair:" + url.QueryEscape(studentID) + ":" + url.QueryEscape(quizID)
}

func attemptKey(attemptID string) string {
	return "attempt:" + attemptID
}

func quizIndexKey(quizID string) string {
	return "attempts:quiz:" + quizID
}

func studentIndexKey(studentID string) string {
	return "attempts:student:" + studentID
}
