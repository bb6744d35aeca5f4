package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

var _ app.DraftStore = (*DraftStore)(nil)

// DraftStore keeps saved answers as HSET attempt:{attemptID}:draft {questionID} {answer}.
// The ttl only bounds drafts of attempts that never reach a submit.
type DraftStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDraftStore(client *redis.Client, ttl time.Duration) *DraftStore {
	return &DraftStore{client: client, ttl: ttl}
}

func (s *DraftStore) Save(ctx context.Context, attemptID string, answers domain.Answers) error {
	if len(answers) == 0 {
		return nil
	}
	key := draftKey(attemptID)
	values := make(map[string]interface{}, len(answers))
	for questionID, answer := range answers {
		values[questionID] = answer
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, values)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (s *DraftStore) Load(ctx context.Context, attemptID string) (domain.Answers, error) {
	values, err := s.client.HGetAll(ctx, draftKey(attemptID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	return domain.Answers(values), nil
}

func (s *DraftStore) Clear(ctx context.Context, attemptID string) error {
	return s.client.Del(ctx, draftKey(attemptID)).Err()
}

func draftKey(attemptID string) string {
	return "attempt:" + attemptID + ":draft"
}
