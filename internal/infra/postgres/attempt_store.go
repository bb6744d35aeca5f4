package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

var _ app.AttemptLedger = (*AttemptStore)(nil)

// AttemptStore persists attempts in the quiz_attempts table. The
// UNIQUE (student_id, quiz_id) constraint enforces one attempt per pair and
// status-guarded UPDATEs make every transition single-winner.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

const attemptColumns = `id, quiz_id, student_id, student_name, group_section, status,
	started_at, submitted_at, time_limit_seconds, time_taken_seconds, answers,
	obtained_marks, total_marks, percentage, visible_to_student`

func (s *AttemptStore) TryStart(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	attempt.Status = domain.StatusInProgress
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO quiz_attempts (id, quiz_id, student_id, student_name, group_section, status,
			started_at, time_limit_seconds, total_marks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (student_id, quiz_id) DO NOTHING`,
		attempt.ID, attempt.QuizID, attempt.StudentID, attempt.StudentName, attempt.GroupSection,
		string(attempt.Status), attempt.StartedAt, attempt.TimeLimitSeconds, attempt.TotalMarks)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("start attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Attempt{}, domain.ErrAlreadyAttempted
	}
	return attempt, nil
}

func (s *AttemptStore) Finalize(ctx context.Context, attemptID string, sub domain.Submission) (domain.Attempt, error) {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("encode answers: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE quiz_attempts SET
			status = $2, submitted_at = $3, time_taken_seconds = $4, answers = $5::jsonb,
			obtained_marks = $6, total_marks = $7, percentage = $8, visible_to_student = FALSE
		WHERE id = $1 AND status = $9
		RETURNING `+attemptColumns,
		attemptID, string(domain.StatusSubmitted), sub.SubmittedAt, sub.TimeTakenSeconds, string(answers),
		sub.Score.ObtainedMarks, sub.Score.TotalMarks, sub.Score.Percentage(), string(domain.StatusInProgress))
	attempt, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, s.transitionError(ctx, attemptID)
	}
	return attempt, err
}

func (s *AttemptStore) MarkPublished(ctx context.Context, attemptID string) (domain.Attempt, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE quiz_attempts SET status = $2, visible_to_student = TRUE
		WHERE id = $1 AND status IN ($3, $2)
		RETURNING `+attemptColumns,
		attemptID, string(domain.StatusPublished), string(domain.StatusSubmitted))
	attempt, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, s.transitionError(ctx, attemptID)
	}
	return attempt, err
}

// transitionError tells a missing attempt apart from one in the wrong status.
func (s *AttemptStore) transitionError(ctx context.Context, attemptID string) error {
	if _, err := s.Get(ctx, attemptID); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func (s *AttemptStore) Get(ctx context.Context, attemptID string) (domain.Attempt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1`, attemptID)
	attempt, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, err
}

func (s *AttemptStore) Find(ctx context.Context, studentID, quizID string) (domain.Attempt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM quiz_attempts WHERE student_id = $1 AND quiz_id = $2`, studentID, quizID)
	attempt, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, err
}

func (s *AttemptStore) ListByQuiz(ctx context.Context, quizID string) ([]domain.Attempt, error) {
	return s.list(ctx, `WHERE quiz_id = $1`, quizID)
}

func (s *AttemptStore) ListByStudent(ctx context.Context, studentID string) ([]domain.Attempt, error) {
	return s.list(ctx, `WHERE student_id = $1`, studentID)
}

func (s *AttemptStore) ListInProgress(ctx context.Context) ([]domain.Attempt, error) {
	return s.list(ctx, `WHERE status = $1`, string(domain.StatusInProgress))
}

func (s *AttemptStore) ListFinalized(ctx context.Context) ([]domain.Attempt, error) {
	return s.list(ctx, `WHERE status IN ($1, $2)`, string(domain.StatusSubmitted), string(domain.StatusPublished))
}

func (s *AttemptStore) list(ctx context.Context, where string, args ...interface{}) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+attemptColumns+` FROM quiz_attempts `+where+` ORDER BY started_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Attempt, 0)
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return out, nil
}

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var (
		attempt     domain.Attempt
		status      string
		submittedAt sql.NullTime
		answers     []byte
		obtained    sql.NullInt32
	)
	err := row.Scan(
		&attempt.ID, &attempt.QuizID, &attempt.StudentID, &attempt.StudentName, &attempt.GroupSection, &status,
		&attempt.StartedAt, &submittedAt, &attempt.TimeLimitSeconds, &attempt.TimeTakenSeconds, &answers,
		&obtained, &attempt.TotalMarks, &attempt.Percentage, &attempt.VisibleToStudent,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Attempt{}, err
		}
		return domain.Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}

	attempt.Status = domain.AttemptStatus(status)
	if submittedAt.Valid {
		t := submittedAt.Time
		attempt.SubmittedAt = &t
	}
	if obtained.Valid {
		marks := int(obtained.Int32)
		attempt.ObtainedMarks = &marks
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &attempt.Answers); err != nil {
			return domain.Attempt{}, fmt.Errorf("decode answers: %w", err)
		}
	}
	return attempt, nil
}
