package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-attempt-service/internal/domain"
	pgmigrations "quiz-attempt-service/internal/infra/postgres/migrations"
)

func TestAttemptStoreAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)
	store := NewAttemptStore(pool)
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	t.Run("one attempt per student and quiz", func(t *testing.T) {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.TryStart(ctx, domain.Attempt{
					ID: fmt.Sprintf("race-%d", i), QuizID: "quiz-1", StudentID: "s-race",
					StartedAt: start, TimeLimitSeconds: 600, TotalMarks: 6,
				})
				if err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
					return
				}
				if !errors.Is(err, domain.ErrAlreadyAttempted) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		require.Equal(t, 1, winners)
	})

	t.Run("lifecycle", func(t *testing.T) {
		_, err := store.TryStart(ctx, domain.Attempt{
			ID: "a1", QuizID: "quiz-1", StudentID: "s1", StudentName: "Alice", GroupSection: "A",
			StartedAt: start, TimeLimitSeconds: 600, TotalMarks: 6,
		})
		require.NoError(t, err)

		_, err = store.MarkPublished(ctx, "a1")
		require.ErrorIs(t, err, domain.ErrInvalidTransition)

		sub := domain.Submission{
			Answers:          domain.Answers{"q1": "o2"},
			Score:            domain.Score{ObtainedMarks: 3, TotalMarks: 6},
			SubmittedAt:      start.Add(2 * time.Minute),
			TimeTakenSeconds: 120,
		}
		final, err := store.Finalize(ctx, "a1", sub)
		require.NoError(t, err)
		require.Equal(t, domain.StatusSubmitted, final.Status)
		require.Equal(t, 3, *final.ObtainedMarks)
		require.Equal(t, 50.0, final.Percentage)
		require.Equal(t, "o2", final.Answers["q1"])
		require.False(t, final.VisibleToStudent)

		_, err = store.Finalize(ctx, "a1", sub)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
		_, err = store.Finalize(ctx, "missing", sub)
		require.ErrorIs(t, err, domain.ErrAttemptNotFound)

		published, err := store.MarkPublished(ctx, "a1")
		require.NoError(t, err)
		require.True(t, published.VisibleToStudent)
		_, err = store.MarkPublished(ctx, "a1")
		require.NoError(t, err)

		found, err := store.Find(ctx, "s1", "quiz-1")
		require.NoError(t, err)
		require.Equal(t, domain.StatusPublished, found.Status)

		inProgress, err := store.ListInProgress(ctx)
		require.NoError(t, err)
		for _, a := range inProgress {
			require.NotEqual(t, "a1", a.ID)
		}
		byQuiz, err := store.ListByQuiz(ctx, "quiz-1")
		require.NoError(t, err)
		require.Len(t, byQuiz, 2)
		byStudent, err := store.ListByStudent(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, byStudent, 1)
		finalized, err := store.ListFinalized(ctx)
		require.NoError(t, err)
		require.Len(t, finalized, 1)
		require.Equal(t, "a1", finalized[0].ID)
	})

	t.Run("quiz loader", func(t *testing.T) {
		loader := NewQuizLoader(pool)
		quiz := domain.Quiz{ID: "quiz-1", Title: "Arithmetic", TimeLimitSeconds: 600, Questions: []domain.Question{{ID: "q1", Type: domain.QuestionTrueFalse, CorrectAnswer: "true"}}}
		require.NoError(t, loader.SaveQuiz(ctx, quiz))

		loaded, err := loader.LoadQuiz(ctx, "quiz-1")
		require.NoError(t, err)
		require.Equal(t, quiz, loaded)

		_, err = loader.LoadQuiz(ctx, "nope")
		require.ErrorIs(t, err, domain.ErrQuizNotFound)
	})
}

func startPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}

	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:15-alpine",
			Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	pool, err := pgxpool.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}
