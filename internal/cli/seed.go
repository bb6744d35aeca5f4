package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	"quiz-attempt-service/internal/pkg/logger"
)

// NewSeedCmd loads quiz content into Postgres. Without --file the built-in
// sample quizzes are written.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert quiz content into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file holding an array of quizzes")
	return cmd
}

func runSeed(ctx context.Context, configPath, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
		return err
	}

	quizzes := sampleQuizzes()
	if file != "" {
		if quizzes, err = readQuizzes(file); err != nil {
			return err
		}
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	loader := pgstore.NewQuizLoader(pool)
	for _, quiz := range quizzes {
		if err := loader.SaveQuiz(ctx, quiz); err != nil {
			return err
		}
		log.Info("quiz seeded", "quizID", quiz.ID, "questions", len(quiz.Questions))
	}
	return nil
}

func readQuizzes(path string) ([]domain.Quiz, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var quizzes []domain.Quiz
	if err := json.Unmarshal(raw, &quizzes); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, quiz := range quizzes {
		if quiz.ID == "" {
			return nil, fmt.Errorf("quiz #%d has no id", i)
		}
	}
	return quizzes, nil
}
