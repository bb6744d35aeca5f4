package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	"quiz-attempt-service/internal/infra/rabbitmq"
	redisstore "quiz-attempt-service/internal/infra/redis"
	"quiz-attempt-service/internal/pkg/logger"
	transport "quiz-attempt-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz attempt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireAuth(); err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes()...)
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
	}

	clock := clockwork.NewRealClock()
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL, clock)
	}

	var ledger app.AttemptLedger
	switch {
	case pool != nil:
		ledger = pgstore.NewAttemptStore(pool)
	case redisClient != nil:
		ledger = redisstore.NewAttemptStore(redisClient)
	default:
		ledger = memory.NewAttemptStore()
	}

	var drafts app.DraftStore
	if redisClient != nil {
		drafts = redisstore.NewDraftStore(redisClient, redisTTL)
	} else {
		drafts = memory.NewDraftStore()
	}

	broadcaster := app.NewLeaderboardBroadcaster(log, cfg.Leaderboard.QueueSize)
	bus, err := newEventBus(cfg, redisClient, log)
	if err != nil {
		return err
	}
	var publisher app.EventPublisher = broadcaster
	if bus != nil {
		defer bus.Close()
		if err := bus.StartForwarder(ctx, broadcaster.Deliver); err != nil {
			return err
		}
		publisher = bus
	}

	coordinator := app.NewSubmissionCoordinator(app.Dependencies{
		Ledger:    ledger,
		Drafts:    drafts,
		Quizzes:   quizRepo,
		Publisher: publisher,
		Clock:     clock,
		Logger:    log,
	})
	defer coordinator.Stop()
	if _, err := coordinator.RestoreTimers(ctx); err != nil {
		return err
	}

	auth := transport.NewAuthenticator(cfg.Auth.JWTSecret)
	router := transport.NewRouter(log, auth,
		transport.NewAttemptHandler(coordinator, log),
		transport.NewWSHandler(broadcaster, coordinator, log),
	)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting quiz attempt service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newEventBus returns nil when leaderboard events stay in-process.
func newEventBus(cfg config.Config, redisClient *redis.Client, log *logger.Logger) (app.EventBus, error) {
	switch cfg.Leaderboard.Bus {
	case config.BusRedis:
		return redisstore.NewEventBus(redisClient, cfg.Leaderboard.Channel, log)
	case config.BusRabbitMQ:
		return rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
	default:
		return nil, nil
	}
}

// sampleQuizzes backs the in-memory loader when no Postgres is configured.
func sampleQuizzes() []domain.Quiz {
	return []domain.Quiz{
		{
			ID:               "quiz-1",
			Title:            "Warm-up",
			TimeLimitSeconds: 600,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Type:   domain.QuestionMultipleChoice,
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
					Points: 1,
				},
				{
					ID:            "q2",
					Prompt:        "The Earth orbits the Sun.",
					Type:          domain.QuestionTrueFalse,
					CorrectAnswer: "true",
					Points:        1,
				},
				{
					ID:            "q3",
					Prompt:        "The capital of France is ____.",
					Type:          domain.QuestionFillInBlank,
					CorrectAnswer: "Paris",
					Points:        2,
				},
			},
		},
	}
}
