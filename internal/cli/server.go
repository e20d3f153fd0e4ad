package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	pgbank "live-quiz-service/internal/infra/postgres"
	redisstore "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/store"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		// No config file means single-node demo mode on defaults.
		log.Warn().Str("path", configPath).Msg("config file not found, using defaults")
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
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

	clock := clockwork.NewRealClock()

	var quizStore store.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		quizStore = redisstore.NewStore(client)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis store")
	} else {
		quizStore = memory.NewStore(clock)
		log.Info().Msg("using in-memory store")
	}

	var loader memory.BankLoader = memory.NewStaticBankLoader(sampleBanks())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = pgbank.NewBankLoader(pool)
	}
	bankTTL := config.Duration(cfg.Quiz.BankTTL, 10*time.Minute)
	banks := memory.NewBankRepository(loader, bankTTL)

	coordinator := app.NewCoordinator(quizStore)
	if err := coordinator.Start(ctx); err != nil {
		return err
	}
	defer coordinator.Stop()

	countdown := config.Duration(cfg.Quiz.Countdown, 15*time.Second)
	maxOptions := cfg.Quiz.OptionCount
	if maxOptions == 0 {
		maxOptions = 4
	}

	wsHandler := transport.NewWSHandler(transport.WSConfig{
		Store:       quizStore,
		Coordinator: coordinator,
		Banks:       banks,
		Clock:       clock,
		Countdown:   countdown,
		Passcode:    cfg.Quiz.Passcode,
		MaxOptions:  maxOptions,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/host", wsHandler.ServeHost)
	mux.HandleFunc("/ws/join", wsHandler.ServeJoin)
	mux.HandleFunc("/ws/leaderboard", wsHandler.ServeLeaderboard)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     cors.AllowAll().Handler(mux),
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting live quiz service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleBanks seeds demo mode with one bank; production points the loader at
// the question_banks table instead.
func sampleBanks() map[string]domain.QuestionBank {
	return map[string]domain.QuestionBank{
		"warmup": {
			ID: "warmup",
			Drafts: []domain.Draft{
				{Text: "What is 2 + 2?", Options: []string{"3", "4", "5", "22"}, CorrectIndex: 1},
				{Text: "Which planet is closest to the sun?", Options: []string{"Venus", "Earth", "Mercury", "Mars"}, CorrectIndex: 2},
			},
		},
	}
}
