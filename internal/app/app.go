package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"

	"casetriage/internal/classify"
	"casetriage/internal/config"
	"casetriage/internal/domain"
	"casetriage/internal/httpapi"
	"casetriage/internal/httpx"
	"casetriage/internal/integrations/llm"
	slackbot "casetriage/internal/integrations/slack"
	"casetriage/internal/nudge"
	"casetriage/internal/sources"
	"casetriage/internal/storage/sqlite"
	"casetriage/internal/sweep"
)

func buildBackends(cfg config.Config) []llm.Backend {
	var backends []llm.Backend
	for _, name := range cfg.LLMProviders {
		switch name {
		case config.ProviderAnthropic:
			backends = append(backends, llm.NewAnthropicBackend(llm.AnthropicConfig{
				APIKey:  cfg.AnthropicAPIKey,
				BaseURL: cfg.AnthropicBaseURL,
				Models:  llm.ModelSet{Default: cfg.AnthropicModel, Fast: cfg.AnthropicFastModel},
			}))
		case config.ProviderOpenAI:
			backends = append(backends, llm.NewOpenAIBackend(llm.OpenAIConfig{
				APIKey:  cfg.OpenAIAPIKey,
				BaseURL: cfg.OpenAIBaseURL,
				Models:  llm.ModelSet{Default: cfg.OpenAIModel, Fast: cfg.OpenAIFastModel},
			}))
		}
	}
	return backends
}

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Providers=%v AutoAssign=%.2f NeedsReview=%.2f SweepSchedule=%q SweepLimit=%d Timezone=%s ExternalHTTPTimeout=%s",
		cfg.LLMProviders,
		cfg.Thresholds.AutoAssign,
		cfg.Thresholds.NeedsReview,
		cfg.SweepSchedule,
		cfg.SweepLimit,
		cfg.Timezone,
		appliedHTTPTimeout,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	defer db.Close()

	registry, err := sources.NewRegistry(cfg.GlobalSourcesPath)
	if err != nil {
		log.Fatalf("Failed to load global sources: %v", err)
	}
	if err := registry.Watch(ctx); err != nil {
		log.Printf("Global sources hot reload disabled: %v", err)
	}

	manager := llm.NewManager(llm.BreakerSettings{
		FailureThreshold: cfg.CircuitFailureThreshold,
		ResetTimeout:     cfg.CircuitResetTimeout(),
	}, buildBackends(cfg)...)

	var ai classify.Completer
	if len(manager.Providers()) > 0 {
		ai = manager
	}
	classifier := classify.New(ai, cfg.Thresholds)
	batch := classify.NewBatch(classifier, classify.Pacing{
		Delay:      cfg.BatchDelay(),
		DelayAfter: cfg.BatchDelayAfter,
	})

	var notifier sweep.Notifier
	var poster nudge.Poster
	if cfg.SlackConfigured() {
		sn := slackbot.NewNotifier(slack.New(cfg.SlackBotToken), cfg.SlackReviewChannelID, cfg.SlackReviewers)
		notifier, poster = sn, sn
		log.Printf("Review notifications go to %s", cfg.SlackReviewChannelID)
	}

	sweeper := sweep.New(db, batch, registry, notifier, cfg.SweepLimit)
	if err := sweep.StartSweepScheduler(ctx, cfg.SweepSchedule, cfg.Location, sweeper); err != nil {
		log.Fatalf("Sweep scheduler error: %v", err)
	}
	if err := nudge.StartReviewReminder(ctx, cfg.ReviewReminderDay, cfg.ReviewReminderTime, cfg.Location, db, poster); err != nil {
		log.Fatalf("Review reminder error: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(manager, func(since time.Time) (domain.ClassificationStats, error) {
		return sqlite.GetClassificationStats(db, since)
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Starting case triage service on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
}
