// Command worker runs the reliability core: the webhook listener, the
// dispatch pool that processes admitted events, and the outbox delivery
// loop, all sharing one SQLite-backed ledger.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-chat-worker/internal/config"
	inhttp "github.com/tbourn/go-chat-worker/internal/http"
	"github.com/tbourn/go-chat-worker/internal/observability"
	"github.com/tbourn/go-chat-worker/internal/outbox"
	"github.com/tbourn/go-chat-worker/internal/provider"
	"github.com/tbourn/go-chat-worker/internal/replygen"
	"github.com/tbourn/go-chat-worker/internal/repo"
	"github.com/tbourn/go-chat-worker/internal/services"
	"github.com/tbourn/go-chat-worker/internal/sysutil"
)

const version = "1.0.0"

// dispatchWorkers is the size of the event-processing pool. Cross-user
// events run in parallel; same-user events serialize on the per-user lock.
const dispatchWorkers = 4

// queueDepth bounds events accepted but not yet dispatched; a full queue
// pushes back on the provider via 503.
const queueDepth = 256

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	// Logging
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	sysutil.SetLogLevel(cfg.LogLevel)

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = sysutil.DefaultWorkerID()
	}
	log.Info().Str("worker_id", workerID).Str("version", version).Msg("worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing
	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	// Reply generation, with reference vocabulary loaded once.
	gen := replygen.NewCLIGenerator(cfg.Reply.Command, cfg.Reply.Flags, cfg.Reply.Concurrency, cfg.Reply.Timeout)
	if terms, err := repo.ListIngredientTerms(ctx, db, ""); err != nil {
		log.Warn().Err(err).Msg("ingredient terms unavailable")
	} else {
		for _, t := range terms {
			gen.IngredientTerms = append(gen.IngredientTerms, t.Term)
		}
	}

	// Outbox delivery
	sender := provider.NewTelegramSender(cfg.Provider.BaseURL, cfg.Provider.Token, cfg.Provider.SendTimeout)
	limiter := rate.NewLimiter(rate.Limit(cfg.Provider.SendRPS), cfg.Provider.SendBurst)
	manager := outbox.NewManager(db, sender,
		cfg.Outbox.MaxAttempts,
		outbox.BackoffConfig{BaseDelay: cfg.Outbox.BaseDelay, MaxDelay: cfg.Outbox.MaxDelay},
		cfg.Outbox.Interval,
		cfg.Outbox.BatchSize,
		cfg.Provider.SendTimeout,
		limiter,
	)

	dispatcher := services.NewDispatcher(db, gen, manager, workerID, cfg.ClaimStaleAfter, cfg.ContextWindow)

	events := make(chan services.InboundEvent, queueDepth)

	// The pool runs on its own context so events already accepted are
	// drained to completion after the signal context is canceled. It is
	// only canceled when the shutdown budget runs out.
	procCtx, procCancel := context.WithCancel(context.Background())
	defer procCancel()

	var wg sync.WaitGroup
	for i := 0; i < dispatchWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range events {
				if err := dispatcher.HandleEvent(procCtx, ev); err != nil {
					log.Error().Err(err).Int64("event_id", ev.EventID).Msg("event handling error")
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		manager.Run(ctx)
	}()

	// Webhook listener
	router := inhttp.NewRouter(cfg, &inhttp.WebhookHandler{
		Secret: cfg.WebhookSecret,
		Events: events,
		DB:     db,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("path", cfg.WebhookPath).Msg("webhook listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("listener failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	// Stop accepting, drain the queue, then let the pool exit. The drain
	// shares the shutdown budget; past it, in-flight events are abandoned
	// and recovered later through the staleness reclaim.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("listener shutdown")
	}
	close(events)
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn().Msg("shutdown budget exceeded, abandoning in-flight events")
		procCancel()
		<-drained
	}

	if err := otelShutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("worker stopped")
}
