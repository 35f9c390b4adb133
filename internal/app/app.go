package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trade-guardian/internal/alerting"
	"trade-guardian/internal/config"
	"trade-guardian/internal/guard"
	"trade-guardian/internal/metrics"
	"trade-guardian/internal/orchestrator"
	"trade-guardian/internal/scheduler"
	"trade-guardian/internal/storage"
	"trade-guardian/internal/subscriber"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) orchestratorOptions() orchestrator.Options {
	cfg := a.Config.Guards

	bots := make(map[string]guard.Priority, len(a.Config.Bots))
	for _, bot := range a.Config.Bots {
		bots[bot.ID] = guard.Priority(bot.Priority)
	}

	return orchestrator.Options{
		Bots: bots,
		Mode: guard.ModeGuardOptions{
			FlapLimit: cfg.Mode.FlapCount,
			Window:    cfg.Mode.Window,
			Cooldown:  cfg.Mode.Cooldown,
			Dedupe:    cfg.DedupeEvents,
		},
		KillSwitch: guard.KillSwitchOptions{
			DailyLossPct: decimal.NewFromFloat(cfg.KillSwitch.DailyLossPct),
			Suspension:   cfg.KillSwitch.Suspend,
		},
		Latency: guard.LatencyGuardOptions{
			HighMillis:     cfg.Latency.HighMillis,
			ConsecutiveBad: cfg.Latency.Consecutive,
			RecoveryGood:   cfg.Latency.Recovery,
		},
		Slippage: guard.SlippageGuardOptions{
			PerTradePct:   decimal.NewFromFloat(cfg.Slippage.PerTradePct),
			Window:        cfg.Slippage.Window,
			TriggerCount:  cfg.Slippage.TriggerCount,
			Dedupe:        cfg.DedupeEvents,
			StatsSize:     cfg.Slippage.StatsSize,
			StatsFloorPct: cfg.Slippage.StatsFloorPct,
			SigmaMult:     cfg.Slippage.SigmaMult,
		},
	}
}

// Run executes the long-running guard service: subscriber feeding the
// orchestrator, sweeps surfacing lazy deadline expiries, alert dispatch and
// persistence off the hot path.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Config.Feed.URL == "" {
		return errors.New("feed.url not configured; nothing to supervise")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; guard state will not survive restarts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if store != nil && a.Config.Database.AdvisoryLockKey != 0 {
		unlock, acquired, lockErr := store.TryAdvisoryLock(ctx, a.Config.Database.AdvisoryLockKey)
		if lockErr != nil {
			return lockErr
		}
		if !acquired {
			return fmt.Errorf("advisory lock %d held elsewhere; is another guardian running?", a.Config.Database.AdvisoryLockKey)
		}
		defer unlock()
	}

	if a.Config.Metrics.Enabled {
		srv := metrics.Serve(a.Config.Metrics.Addr)
		a.Logger.Info().Str("addr", a.Config.Metrics.Addr).Msg("metrics endpoint up")
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	orch := orchestrator.New(a.orchestratorOptions(), a.Logger)
	if store != nil {
		orch.SetStore(store)
		orch.SetAudit(store)
		if err := orch.Restore(ctx); err != nil {
			// Degraded mode: continue from clean in-memory state.
			a.Logger.Warn().Err(err).Msg("could not restore persisted guard state")
		}
	}

	dispatcher := alerting.NewDispatcher(a.newNotifier(), alerting.DispatcherOptions{
		QueueSize: a.Config.Alerting.QueueSize,
		OnDrop:    func() { metrics.NotificationsDropped.Inc() },
	}, a.Logger)
	if a.Config.Alerting.Enabled {
		orch.SetSink(dispatcher)
	}

	go orch.Run(ctx)
	go dispatcher.Run(ctx)

	sweeper := scheduler.New(scheduler.Options{
		Interval:     a.Config.Sweep.Interval,
		StartupDelay: a.Config.Sweep.StartupDelay,
	}, a.Logger)
	go func() {
		_ = sweeper.Run(ctx, func(ctx context.Context, now time.Time) error {
			orch.Sweep(now)
			return nil
		})
	}()

	sub := subscriber.New(subscriber.Options{
		URL:              a.Config.Feed.URL,
		HandshakeTimeout: a.Config.Feed.HandshakeTimeout,
		ReconnectMin:     a.Config.Feed.ReconnectMin,
		ReconnectMax:     a.Config.Feed.ReconnectMax,
	}, orch, a.Logger)

	a.Logger.Info().Int("bots", len(a.Config.Bots)).Msg("starting guard service")
	err = sub.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("guard service terminated with error")
		return err
	}

	a.Logger.Info().Msg("guard service stopped")
	return nil
}

// ExportOptions hold parameters for exporting the transition audit log.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// PruneOptions configure audit-log retention.
type PruneOptions struct {
	OlderThan time.Duration
	DryRun    bool
}
