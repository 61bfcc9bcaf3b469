package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ooni-anomaly-watch/internal/alerting"
	"ooni-anomaly-watch/internal/config"
	"ooni-anomaly-watch/internal/fetcher"
	"ooni-anomaly-watch/internal/scheduler"
	"ooni-anomaly-watch/internal/service"
	"ooni-anomaly-watch/internal/storage"
	"ooni-anomaly-watch/internal/watcher"
)

const stateDirName = ".ooniwatch"

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// StateDir resolves the directory holding the state file, log file, and
// other local data, defaulting to ~/.ooniwatch.
func (a *App) StateDir() (string, error) {
	if a.Config.Watcher.StateFile != "" {
		return filepath.Dir(a.Config.Watcher.StateFile), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, stateDirName), nil
}

func (a *App) statePath() (string, error) {
	if a.Config.Watcher.StateFile != "" {
		return a.Config.Watcher.StateFile, nil
	}
	dir, err := a.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.json"), nil
}

func (a *App) stateStore() (*watcher.FileStore, error) {
	path, err := a.statePath()
	if err != nil {
		return nil, err
	}
	return watcher.NewFileStore(path, a.Logger), nil
}

func (a *App) newFetcher() fetcher.Fetcher {
	ooni := a.Config.OONI
	if ooni.Mode == config.ModeAggregation {
		return fetcher.NewAggregation(fetcher.AggregationOptions{
			BaseURL:   ooni.BaseURL,
			Timeout:   ooni.RequestTimeout,
			UserAgent: ooni.UserAgent,
		}, a.Logger)
	}
	return fetcher.NewMeasurements(fetcher.MeasurementsOptions{
		BaseURL:   ooni.BaseURL,
		Timeout:   ooni.RequestTimeout,
		UserAgent: ooni.UserAgent,
		PageLimit: ooni.PageLimit,
		MaxPages:  ooni.MaxPages,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}

	var channels alerting.Fanout
	if email := a.Config.Alerting.Email; email.Enabled {
		channels = append(channels, alerting.NewEmailNotifier(alerting.EmailOptions{
			Host:     email.Host,
			Port:     email.Port,
			Username: email.Username,
			Password: email.Password,
			From:     email.From,
			To:       email.To,
		}, a.Logger))
	}
	if tg := a.Config.Alerting.Telegram; tg.Enabled {
		channels = append(channels, alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, 10*time.Second, a.Logger))
	}

	if len(channels) == 0 {
		return nil
	}
	return channels
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

func (a *App) newDetector(store watcher.StateStore, history *storage.Store) *service.Detector {
	var samples storage.RunSampleStore
	var alerts storage.AlertStore
	if history != nil {
		samples = history
		alerts = history
	}

	return service.New(service.Options{
		CountryCode: a.Config.OONI.CountryCode,
		TestName:    a.Config.OONI.TestName,
		LockKey:     a.Config.Scheduler.AdvisoryLockKey,
	}, a.newFetcher(), store, a.newNotifier(), samples, alerts, a.Logger)
}

// Run executes a single polling run over all monitored inputs.
func (a *App) Run(ctx context.Context) error {
	store, err := a.stateStore()
	if err != nil {
		return err
	}

	history, closeHistory, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if history == nil {
		a.Logger.Debug().Msg("database.dsn not configured; run history disabled")
	}
	if closeHistory != nil {
		defer closeHistory()
	}

	return a.newDetector(store, history).Run(ctx)
}

// Watch runs the polling cycle periodically until interrupted.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.stateStore()
	if err != nil {
		return err
	}

	history, closeHistory, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if history == nil {
		a.Logger.Warn().Msg("database.dsn not configured; run history disabled")
	}
	if closeHistory != nil {
		defer closeHistory()
	}

	detector := a.newDetector(store, history)

	// Aligning to the bucket waits for the next interval boundary instead
	// of running immediately, so restarts do not shift the cadence.
	delay := a.Config.Scheduler.StartupDelay
	if a.Config.Scheduler.AlignToBucket {
		now := time.Now().UTC()
		delay = now.Truncate(a.Config.Scheduler.Interval).Add(a.Config.Scheduler.Interval).Sub(now)
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: delay,
		RunOnStart:   true,
	}, a.Logger)

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting watch loop")
	err = sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		return detector.Run(ctx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch loop stopped")
	return nil
}
