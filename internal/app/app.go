package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/config"
	"crypto-price-alerts/internal/fetcher"
	"crypto-price-alerts/internal/metrics"
	"crypto-price-alerts/internal/pricecache"
	"crypto-price-alerts/internal/schedule"
	"crypto-price-alerts/internal/scheduler"
	"crypto-price-alerts/internal/service"
	"crypto-price-alerts/internal/storage"
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

func (a *App) newMarketClient() *fetcher.Client {
	return fetcher.NewClient(fetcher.ClientOptions{
		BaseURL:      a.Config.Market.BaseURL,
		APIKey:       a.Config.Market.APIKey,
		Convert:      a.Config.Market.Convert,
		ListingLimit: a.Config.Market.CacheLimit,
		Sort:         a.Config.Market.Sort,
		SortDir:      a.Config.Market.SortDir,
		Timeout:      a.Config.Market.RequestTimeout,
		UserAgent:    a.Config.Market.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
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

func (a *App) buildSchedule() (schedule.DailySchedule, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return schedule.DailySchedule{}, err
	}
	return schedule.Generate(a.Config.Quota.MonthlyBudget, a.Config.Quota.DaysInMonth, a.Config.Quota.Windows, loc)
}

// Run executes the long-running polling service until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := a.buildSchedule()
	if err != nil {
		return err
	}
	a.Logger.Info().
		Int("daily_requests", sched.DailyRequests).
		Int("residual", sched.Residual).
		Int("slots", len(sched.Slots)).
		Msg("daily schedule generated")

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; rules, favorites, and audit disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	market := a.newMarketClient()
	cache := pricecache.New(market, a.Logger)
	notifier := a.newNotifier()
	recorder := metrics.New()

	svcOpts := service.Options{
		Cache:    cache,
		Quotes:   market,
		Notifier: notifier,
		Recorder: recorder,
		Convert:  a.Config.Market.Convert,
	}
	if store != nil {
		svcOpts.Rules = store
		svcOpts.Favorites = store
		svcOpts.Audit = store
		svcOpts.Locker = store
		svcOpts.LockKey = a.Config.Database.AdvisoryLockKey
	}
	svc := service.New(svcOpts, a.Logger)

	poller := scheduler.New(sched, svc.HandleSignal, scheduler.Options{
		SignalBuffer: a.Config.Quota.SignalBuffer,
	}, a.Logger)

	var metricsSrv *http.Server
	if a.Config.Metrics.Enabled {
		metricsSrv = a.startMetricsServer()
	}

	if err := poller.Start(); err != nil {
		return err
	}
	a.Logger.Info().Msg("polling service started")

	go a.drainSignals(ctx, poller.Signals())

	<-ctx.Done()

	a.Logger.Info().Msg("shutting down")
	poller.Stop(true)

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error().Err(err).Msg("metrics server shutdown failed")
		}
	}

	a.Logger.Info().Msg("polling service stopped")
	return nil
}

func (a *App) startMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              a.Config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger.Info().Str("listen", srv.Addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

func (a *App) drainSignals(ctx context.Context, signals <-chan scheduler.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			a.Logger.Debug().
				Time("scheduled", sig.ScheduledTime).
				Time("fired", sig.FiredTime).
				Dur("since_last", sig.SinceLast).
				Int("window", sig.WindowIndex).
				Msg("slot fired")
		}
	}
}

// ExportOptions hold parameters for exporting a historical price series.
type ExportOptions struct {
	Symbol     string
	Days       int
	VsCurrency string
	PNGPath    string
	CSVPath    string
}

// TopOptions configure the top command.
type TopOptions struct {
	Limit int
}

// AlertsOptions configure the alerts listing.
type AlertsOptions struct {
	Limit int
}
