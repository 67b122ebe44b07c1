package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oi-signals/internal/alerting"
	"oi-signals/internal/cache"
	"oi-signals/internal/config"
	"oi-signals/internal/fetcher"
	"oi-signals/internal/scheduler"
	"oi-signals/internal/service"
	"oi-signals/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		out:    os.Stdout,
	}
}

func (a *App) newMarket() (*fetcher.Market, error) {
	nse := a.Config.NSE
	return fetcher.NewMarket(fetcher.MarketOptions{
		BaseURL:           nse.BaseURL,
		UserAgent:         nse.UserAgent,
		Timeout:           nse.RequestTimeout,
		RequestsPerSecond: nse.RequestsPerSecond,
		Burst:             nse.Burst,
		IndexSymbols:      nse.IndexSymbols,
	}, a.Logger)
}

func (a *App) openCache(ctx context.Context) (cache.Store, error) {
	return cache.Open(ctx, a.Config.Cache)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.Config.Database.SubscriberQuery)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newSink falls back to the log sink when Telegram cannot be set up, so alert
// delivery problems never stop signal generation.
func (a *App) newSink() alerting.Sink {
	if a.Config.Alerting.Telegram.Enabled {
		sink, err := alerting.NewTelegramSink(a.Config.Alerting.Telegram, a.Logger)
		if err == nil {
			return sink
		}
		a.Logger.Warn().Err(err).Msg("telegram sink unavailable, alerts go to the log")
	}
	return alerting.NewLogSink(a.Logger)
}

func (a *App) newSubscribers(store *storage.Store) alerting.SubscriberSource {
	sources := alerting.MultiSource{alerting.StaticSubscribers(a.Config.Alerting.Subscribers)}
	if store != nil {
		sources = append(sources, store)
	}
	return sources
}

// newEngine returns nil when alerting is disabled.
func (a *App) newEngine(store cache.Store, sink alerting.Sink, subscribers alerting.SubscriberSource) *alerting.Engine {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	return alerting.NewEngine(store, sink, subscribers, alerting.Options{
		Thresholds: alerting.Thresholds{
			PCRHigh: decimal.NewFromFloat(a.Config.Alerting.PCRExtremeHigh),
			PCRLow:  decimal.NewFromFloat(a.Config.Alerting.PCRExtremeLow),
		},
		StateTTL:         a.Config.Cache.AlertStateTTL,
		OperationTimeout: a.Config.Cache.OperationTimeout,
	}, a.Logger)
}

func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Cron:         a.Config.Scheduler.Cron,
		Location:     a.Config.Location(),
	}, a.Logger)
}

// runtime bundles what the request-path commands share.
type runtime struct {
	svc   *service.Service
	close func()
}

// openRuntime wires a service against the live NSE client. sched may be nil.
// Without alerts no sink, subscriber store or engine is built.
func (a *App) openRuntime(ctx context.Context, sched *scheduler.Scheduler, alerts bool) (*runtime, error) {
	market, err := a.newMarket()
	if err != nil {
		return nil, err
	}

	store, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}

	var (
		db      *storage.Store
		closeDB func()
		engine  *alerting.Engine
		locker  storage.AdvisoryLocker
	)
	if alerts || sched != nil {
		db, closeDB, err = a.openStore(ctx)
		if err != nil {
			store.Close()
			return nil, err
		}
		if db == nil {
			a.Logger.Debug().Msg("database.dsn not configured; subscribers come from config only")
		} else {
			locker = db
		}
	}
	if alerts {
		engine = a.newEngine(store, a.newSink(), a.newSubscribers(db))
	}
	svc := service.New(a.Config, sched, market, market, store, engine, locker, a.Logger)

	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close cache")
		}
		if closeDB != nil {
			closeDB()
		}
	}
	return &runtime{svc: svc, close: closer}, nil
}

// requestAlerts reports whether a one-shot command may evaluate alerts. A
// process-local cache starts every invocation with blank alert state, which would
// re-announce a standing condition on each call.
func (a *App) requestAlerts() bool {
	if !a.Config.Alerting.Enabled {
		return false
	}
	if a.Config.Cache.Ephemeral() {
		a.Logger.Warn().
			Str("cache", a.Config.Cache.Backend).
			Msg("alert evaluation skipped: cache is process-local; configure redis to share alert state with run")
		return false
	}
	return true
}

// Run executes the long-running signal service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}

	rt, err := a.openRuntime(ctx, sched, a.Config.Alerting.Enabled)
	if err != nil {
		return err
	}
	defer rt.close()

	a.Logger.Info().
		Strs("symbols", a.Config.ResolveSymbols("")).
		Str("cache", a.Config.Cache.Backend).
		Bool("alerting", a.Config.Alerting.Enabled).
		Msg("starting signal service")
	err = rt.svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("signal service stopped")
	return nil
}

// SignalOptions configure the signal command.
type SignalOptions struct {
	Symbol  string
	Refresh bool
	JSON    bool
}

// AnalyticsOptions configure the analytics command.
type AnalyticsOptions struct {
	Symbol string
	Expiry string
	JSON   bool
}

// ImpactOptions configure the impact command.
type ImpactOptions struct {
	PNGPath string
	CSVPath string
	JSON    bool
}

// SimulateOptions configure the simulate-alert command.
type SimulateOptions struct {
	ChainPaths []string
	Symbol     string
	Expiry     string

	// Persist evaluates against the configured cache instead of a throwaway one,
	// so alert state carries over from the running service.
	Persist bool

	// Notify delivers fired alerts through the configured sink and subscribers.
	Notify bool
}
