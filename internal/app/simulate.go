package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"oi-signals/internal/alerting"
	"oi-signals/internal/cache"
	"oi-signals/internal/fetcher"
	"oi-signals/internal/service"
	"oi-signals/internal/signal"
	"oi-signals/internal/storage"
)

// SimulateAlert 依次回放保存的期权链 JSON，每个文件视为一次 tick，打印评分与触发的告警。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if len(opts.ChainPaths) == 0 {
		return errors.New("至少需要一个 --chain 文件")
	}
	symbols := a.Config.ResolveSymbols(opts.Symbol)
	if len(symbols) == 0 {
		return errors.New("no symbol given and none configured")
	}
	symbol := symbols[0]

	store, err := a.simulationCache(ctx, opts.Persist)
	if err != nil {
		return err
	}
	defer store.Close()

	var sink alerting.Sink = alerting.NewLogSink(a.Logger)
	var subscribers alerting.SubscriberSource = alerting.StaticSubscribers(nil)
	if opts.Notify {
		var db *storage.Store
		var closeDB func()
		db, closeDB, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if closeDB != nil {
			defer closeDB()
		}
		sink = a.newSink()
		subscribers = a.newSubscribers(db)
	}

	engine := a.newEngine(store, sink, subscribers)
	scorer := signal.NewScorer(a.Config.Signal.Weights)

	for i, path := range opts.ChainPaths {
		payload, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read chain %s: %w", path, err)
		}
		now := time.Now()
		chain, err := fetcher.ParseOptionChain(symbol, payload, now)
		if err != nil {
			return fmt.Errorf("parse chain %s: %w", path, err)
		}
		report, err := service.Analyze(chain, opts.Expiry, now)
		if err != nil {
			return fmt.Errorf("analyze chain %s: %w", path, err)
		}

		result := scorer.Score(report.Symbol, report.Analytics, now)
		fired := engine.Evaluate(ctx, alerting.Input{
			Symbol:    report.Symbol,
			Signal:    result,
			Analytics: report.Analytics,
		})

		fmt.Fprintf(a.out, "tick %d %s: %s score=%d classification=%s pcr=%s underlying=%s\n",
			i+1, path, report.Symbol, result.Score, result.Classification,
			formatNull(report.PCR, 4), formatNull(report.UnderlyingValue, 2))
		for _, alert := range fired {
			fmt.Fprintf(a.out, "  [%s] recipients=%d\n", alert.Kind, alert.Recipients)
			fmt.Fprintf(a.out, "    %s\n", sanitizeInline(alert.Text))
		}
	}
	return nil
}

// simulationCache isolates alert state unless persist asks for the shared cache.
func (a *App) simulationCache(ctx context.Context, persist bool) (cache.Store, error) {
	if persist {
		return a.openCache(ctx)
	}
	return cache.OpenBadger("")
}
