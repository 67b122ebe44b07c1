package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"oi-signals/internal/alerting"
	"oi-signals/internal/cache"
	"oi-signals/internal/config"
	"oi-signals/internal/fetcher"
	"oi-signals/internal/impact"
	"oi-signals/internal/marketdata"
	"oi-signals/internal/optionchain"
	"oi-signals/internal/scheduler"
	"oi-signals/internal/signal"
	"oi-signals/internal/storage"
)

// AnalyticsReport is option analytics for one symbol and expiry, as served and cached.
type AnalyticsReport struct {
	Symbol     string    `json:"symbol"`
	ExpiryDate string    `json:"expiry_date"`
	Timestamp  time.Time `json:"timestamp"`
	optionchain.Analytics
}

// Service orchestrates fetching, scoring, caching, and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	chains    fetcher.OptionChainFetcher
	index     fetcher.IndexFetcher
	store     cache.Store
	scorer    *signal.Scorer
	engine    *alerting.Engine
	locker    storage.AdvisoryLocker
	logger    zerolog.Logger

	symbols   []string
	indexName string
	ttl       cache.Config
	lockKey   int64
	now       func() time.Time
}

// New constructs the signal service. sched, index, engine and locker may be nil
// when the caller does not need the corresponding feature.
func New(cfg *config.Config, sched *scheduler.Scheduler, chains fetcher.OptionChainFetcher, index fetcher.IndexFetcher, store cache.Store, engine *alerting.Engine, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		chains:    chains,
		index:     index,
		store:     store,
		scorer:    signal.NewScorer(cfg.Signal.Weights),
		engine:    engine,
		locker:    locker,
		logger:    logger.With().Str("component", "service").Logger(),
		symbols:   cfg.ResolveSymbols(""),
		indexName: cfg.Signal.Index,
		ttl:       cfg.Cache.TTLs(),
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		now:       time.Now,
	}
}

// Run begins the scheduled evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 对所有配置的标的重新计算信号并评估告警。
func (s *Service) ProcessTick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	runID := uuid.NewString()
	logger := s.logger.With().Str("run_id", runID).Time("bucket", bucket).Logger()

	var errs []error
	for _, symbol := range s.symbols {
		result, err := s.RecomputeSignal(ctx, symbol)
		if err != nil {
			logger.Warn().Err(err).Str("symbol", symbol).Msg("signal generation failed")
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
			continue
		}
		logger.Info().Str("symbol", symbol).
			Int("score", result.Score).
			Str("classification", string(result.Classification)).
			Msg("signal recorded")
	}
	return errors.Join(errs...)
}

// GetAnalytics serves analytics for symbol and expiry from cache, computing on a
// miss. An empty expiry selects the nearest listed one.
func (s *Service) GetAnalytics(ctx context.Context, symbol, expiry string) (AnalyticsReport, error) {
	return s.analytics(ctx, symbol, expiry, true)
}

// analytics computes and caches the report; useCache=false always fetches.
func (s *Service) analytics(ctx context.Context, symbol, expiry string, useCache bool) (AnalyticsReport, error) {
	symbol = marketdata.NormalizeSymbol(symbol)
	if symbol == "" {
		return AnalyticsReport{}, fmt.Errorf("symbol is required")
	}

	key := cache.AnalyticsKey(symbol, expiry)
	var report AnalyticsReport
	if useCache && s.readCache(ctx, key, &report) {
		return report, nil
	}

	chain, err := s.chains.FetchOptionChain(ctx, symbol)
	if err != nil {
		return AnalyticsReport{}, upstream(fmt.Errorf("fetch option chain %s: %w", symbol, err))
	}

	report, err = Analyze(chain, expiry, s.now())
	if err != nil {
		return AnalyticsReport{}, err
	}
	s.writeCache(ctx, key, report, s.ttl.AnalyticsTTL)
	return report, nil
}

// Analyze computes the report for one expiry of chain. An empty expiry selects the
// nearest listed one.
func Analyze(chain marketdata.OptionChain, expiry string, now time.Time) (AnalyticsReport, error) {
	symbol := marketdata.NormalizeSymbol(chain.Symbol)
	selected := expiry
	if selected == "" {
		nearest, ok := chain.NearestExpiry()
		if !ok {
			return AnalyticsReport{}, fmt.Errorf("%w: no expiry listed for %s", marketdata.ErrUpstreamUnavailable, symbol)
		}
		selected = nearest
	}

	rows := chain.RowsFor(selected)
	if len(rows) == 0 {
		return AnalyticsReport{}, fmt.Errorf("%w: no option chain rows for %s expiring %s", marketdata.ErrDataAbsent, symbol, selected)
	}

	analytics := optionchain.Compute(rows)
	analytics.UnderlyingValue = chain.UnderlyingValue

	return AnalyticsReport{
		Symbol:     symbol,
		ExpiryDate: selected,
		Timestamp:  now.UTC(),
		Analytics:  analytics,
	}, nil
}

// GetLatestSignal serves the cached signal when fresh and generates one otherwise.
func (s *Service) GetLatestSignal(ctx context.Context, symbol string) (signal.Result, error) {
	symbol = marketdata.NormalizeSymbol(symbol)
	var result signal.Result
	if s.readCache(ctx, cache.SignalKey(symbol), &result) {
		return result, nil
	}
	return s.GenerateSignal(ctx, symbol)
}

// GenerateSignal always scores afresh, caches the result and evaluates alerts.
// Analytics are served from cache when fresh. Alert problems are logged and never
// fail the call.
func (s *Service) GenerateSignal(ctx context.Context, symbol string) (signal.Result, error) {
	return s.generate(ctx, symbol, true)
}

// RecomputeSignal is GenerateSignal on a freshly fetched option chain. Scheduler
// ticks use it so every tick scores current data.
func (s *Service) RecomputeSignal(ctx context.Context, symbol string) (signal.Result, error) {
	return s.generate(ctx, symbol, false)
}

func (s *Service) generate(ctx context.Context, symbol string, cachedAnalytics bool) (signal.Result, error) {
	report, err := s.analytics(ctx, symbol, "", cachedAnalytics)
	if err != nil {
		return signal.Result{}, err
	}

	result := s.scorer.Score(report.Symbol, report.Analytics, s.now())
	s.writeCache(ctx, cache.SignalKey(report.Symbol), result, s.ttl.SignalTTL)

	if s.engine != nil {
		s.engine.Evaluate(ctx, alerting.Input{
			Symbol:    report.Symbol,
			Signal:    result,
			Analytics: report.Analytics,
		})
	}
	return result, nil
}

// GetIndexImpact joins cached weights with cached live prices for the configured index.
func (s *Service) GetIndexImpact(ctx context.Context) (impact.Snapshot, error) {
	if s.index == nil {
		return impact.Snapshot{}, fmt.Errorf("index fetcher not configured")
	}

	var weights []marketdata.Constituent
	if !s.readCache(ctx, cache.IndexWeightsKey(s.indexName), &weights) {
		fetched, err := s.index.FetchConstituents(ctx, s.indexName)
		if err != nil {
			return impact.Snapshot{}, upstream(fmt.Errorf("fetch constituents %s: %w", s.indexName, err))
		}
		weights = fetched
		if len(weights) > 0 {
			s.writeCache(ctx, cache.IndexWeightsKey(s.indexName), weights, s.ttl.IndexWeightsTTL)
		}
	}

	var prices []marketdata.LivePrice
	if !s.readCache(ctx, cache.IndexLiveKey(s.indexName), &prices) {
		fetched, err := s.index.FetchLivePrices(ctx, s.indexName)
		if err != nil {
			return impact.Snapshot{}, upstream(fmt.Errorf("fetch live prices %s: %w", s.indexName, err))
		}
		prices = fetched
		if len(prices) > 0 {
			s.writeCache(ctx, cache.IndexLiveKey(s.indexName), prices, s.ttl.IndexLiveTTL)
		}
	}

	return impact.Compute(s.indexName, weights, prices)
}

// readCache treats every failure as a miss.
func (s *Service) readCache(ctx context.Context, key string, dst any) bool {
	ctx, cancel := s.cacheContext(ctx)
	defer cancel()
	ok, err := cache.GetJSON(ctx, s.store, key, dst)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, recomputing")
		return false
	}
	return ok
}

func (s *Service) writeCache(ctx context.Context, key string, value any, ttl time.Duration) {
	ctx, cancel := s.cacheContext(ctx)
	defer cancel()
	if err := cache.SetJSON(ctx, s.store, key, value, ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (s *Service) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.ttl.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.ttl.OperationTimeout)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// upstream keeps fetch failures classifiable even when a fetcher returns a bare error.
func upstream(err error) error {
	if errors.Is(err, marketdata.ErrUpstreamUnavailable) || errors.Is(err, marketdata.ErrDataAbsent) {
		return err
	}
	return fmt.Errorf("%w: %w", marketdata.ErrUpstreamUnavailable, err)
}
