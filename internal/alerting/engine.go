// Package alerting evaluates edge-triggered alerts for a freshly scored symbol and
// fans the resulting messages out to subscribers.
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oi-signals/internal/cache"
	"oi-signals/internal/optionchain"
	"oi-signals/internal/signal"
)

// Kind names one alert rule. It is also the suffix of the rule's state key.
type Kind string

const (
	KindClassificationChange Kind = "classification_change"
	KindPCRExtreme           Kind = "pcr_extreme"
	KindSupportBreak         Kind = "support_break"
	KindResistanceBreak      Kind = "resistance_break"
)

const (
	flagOn  = "1"
	flagOff = "0"
)

// Thresholds bound the PCR extreme rule. Both ends are inclusive.
type Thresholds struct {
	PCRHigh decimal.Decimal
	PCRLow  decimal.Decimal
}

var DefaultThresholds = Thresholds{
	PCRHigh: decimal.RequireFromString("1.3"),
	PCRLow:  decimal.RequireFromString("0.7"),
}

// Input is one freshly computed signal with the analytics behind it.
type Input struct {
	Symbol    string
	Signal    signal.Result
	Analytics optionchain.Analytics
}

// Alert is a transition detected during evaluation.
type Alert struct {
	Kind       Kind
	Symbol     string
	Text       string
	Recipients int
}

// Options tune an Engine. Zero values select defaults.
type Options struct {
	Thresholds       Thresholds
	StateTTL         time.Duration
	OperationTimeout time.Duration
}

// Engine owns the per-symbol alert state kept in the cache.
type Engine struct {
	store       cache.Store
	sink        Sink
	subscribers SubscriberSource
	thresholds  Thresholds
	stateTTL    time.Duration
	opTimeout   time.Duration
	logger      zerolog.Logger
}

func NewEngine(store cache.Store, sink Sink, subscribers SubscriberSource, opts Options, logger zerolog.Logger) *Engine {
	th := opts.Thresholds
	if th.PCRHigh.IsZero() && th.PCRLow.IsZero() {
		th = DefaultThresholds
	}
	return &Engine{
		store:       store,
		sink:        sink,
		subscribers: subscribers,
		thresholds:  th,
		stateTTL:    opts.StateTTL,
		opTimeout:   opts.OperationTimeout,
		logger:      logger.With().Str("component", "alert_engine").Logger(),
	}
}

// Evaluate runs every rule once for in.Symbol and returns the alerts that fired.
// Each rule reads its stored state, compares, dispatches on a transition and then
// writes the new state. Rules are independent; a cache failure in one does not
// stop the others.
func (e *Engine) Evaluate(ctx context.Context, in Input) []Alert {
	recipients, err := e.subscribers.ListSubscriberIDs(ctx)
	if err != nil {
		e.logger.Error().Err(err).Str("symbol", in.Symbol).Msg("subscriber lookup failed, alerts skipped this tick")
		return nil
	}

	var fired []Alert
	collect := func(a *Alert) {
		if a == nil {
			return
		}
		a.Recipients = len(recipients)
		if len(recipients) > 0 {
			e.sink.SendBulk(ctx, recipients, a.Text)
		}
		fired = append(fired, *a)
	}

	collect(e.classificationChange(ctx, in))
	collect(e.pcrExtreme(ctx, in))

	a := in.Analytics
	if a.UnderlyingValue.Valid && a.Support.Valid {
		u, s := a.UnderlyingValue.Decimal, a.Support.Decimal
		collect(e.edge(ctx, in.Symbol, KindSupportBreak, u.LessThan(s), func() string {
			return fmt.Sprintf("🔻 Support Break for %s\nUnderlying: %s\nSupport: %s", in.Symbol, u, s)
		}))
	}
	if a.UnderlyingValue.Valid && a.Resistance.Valid {
		u, r := a.UnderlyingValue.Decimal, a.Resistance.Decimal
		collect(e.edge(ctx, in.Symbol, KindResistanceBreak, u.GreaterThan(r), func() string {
			return fmt.Sprintf("🚀 Resistance Break for %s\nUnderlying: %s\nResistance: %s", in.Symbol, u, r)
		}))
	}

	for _, f := range fired {
		e.logger.Info().Str("symbol", f.Symbol).Str("kind", string(f.Kind)).Int("recipients", f.Recipients).Msg("alert fired")
	}
	return fired
}

// classificationChange stores the level, not an edge flag, so the first sighting of
// a symbol never fires.
func (e *Engine) classificationChange(ctx context.Context, in Input) *Alert {
	key := cache.ClassificationKey(in.Symbol)
	current := string(in.Signal.Classification)

	previous, ok, err := e.read(ctx, key)
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("read alert state failed, rule skipped")
		return nil
	}

	var alert *Alert
	if ok && previous != current {
		alert = &Alert{
			Kind:   KindClassificationChange,
			Symbol: in.Symbol,
			Text: fmt.Sprintf("📈 Trading Signal Changed for %s\nPrevious: %s\nCurrent: %s\nScore: %d",
				in.Symbol, previous, current, in.Signal.Score),
		}
	}
	e.write(ctx, key, current)
	return alert
}

func (e *Engine) pcrExtreme(ctx context.Context, in Input) *Alert {
	pcr := in.Analytics.PCR
	extreme := pcr.Valid && (pcr.Decimal.GreaterThanOrEqual(e.thresholds.PCRHigh) || pcr.Decimal.LessThanOrEqual(e.thresholds.PCRLow))
	return e.edge(ctx, in.Symbol, KindPCRExtreme, extreme, func() string {
		state := "Bearish Extreme"
		if pcr.Decimal.GreaterThanOrEqual(e.thresholds.PCRHigh) {
			state = "Bullish Extreme"
		}
		return fmt.Sprintf("⚠️ PCR Extreme for %s\nPCR: %s\nState: %s", in.Symbol, pcr.Decimal, state)
	})
}

// edge fires when active turns true against a stored false or missing flag. The
// flag is always rewritten with the new value.
func (e *Engine) edge(ctx context.Context, symbol string, kind Kind, active bool, render func() string) *Alert {
	key := cache.AlertStateKey(symbol, string(kind))

	stored, _, err := e.read(ctx, key)
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("read alert state failed, rule skipped")
		return nil
	}

	var alert *Alert
	if active && stored != flagOn {
		alert = &Alert{Kind: kind, Symbol: symbol, Text: render()}
	}

	next := flagOff
	if active {
		next = flagOn
	}
	e.write(ctx, key, next)
	return alert
}

func (e *Engine) read(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	raw, ok, err := e.store.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	return string(raw), true, nil
}

func (e *Engine) write(ctx context.Context, key, value string) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	if err := e.store.Set(ctx, key, []byte(value), e.stateTTL); err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("write alert state failed")
	}
}

func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opTimeout)
}
