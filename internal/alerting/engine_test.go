package alerting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oi-signals/internal/cache"
	"oi-signals/internal/signal"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []string
	targets  [][]string
}

func (s *recordingSink) SendBulk(_ context.Context, recipients []string, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
	s.targets = append(s.targets, recipients)
}

type failingSubscribers struct{}

func (failingSubscribers) ListSubscriberIDs(context.Context) ([]string, error) {
	return nil, errors.New("db down")
}

// flakyStore fails Get for keys containing failOn.
type flakyStore struct {
	cache.Store
	failOn string
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.failOn != "" && strings.Contains(key, f.failOn) {
		return nil, false, errors.New("timeout")
	}
	return f.Store.Get(ctx, key)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func newStore(t *testing.T) cache.Store {
	t.Helper()
	s, err := cache.OpenBadger("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestEngine(t *testing.T, store cache.Store, subs SubscriberSource) (*Engine, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	return NewEngine(store, sink, subs, Options{OperationTimeout: time.Second}, zerolog.Nop()), sink
}

func signalInput(class signal.Classification, score int) Input {
	return Input{
		Symbol: "NIFTY",
		Signal: signal.Result{Symbol: "NIFTY", Score: score, Classification: class},
	}
}

func kinds(alerts []Alert) []Kind {
	out := make([]Kind, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Kind)
	}
	return out
}

func TestClassificationChangeFiresOnTransitionOnly(t *testing.T) {
	ctx := context.Background()
	engine, sink := newTestEngine(t, newStore(t), StaticSubscribers{"101", "102"})

	if got := engine.Evaluate(ctx, signalInput(signal.Neutral, 50)); len(got) != 0 {
		t.Fatalf("first evaluation fired %v", kinds(got))
	}
	got := engine.Evaluate(ctx, signalInput(signal.Bullish, 65))
	if len(got) != 1 || got[0].Kind != KindClassificationChange {
		t.Fatalf("second evaluation = %v, want one classification change", kinds(got))
	}
	if got := engine.Evaluate(ctx, signalInput(signal.Bullish, 66)); len(got) != 0 {
		t.Fatalf("unchanged classification re-fired: %v", kinds(got))
	}

	if len(sink.messages) != 1 {
		t.Fatalf("sink received %d messages, want 1", len(sink.messages))
	}
	want := "📈 Trading Signal Changed for NIFTY\nPrevious: Neutral\nCurrent: Bullish\nScore: 65"
	if sink.messages[0] != want {
		t.Fatalf("message = %q, want %q", sink.messages[0], want)
	}
	if len(sink.targets[0]) != 2 {
		t.Fatalf("recipients = %v", sink.targets[0])
	}
}

func TestPCRExtremeIsEdgeTriggered(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	engine, sink := newTestEngine(t, store, StaticSubscribers{"1"})

	sequence := []struct {
		pcr   string
		fires bool
	}{
		{"1.0", false},
		{"1.4", true},
		{"1.4", false},
		{"1.0", false},
		{"1.4", true},
		{"0.7", false},
		{"0.9", false},
		{"0.5", true},
	}
	for i, step := range sequence {
		in := signalInput(signal.Neutral, 50)
		in.Analytics.PCR = nd(step.pcr)
		fired := engine.Evaluate(ctx, in)
		gotFire := len(fired) == 1 && fired[0].Kind == KindPCRExtreme
		if gotFire != step.fires || len(fired) > 1 {
			t.Fatalf("step %d (pcr=%s): fired %v, want fire=%v", i, step.pcr, kinds(fired), step.fires)
		}
	}

	if !strings.Contains(sink.messages[0], "State: Bullish Extreme") || !strings.Contains(sink.messages[0], "PCR: 1.4") {
		t.Fatalf("unexpected message: %q", sink.messages[0])
	}
	if !strings.Contains(sink.messages[2], "State: Bearish Extreme") {
		t.Fatalf("unexpected message: %q", sink.messages[2])
	}
}

func TestAbsentPCRClearsFlag(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	engine, _ := newTestEngine(t, store, StaticSubscribers{"1"})

	in := signalInput(signal.Neutral, 50)
	in.Analytics.PCR = nd("1.5")
	engine.Evaluate(ctx, in)

	in.Analytics.PCR = decimal.NullDecimal{}
	if got := engine.Evaluate(ctx, in); len(got) != 0 {
		t.Fatalf("absent pcr fired %v", kinds(got))
	}
	raw, ok, err := store.Get(ctx, cache.AlertStateKey("NIFTY", string(KindPCRExtreme)))
	if err != nil || !ok || string(raw) != "0" {
		t.Fatalf("flag = %q ok=%v err=%v, want 0", raw, ok, err)
	}

	in.Analytics.PCR = nd("1.5")
	if got := engine.Evaluate(ctx, in); len(got) != 1 {
		t.Fatalf("pcr returning to extreme should fire, got %v", kinds(got))
	}
}

func TestSupportAndResistanceBreaks(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	engine, sink := newTestEngine(t, store, StaticSubscribers{"1"})

	step := func(underlying string) []Kind {
		in := signalInput(signal.Neutral, 50)
		in.Analytics.Support = nd("100")
		in.Analytics.Resistance = nd("110")
		in.Analytics.UnderlyingValue = nd(underlying)
		return kinds(engine.Evaluate(ctx, in))
	}

	if got := step("105"); len(got) != 0 {
		t.Fatalf("inside range fired %v", got)
	}
	if got := step("99"); len(got) != 1 || got[0] != KindSupportBreak {
		t.Fatalf("below support = %v", got)
	}
	if got := step("98"); len(got) != 0 {
		t.Fatalf("still below support re-fired %v", got)
	}
	if got := step("111"); len(got) != 1 || got[0] != KindResistanceBreak {
		t.Fatalf("above resistance = %v", got)
	}
	if got := step("99"); len(got) != 1 || got[0] != KindSupportBreak {
		t.Fatalf("second support break = %v", got)
	}

	if sink.messages[0] != "🔻 Support Break for NIFTY\nUnderlying: 99\nSupport: 100" {
		t.Fatalf("support message = %q", sink.messages[0])
	}
	if sink.messages[1] != "🚀 Resistance Break for NIFTY\nUnderlying: 111\nResistance: 110" {
		t.Fatalf("resistance message = %q", sink.messages[1])
	}
}

func TestBreakFlagsUntouchedWhenInputsAbsent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	engine, _ := newTestEngine(t, store, StaticSubscribers{"1"})

	in := signalInput(signal.Neutral, 50)
	in.Analytics.Support = nd("100")
	in.Analytics.UnderlyingValue = nd("90")
	engine.Evaluate(ctx, in)

	in.Analytics.UnderlyingValue = decimal.NullDecimal{}
	engine.Evaluate(ctx, in)

	raw, ok, err := store.Get(ctx, cache.AlertStateKey("NIFTY", string(KindSupportBreak)))
	if err != nil || !ok || string(raw) != "1" {
		t.Fatalf("support flag = %q ok=%v err=%v, want untouched 1", raw, ok, err)
	}
	if _, ok, _ := store.Get(ctx, cache.AlertStateKey("NIFTY", string(KindResistanceBreak))); ok {
		t.Fatal("resistance flag written without a resistance level")
	}

	in.Analytics.UnderlyingValue = nd("89")
	if got := engine.Evaluate(ctx, in); len(got) != 0 {
		t.Fatalf("break persisted across a gap should not re-fire: %v", kinds(got))
	}
}

func TestSubscriberFailureSkipsEvaluation(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	engine, sink := newTestEngine(t, store, failingSubscribers{})

	in := signalInput(signal.Bullish, 70)
	in.Analytics.PCR = nd("2")
	if got := engine.Evaluate(ctx, in); got != nil {
		t.Fatalf("evaluation should be skipped, got %v", kinds(got))
	}
	if _, ok, _ := store.Get(ctx, cache.ClassificationKey("NIFTY")); ok {
		t.Fatal("state written despite skipped evaluation")
	}
	if len(sink.messages) != 0 {
		t.Fatalf("messages sent: %v", sink.messages)
	}
}

func TestNoSubscribersStillTracksState(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	engine, sink := newTestEngine(t, store, StaticSubscribers{})

	in := signalInput(signal.Neutral, 50)
	in.Analytics.PCR = nd("1.5")
	got := engine.Evaluate(ctx, in)
	if len(got) != 1 || got[0].Recipients != 0 {
		t.Fatalf("alerts = %+v, want one with no recipients", got)
	}
	if len(sink.messages) != 0 {
		t.Fatalf("sink called without recipients: %v", sink.messages)
	}
	raw, _, _ := store.Get(ctx, cache.ClassificationKey("NIFTY"))
	if string(raw) != string(signal.Neutral) {
		t.Fatalf("classification state = %q", raw)
	}
}

func TestCacheReadFailureSkipsOnlyThatRule(t *testing.T) {
	ctx := context.Background()
	base := newStore(t)
	store := &flakyStore{Store: base, failOn: string(KindPCRExtreme)}
	engine, _ := newTestEngine(t, store, StaticSubscribers{"1"})

	engine.Evaluate(ctx, signalInput(signal.Neutral, 50))

	in := signalInput(signal.Bearish, 30)
	in.Analytics.PCR = nd("2")
	got := engine.Evaluate(ctx, in)
	if len(got) != 1 || got[0].Kind != KindClassificationChange {
		t.Fatalf("alerts = %v, want only classification change", kinds(got))
	}
	if _, ok, _ := base.Get(ctx, cache.AlertStateKey("NIFTY", string(KindPCRExtreme))); ok {
		t.Fatal("skipped rule wrote its flag")
	}

	store.failOn = ""
	if got := engine.Evaluate(ctx, in); len(got) != 1 || got[0].Kind != KindPCRExtreme {
		t.Fatalf("recovered store should detect the pending transition, got %v", kinds(got))
	}
}

func TestMultiSourceDeduplicates(t *testing.T) {
	src := MultiSource{StaticSubscribers{"1", " 2 ", ""}, StaticSubscribers{"2", "3"}}
	ids, err := src.ListSubscriberIDs(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Join(ids, ",") != "1,2,3" {
		t.Fatalf("ids = %v", ids)
	}
	if _, err := (MultiSource{StaticSubscribers{"1"}, failingSubscribers{}}).ListSubscriberIDs(context.Background()); err == nil {
		t.Fatal("failing source should fail the lookup")
	}
}
