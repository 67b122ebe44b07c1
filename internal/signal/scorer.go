// Package signal turns option-chain analytics into a composite 0-100 sentiment score.
package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"oi-signals/internal/optionchain"
)

// Classification is the five-band reading of a composite score.
type Classification string

const (
	StrongBearish Classification = "Strong Bearish"
	Bearish       Classification = "Bearish"
	Neutral       Classification = "Neutral"
	Bullish       Classification = "Bullish"
	StrongBullish Classification = "Strong Bullish"
)

// Inclusive lower bounds of each band.
const (
	StrongBullishMin = 75
	BullishMin       = 60
	NeutralMin       = 40
	BearishMin       = 25
)

// NeutralScore is used for any sub-score whose inputs are absent or degenerate.
const NeutralScore = 50.0

// PCR step function thresholds, highest first.
var (
	PCRStrongBullish = decimal.RequireFromString("1.3")
	PCRBullish       = decimal.RequireFromString("1.1")
	PCRNeutral       = decimal.RequireFromString("0.95")
	PCRBearish       = decimal.RequireFromString("0.8")
)

// Weights blend the four sub-scores into the composite.
type Weights struct {
	PCR       float64 `mapstructure:"pcr"`
	ChangeOI  float64 `mapstructure:"change_oi"`
	Proximity float64 `mapstructure:"proximity"`
	Buildup   float64 `mapstructure:"buildup"`
}

// DefaultWeights are the production blend.
var DefaultWeights = Weights{PCR: 0.30, ChangeOI: 0.25, Proximity: 0.25, Buildup: 0.20}

// Validate rejects negative weights and blends that do not sum to one.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{"pcr": w.PCR, "change_oi": w.ChangeOI, "proximity": w.Proximity, "buildup": w.Buildup} {
		if v < 0 {
			return fmt.Errorf("weight %s cannot be negative", name)
		}
	}
	if sum := w.PCR + w.ChangeOI + w.Proximity + w.Buildup; math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("weights must sum to 1, got %g", sum)
	}
	return nil
}

// Components exposes the sub-scores behind a composite.
type Components struct {
	PCR       float64 `json:"pcr"`
	ChangeOI  float64 `json:"change_oi"`
	Proximity float64 `json:"proximity"`
	Buildup   float64 `json:"buildup"`
}

// Result is a scored, classified signal for one symbol.
type Result struct {
	Symbol         string         `json:"symbol"`
	Score          int            `json:"score"`
	Classification Classification `json:"classification"`
	GeneratedAt    time.Time      `json:"generated_at"`
	Components     Components     `json:"components"`
}

// Scorer is pure and safe for concurrent use.
type Scorer struct {
	weights Weights
}

// NewScorer builds a scorer; a zero Weights value selects DefaultWeights.
func NewScorer(weights Weights) *Scorer {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	return &Scorer{weights: weights}
}

// Score never fails; degraded inputs fall back to neutral sub-scores.
func (s *Scorer) Score(symbol string, a optionchain.Analytics, now time.Time) Result {
	c := Components{
		PCR:       PCRScore(a.PCR),
		ChangeOI:  ChangeOIScore(a.ChangePutOI, a.ChangeCallOI),
		Proximity: ProximityScore(a.UnderlyingValue, a.Support, a.Resistance),
		Buildup:   BuildupScore(a.ChangePutOI, a.ChangeCallOI, a.PCR),
	}
	score := s.Composite(c)
	return Result{
		Symbol:         symbol,
		Score:          score,
		Classification: Classify(score),
		GeneratedAt:    now.UTC(),
		Components:     c,
	}
}

// Composite blends sub-scores in decimal arithmetic and rounds half up, so 82.5
// becomes 83 regardless of binary floating-point representation.
func (s *Scorer) Composite(c Components) int {
	sum := weighted(c.PCR, s.weights.PCR).
		Add(weighted(c.ChangeOI, s.weights.ChangeOI)).
		Add(weighted(c.Proximity, s.weights.Proximity)).
		Add(weighted(c.Buildup, s.weights.Buildup))

	score := int(sum.Round(0).IntPart())
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

func weighted(score, weight float64) decimal.Decimal {
	return decimal.NewFromFloat(score).Mul(decimal.NewFromFloat(weight))
}

// Classify maps a score to its band. Bands are contiguous over every integer.
func Classify(score int) Classification {
	switch {
	case score >= StrongBullishMin:
		return StrongBullish
	case score >= BullishMin:
		return Bullish
	case score >= NeutralMin:
		return Neutral
	case score >= BearishMin:
		return Bearish
	default:
		return StrongBearish
	}
}

// PCRScore is a step function on the put/call ratio.
func PCRScore(pcr decimal.NullDecimal) float64 {
	if !pcr.Valid {
		return NeutralScore
	}
	switch v := pcr.Decimal; {
	case v.GreaterThanOrEqual(PCRStrongBullish):
		return 90
	case v.GreaterThanOrEqual(PCRBullish):
		return 80
	case v.GreaterThanOrEqual(PCRNeutral):
		return 60
	case v.GreaterThanOrEqual(PCRBearish):
		return 40
	default:
		return 20
	}
}

// ChangeOIScore rewards put writing over call writing on the session.
func ChangeOIScore(putChange, callChange int64) float64 {
	magnitude := absInt(putChange) + absInt(callChange)
	if magnitude == 0 {
		return NeutralScore
	}
	ratio := float64(putChange-callChange) / float64(magnitude)
	return clamp(NeutralScore + ratio*50)
}

// ProximityScore is bullish when price sits nearer support than resistance.
func ProximityScore(underlying, support, resistance decimal.NullDecimal) float64 {
	if !underlying.Valid || !support.Valid || !resistance.Valid {
		return NeutralScore
	}
	if support.Decimal.GreaterThanOrEqual(resistance.Decimal) || !underlying.Decimal.IsPositive() {
		return NeutralScore
	}

	u := underlying.Decimal.InexactFloat64()
	supportDistance := math.Max(0, (u-support.Decimal.InexactFloat64())/u)
	resistanceDistance := math.Max(0, (resistance.Decimal.InexactFloat64()-u)/u)
	total := supportDistance + resistanceDistance
	if total == 0 {
		return NeutralScore
	}
	bias := (resistanceDistance - supportDistance) / total
	return clamp(NeutralScore + bias*50)
}

// BuildupScore reads the sign pattern of put and call OI changes.
func BuildupScore(putChange, callChange int64, pcr decimal.NullDecimal) float64 {
	switch {
	case putChange > 0 && callChange < 0:
		return 90
	case putChange > 0 && callChange > 0:
		if !pcr.Valid || pcr.Decimal.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return 70
		}
		return 55
	case putChange < 0 && callChange > 0:
		return 15
	case putChange < 0 && callChange < 0:
		return 45
	default:
		return NeutralScore
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
