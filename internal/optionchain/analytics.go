// Package optionchain derives open-interest analytics from a single-expiry option chain.
package optionchain

import (
	"github.com/shopspring/decimal"

	"oi-signals/internal/marketdata"
)

// RatioPlaces is the precision applied to put/call ratios.
const RatioPlaces = 6

// Analytics aggregates open interest across a single (symbol, expiry) chain.
type Analytics struct {
	TotalCallOI     int64               `json:"total_call_oi"`
	TotalPutOI      int64               `json:"total_put_oi"`
	PCR             decimal.NullDecimal `json:"pcr"`
	ChangeCallOI    int64               `json:"change_in_call_oi"`
	ChangePutOI     int64               `json:"change_in_put_oi"`
	ChangeOIPCR     decimal.NullDecimal `json:"change_oi_pcr"`
	Support         decimal.NullDecimal `json:"strongest_support"`
	Resistance      decimal.NullDecimal `json:"strongest_resistance"`
	MaxPain         decimal.NullDecimal `json:"max_pain"`
	UnderlyingValue decimal.NullDecimal `json:"underlying_value"`
}

// Compute derives analytics from rows. It never fails: an empty input yields zero
// totals and absent strikes, and the caller decides whether that is usable.
func Compute(rows []marketdata.OptionChainRow) Analytics {
	var a Analytics
	for _, row := range rows {
		a.TotalCallOI += row.CallOI
		a.TotalPutOI += row.PutOI
		a.ChangeCallOI += row.CallChangeOI
		a.ChangePutOI += row.PutChangeOI
	}

	a.PCR = Ratio(a.TotalPutOI, a.TotalCallOI)
	a.ChangeOIPCR = Ratio(a.ChangePutOI, a.ChangeCallOI)
	a.Support = strongestStrike(rows, func(r marketdata.OptionChainRow) int64 { return r.PutOI })
	a.Resistance = strongestStrike(rows, func(r marketdata.OptionChainRow) int64 { return r.CallOI })
	a.MaxPain = MaxPain(rows)
	return a
}

// Ratio returns numerator/denominator rounded to RatioPlaces, or an absent value
// when the denominator is zero.
func Ratio(numerator, denominator int64) decimal.NullDecimal {
	if denominator == 0 {
		return decimal.NullDecimal{}
	}
	value := decimal.NewFromInt(numerator).DivRound(decimal.NewFromInt(denominator), RatioPlaces)
	return decimal.NewNullDecimal(value)
}

// strongestStrike picks the strike with the highest open interest; the earliest row wins ties.
func strongestStrike(rows []marketdata.OptionChainRow, oi func(marketdata.OptionChainRow) int64) decimal.NullDecimal {
	if len(rows) == 0 {
		return decimal.NullDecimal{}
	}
	best := 0
	for i := 1; i < len(rows); i++ {
		if oi(rows[i]) > oi(rows[best]) {
			best = i
		}
	}
	return decimal.NewNullDecimal(rows[best].Strike)
}

// MaxPain returns the strike minimising aggregate option-writer payout. Every strike
// present in rows is a candidate; equal pain resolves to the smallest strike, which
// makes the result independent of row order.
func MaxPain(rows []marketdata.OptionChainRow) decimal.NullDecimal {
	if len(rows) == 0 {
		return decimal.NullDecimal{}
	}

	type leg struct {
		strike decimal.Decimal
		callOI decimal.Decimal
		putOI  decimal.Decimal
	}
	legs := make([]leg, len(rows))
	for i, row := range rows {
		legs[i] = leg{
			strike: row.Strike,
			callOI: decimal.NewFromInt(row.CallOI),
			putOI:  decimal.NewFromInt(row.PutOI),
		}
	}

	var (
		bestStrike decimal.Decimal
		bestPain   decimal.Decimal
		found      bool
	)
	for _, candidate := range legs {
		pain := decimal.Zero
		for _, l := range legs {
			if d := candidate.strike.Sub(l.strike); d.IsPositive() {
				pain = pain.Add(d.Mul(l.callOI))
			} else if d.IsNegative() {
				pain = pain.Sub(d.Mul(l.putOI))
			}
		}

		switch {
		case !found:
			found = true
		case pain.LessThan(bestPain):
		case pain.Equal(bestPain) && candidate.strike.LessThan(bestStrike):
		default:
			continue
		}
		bestStrike = candidate.strike
		bestPain = pain
	}
	return decimal.NewNullDecimal(bestStrike)
}
