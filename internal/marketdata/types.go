package marketdata

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OptionChainRow is one strike of an option chain for a single expiry.
type OptionChainRow struct {
	Strike       decimal.Decimal `json:"strike"`
	Expiry       string          `json:"expiry,omitempty"`
	CallOI       int64           `json:"call_oi"`
	CallChangeOI int64           `json:"call_change_oi"`
	PutOI        int64           `json:"put_oi"`
	PutChangeOI  int64           `json:"put_change_oi"`
}

// OptionChain is a parsed option-chain snapshot across all listed expiries.
type OptionChain struct {
	Symbol          string              `json:"symbol"`
	ExpiryDates     []string            `json:"expiry_dates"`
	Rows            []OptionChainRow    `json:"rows"`
	UnderlyingValue decimal.NullDecimal `json:"underlying_value"`
	FetchedAt       time.Time           `json:"fetched_at"`
}

// NearestExpiry returns the first listed expiry, which upstream orders ascending.
func (c OptionChain) NearestExpiry() (string, bool) {
	for _, expiry := range c.ExpiryDates {
		if strings.TrimSpace(expiry) != "" {
			return expiry, true
		}
	}
	return "", false
}

// RowsFor filters rows belonging to the given expiry, preserving input order.
func (c OptionChain) RowsFor(expiry string) []OptionChainRow {
	rows := make([]OptionChainRow, 0, len(c.Rows))
	for _, row := range c.Rows {
		if row.Expiry == expiry {
			rows = append(rows, row)
		}
	}
	return rows
}

// Constituent carries the slow-moving index weight of a member stock.
type Constituent struct {
	Symbol      string          `json:"symbol"`
	CompanyName string          `json:"company_name"`
	Weight      decimal.Decimal `json:"weight"`
}

// LivePrice carries the fast-moving quote of a member stock.
type LivePrice struct {
	Symbol        string          `json:"symbol"`
	LastPrice     decimal.Decimal `json:"last_price"`
	PercentChange decimal.Decimal `json:"percent_change"`
}

// NormalizeSymbol trims and upper-cases a ticker or index symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
