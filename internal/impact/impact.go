// Package impact attributes an index move to its weighted constituents.
package impact

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"oi-signals/internal/marketdata"
)

// TopDraggersLimit caps the number of negative contributors reported.
const TopDraggersLimit = 5

// ConstituentImpact is one member's contribution to the index move.
type ConstituentImpact struct {
	Symbol        string          `json:"symbol"`
	CompanyName   string          `json:"company_name"`
	Weight        decimal.Decimal `json:"weight"`
	LastPrice     decimal.Decimal `json:"last_price"`
	PercentChange decimal.Decimal `json:"percent_change"`
	Impact        decimal.Decimal `json:"impact"`
}

// Snapshot ranks constituents by impact, most negative first.
type Snapshot struct {
	Index        string              `json:"index"`
	TotalImpact  decimal.Decimal     `json:"total_impact"`
	TopDraggers  []ConstituentImpact `json:"top_draggers"`
	Constituents []ConstituentImpact `json:"constituents"`
}

// Compute joins weights with live prices by symbol and ranks the result. Members
// missing from either side are dropped. An empty side yields ErrUpstreamUnavailable
// and an empty join yields ErrDataAbsent, so a total outage is never reported as a
// flat index.
func Compute(index string, constituents []marketdata.Constituent, prices []marketdata.LivePrice) (Snapshot, error) {
	if len(constituents) == 0 {
		return Snapshot{}, fmt.Errorf("no constituent weights for %s: %w", index, marketdata.ErrUpstreamUnavailable)
	}
	if len(prices) == 0 {
		return Snapshot{}, fmt.Errorf("no live prices for %s: %w", index, marketdata.ErrUpstreamUnavailable)
	}

	bySymbol := make(map[string]marketdata.LivePrice, len(prices))
	for _, p := range prices {
		bySymbol[p.Symbol] = p
	}

	rows := make([]ConstituentImpact, 0, len(constituents))
	for _, c := range constituents {
		p, ok := bySymbol[c.Symbol]
		if !ok {
			continue
		}
		rows = append(rows, ConstituentImpact{
			Symbol:        c.Symbol,
			CompanyName:   c.CompanyName,
			Weight:        c.Weight,
			LastPrice:     p.LastPrice,
			PercentChange: p.PercentChange,
			Impact:        c.Weight.Mul(p.PercentChange),
		})
	}
	if len(rows) == 0 {
		return Snapshot{}, fmt.Errorf("no overlap between weights and live prices for %s: %w", index, marketdata.ErrDataAbsent)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Impact.LessThan(rows[j].Impact)
	})

	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Impact)
	}

	draggers := make([]ConstituentImpact, 0, TopDraggersLimit)
	for _, r := range rows {
		if len(draggers) == TopDraggersLimit || !r.Impact.IsNegative() {
			break
		}
		draggers = append(draggers, r)
	}

	return Snapshot{
		Index:        index,
		TotalImpact:  total,
		TopDraggers:  draggers,
		Constituents: rows,
	}, nil
}
