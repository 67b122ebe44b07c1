package fetcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"oi-signals/internal/marketdata"
)

// ParseOptionChain maps an NSE option-chain payload onto typed rows. Rows without a
// numeric strike are dropped; missing or malformed OI fields count as zero.
func ParseOptionChain(symbol string, payload []byte, fetchedAt time.Time) (marketdata.OptionChain, error) {
	if !gjson.ValidBytes(payload) {
		return marketdata.OptionChain{}, fmt.Errorf("%w: option chain payload is not valid json", marketdata.ErrUpstreamUnavailable)
	}
	records := gjson.GetBytes(payload, "records")
	if !records.IsObject() {
		return marketdata.OptionChain{}, fmt.Errorf("%w: option chain payload has no records", marketdata.ErrUpstreamUnavailable)
	}

	chain := marketdata.OptionChain{
		Symbol:          symbol,
		UnderlyingValue: parseDecimal(records.Get("underlyingValue")),
		FetchedAt:       fetchedAt.UTC(),
	}
	for _, expiry := range records.Get("expiryDates").Array() {
		chain.ExpiryDates = append(chain.ExpiryDates, expiry.String())
	}

	records.Get("data").ForEach(func(_, item gjson.Result) bool {
		strike := parseDecimal(item.Get("strikePrice"))
		if !strike.Valid {
			return true
		}
		chain.Rows = append(chain.Rows, marketdata.OptionChainRow{
			Strike:       strike.Decimal,
			Expiry:       item.Get("expiryDate").String(),
			CallOI:       parseInt(item.Get("CE.openInterest")),
			CallChangeOI: parseInt(item.Get("CE.changeinOpenInterest")),
			PutOI:        parseInt(item.Get("PE.openInterest")),
			PutChangeOI:  parseInt(item.Get("PE.changeinOpenInterest")),
		})
		return true
	})
	return chain, nil
}

// ParseConstituents reads index weights. Entries without a symbol or weight, such
// as the index's own summary row, are skipped. A repeated symbol keeps its last value.
func ParseConstituents(payload []byte) ([]marketdata.Constituent, error) {
	data, err := indexData(payload)
	if err != nil {
		return nil, err
	}

	var out []marketdata.Constituent
	seen := make(map[string]int)
	data.ForEach(func(_, item gjson.Result) bool {
		symbol := marketdata.NormalizeSymbol(item.Get("symbol").String())
		weight := parseDecimal(item.Get("weightage"))
		if symbol == "" || !weight.Valid {
			return true
		}
		name := strings.TrimSpace(item.Get("meta.companyName").String())
		if name == "" {
			name = symbol
		}
		c := marketdata.Constituent{Symbol: symbol, CompanyName: name, Weight: weight.Decimal}
		if i, ok := seen[symbol]; ok {
			out[i] = c
			return true
		}
		seen[symbol] = len(out)
		out = append(out, c)
		return true
	})
	return out, nil
}

// ParseLivePrices reads last price and percent change per constituent. Entries
// missing either number are skipped.
func ParseLivePrices(payload []byte) ([]marketdata.LivePrice, error) {
	data, err := indexData(payload)
	if err != nil {
		return nil, err
	}

	var out []marketdata.LivePrice
	seen := make(map[string]int)
	data.ForEach(func(_, item gjson.Result) bool {
		symbol := marketdata.NormalizeSymbol(item.Get("symbol").String())
		last := parseDecimal(item.Get("lastPrice"))
		change := parseDecimal(item.Get("pChange"))
		if symbol == "" || !last.Valid || !change.Valid {
			return true
		}
		p := marketdata.LivePrice{Symbol: symbol, LastPrice: last.Decimal, PercentChange: change.Decimal}
		if i, ok := seen[symbol]; ok {
			out[i] = p
			return true
		}
		seen[symbol] = len(out)
		out = append(out, p)
		return true
	})
	return out, nil
}

func indexData(payload []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(payload) {
		return gjson.Result{}, fmt.Errorf("%w: index payload is not valid json", marketdata.ErrUpstreamUnavailable)
	}
	data := gjson.GetBytes(payload, "data")
	if !data.IsArray() {
		return gjson.Result{}, fmt.Errorf("%w: index payload has no data", marketdata.ErrUpstreamUnavailable)
	}
	return data, nil
}

// parseDecimal accepts JSON numbers and numeric strings with thousands separators.
// Empty strings and "-" are absent.
func parseDecimal(r gjson.Result) decimal.NullDecimal {
	var raw string
	switch r.Type {
	case gjson.Number:
		raw = r.Raw
	case gjson.String:
		raw = strings.TrimSpace(strings.ReplaceAll(r.Str, ",", ""))
		if raw == "" || raw == "-" {
			return decimal.NullDecimal{}
		}
	default:
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func parseInt(r gjson.Result) int64 {
	d := parseDecimal(r)
	if !d.Valid {
		return 0
	}
	return d.Decimal.IntPart()
}
