package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"oi-signals/internal/marketdata"
)

const chainPayload = `{
  "records": {
    "expiryDates": ["26-Dec-2024", "02-Jan-2025"],
    "underlyingValue": 23587.5,
    "data": [
      {"strikePrice": 23500, "expiryDate": "26-Dec-2024",
       "CE": {"openInterest": 500, "changeinOpenInterest": -50},
       "PE": {"openInterest": 1000, "changeinOpenInterest": 200}},
      {"strikePrice": "23,600", "expiryDate": "26-Dec-2024",
       "CE": {"openInterest": "1,200", "changeinOpenInterest": 100}},
      {"strikePrice": "-", "expiryDate": "26-Dec-2024",
       "CE": {"openInterest": 9}},
      {"strikePrice": 23500, "expiryDate": "02-Jan-2025",
       "PE": {"openInterest": "n/a", "changeinOpenInterest": 5}}
    ]
  }
}`

const indexPayload = `{
  "name": "NIFTY 50",
  "data": [
    {"symbol": "NIFTY 50", "lastPrice": 23587.5, "pChange": -0.4},
    {"symbol": "reliance", "weightage": "10.12", "lastPrice": "1,234.50", "pChange": "-2.10",
     "meta": {"companyName": "Reliance Industries Limited"}},
    {"symbol": "TCS", "weightage": 4.2, "lastPrice": 4100, "pChange": "-"},
    {"symbol": "INFY", "weightage": 5.5, "lastPrice": 1900, "pChange": 1.25}
  ]
}`

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// nseStub issues a session cookie on HTML pages and requires it on API calls.
func nseStub(t *testing.T, apiHits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	page := func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "nsit", Value: "session", Path: "/"})
		_, _ = w.Write([]byte("<html></html>"))
	}
	mux.HandleFunc("/option-chain", page)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		page(w, r)
	})
	requireCookie := func(w http.ResponseWriter, r *http.Request) bool {
		atomic.AddInt32(apiHits, 1)
		if _, err := r.Cookie("nsit"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("User-Agent 应设置")
		}
		return true
	}
	mux.HandleFunc(optionIndicesPath, func(w http.ResponseWriter, r *http.Request) {
		if !requireCookie(w, r) {
			return
		}
		if r.URL.Query().Get("symbol") != "NIFTY" {
			t.Errorf("symbol = %q", r.URL.Query().Get("symbol"))
		}
		_, _ = w.Write([]byte(chainPayload))
	})
	mux.HandleFunc(optionEquitiesPath, func(w http.ResponseWriter, r *http.Request) {
		if !requireCookie(w, r) {
			return
		}
		_, _ = w.Write([]byte(`{"filtered": {}}`))
	})
	mux.HandleFunc(indexConstituentAPI, func(w http.ResponseWriter, r *http.Request) {
		if !requireCookie(w, r) {
			return
		}
		if r.URL.Query().Get("index") != "NIFTY 50" {
			t.Errorf("index = %q", r.URL.Query().Get("index"))
		}
		_, _ = w.Write([]byte(indexPayload))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestMarket(t *testing.T, baseURL string) *Market {
	t.Helper()
	m, err := NewMarket(MarketOptions{BaseURL: baseURL, Timeout: time.Second}, noopLogger())
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	return m
}

func TestFetchOptionChainIndex(t *testing.T) {
	var hits int32
	srv := nseStub(t, &hits)
	m := newTestMarket(t, srv.URL)

	chain, err := m.FetchOptionChain(context.Background(), " nifty ")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if chain.Symbol != "NIFTY" || len(chain.ExpiryDates) != 2 {
		t.Fatalf("chain metadata = %+v", chain)
	}
	if len(chain.Rows) != 3 {
		t.Fatalf("rows = %d, want 3 (non-numeric strike dropped)", len(chain.Rows))
	}
	if !chain.UnderlyingValue.Valid || chain.UnderlyingValue.Decimal.String() != "23587.5" {
		t.Fatalf("underlying = %+v", chain.UnderlyingValue)
	}

	second := chain.Rows[1]
	if second.Strike.String() != "23600" || second.CallOI != 1200 || second.PutOI != 0 || second.PutChangeOI != 0 {
		t.Fatalf("second row = %+v", second)
	}
	if last := chain.Rows[2]; last.PutOI != 0 || last.PutChangeOI != 5 || last.Expiry != "02-Jan-2025" {
		t.Fatalf("last row = %+v", last)
	}

	nearest, ok := chain.NearestExpiry()
	if !ok || nearest != "26-Dec-2024" || len(chain.RowsFor(nearest)) != 2 {
		t.Fatalf("nearest expiry = %q rows=%d", nearest, len(chain.RowsFor(nearest)))
	}
}

func TestFetchOptionChainEquityMissingRecords(t *testing.T) {
	var hits int32
	srv := nseStub(t, &hits)
	m := newTestMarket(t, srv.URL)

	_, err := m.FetchOptionChain(context.Background(), "RELIANCE")
	if !errors.Is(err, marketdata.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
	if hits != 1 {
		t.Fatalf("equity endpoint hits = %d", hits)
	}
}

func TestFetchHTTPErrorIsUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	m := newTestMarket(t, srv.URL)

	if _, err := m.FetchOptionChain(context.Background(), "NIFTY"); !errors.Is(err, marketdata.ErrUpstreamUnavailable) {
		t.Fatalf("HTTP 403 应返回 ErrUpstreamUnavailable, 实际 %v", err)
	}
	if _, err := m.FetchConstituents(context.Background(), "NIFTY 50"); !errors.Is(err, marketdata.ErrUpstreamUnavailable) {
		t.Fatalf("HTTP 403 应返回 ErrUpstreamUnavailable, 实际 %v", err)
	}
}

func TestFetchUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := newTestMarket(t, url)
	if _, err := m.FetchLivePrices(context.Background(), "NIFTY 50"); !errors.Is(err, marketdata.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestFetchConstituentsAndLivePrices(t *testing.T) {
	var hits int32
	srv := nseStub(t, &hits)
	m := newTestMarket(t, srv.URL)
	ctx := context.Background()

	weights, err := m.FetchConstituents(ctx, "NIFTY 50")
	if err != nil {
		t.Fatalf("constituents: %v", err)
	}
	if len(weights) != 3 {
		t.Fatalf("weights = %+v, want 3 members", weights)
	}
	if weights[0].Symbol != "RELIANCE" || weights[0].CompanyName != "Reliance Industries Limited" || weights[0].Weight.String() != "10.12" {
		t.Fatalf("first weight = %+v", weights[0])
	}
	if weights[1].CompanyName != "TCS" {
		t.Fatalf("company name should fall back to symbol, got %q", weights[1].CompanyName)
	}

	prices, err := m.FetchLivePrices(ctx, "NIFTY 50")
	if err != nil {
		t.Fatalf("live prices: %v", err)
	}
	if len(prices) != 3 {
		t.Fatalf("prices = %+v, want index row, RELIANCE and INFY", prices)
	}
	if prices[1].Symbol != "RELIANCE" || prices[1].LastPrice.String() != "1234.5" || prices[1].PercentChange.String() != "-2.1" {
		t.Fatalf("reliance price = %+v", prices[1])
	}
}

func TestParseRejectsInvalidPayloads(t *testing.T) {
	if _, err := ParseOptionChain("NIFTY", []byte("<html>"), time.Now()); !errors.Is(err, marketdata.ErrUpstreamUnavailable) {
		t.Fatalf("html payload: %v", err)
	}
	if _, err := ParseConstituents([]byte(`{"data": {}}`)); !errors.Is(err, marketdata.ErrUpstreamUnavailable) {
		t.Fatalf("object data: %v", err)
	}
	prices, err := ParseLivePrices([]byte(`{"data": []}`))
	if err != nil || len(prices) != 0 {
		t.Fatalf("empty data = %v, %v", prices, err)
	}
}
