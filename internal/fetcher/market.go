package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"oi-signals/internal/marketdata"
)

const (
	optionChainPage     = "/option-chain"
	optionIndicesPath   = "/api/option-chain-indices"
	optionEquitiesPath  = "/api/option-chain-equities"
	indexConstituentAPI = "/api/equity-stockIndices"

	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
	maxPayloadBytes  = 32 << 20
)

// DefaultIndexSymbols are served by the index option-chain endpoint; everything
// else is treated as an equity.
var DefaultIndexSymbols = []string{"NIFTY", "BANKNIFTY", "FINNIFTY", "MIDCPNIFTY", "NIFTYNXT50"}

// MarketOptions parameterise the NSE client.
type MarketOptions struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	IndexSymbols      []string
}

// Market fetches option chains and index constituents from NSE. The site sets
// session cookies on its HTML pages, so every API call is preceded by a page visit
// on the same cookie jar.
type Market struct {
	opts    MarketOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	indices map[string]struct{}
	now     func() time.Time
}

// NewMarket constructs an NSE client.
func NewMarket(opts MarketOptions, logger zerolog.Logger) (*Market, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.nseindia.com"
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	symbols := opts.IndexSymbols
	if len(symbols) == 0 {
		symbols = DefaultIndexSymbols
	}
	indices := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		indices[marketdata.NormalizeSymbol(s)] = struct{}{}
	}

	return &Market{
		opts:    opts,
		logger:  logger.With().Str("component", "nse_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout, Jar: jar},
		limiter: rate.NewLimiter(limit, burst),
		baseURL: baseURL,
		indices: indices,
		now:     time.Now,
	}, nil
}

// FetchOptionChain returns the chain across every listed expiry.
func (m *Market) FetchOptionChain(ctx context.Context, symbol string) (marketdata.OptionChain, error) {
	symbol = marketdata.NormalizeSymbol(symbol)
	path := optionEquitiesPath
	if _, ok := m.indices[symbol]; ok {
		path = optionIndicesPath
	}

	m.warmUp(ctx, optionChainPage)
	payload, err := m.get(ctx, path, url.Values{"symbol": {symbol}}, optionChainPage)
	if err != nil {
		return marketdata.OptionChain{}, err
	}

	chain, err := ParseOptionChain(symbol, payload, m.now())
	if err != nil {
		return marketdata.OptionChain{}, err
	}
	m.logger.Debug().Str("symbol", symbol).Int("rows", len(chain.Rows)).Int("expiries", len(chain.ExpiryDates)).Msg("option chain fetched")
	return chain, nil
}

// FetchConstituents returns index weights.
func (m *Market) FetchConstituents(ctx context.Context, index string) ([]marketdata.Constituent, error) {
	payload, err := m.indexPayload(ctx, index)
	if err != nil {
		return nil, err
	}
	return ParseConstituents(payload)
}

// FetchLivePrices returns live quotes for index members.
func (m *Market) FetchLivePrices(ctx context.Context, index string) ([]marketdata.LivePrice, error) {
	payload, err := m.indexPayload(ctx, index)
	if err != nil {
		return nil, err
	}
	return ParseLivePrices(payload)
}

func (m *Market) indexPayload(ctx context.Context, index string) ([]byte, error) {
	m.warmUp(ctx, "/")
	return m.get(ctx, indexConstituentAPI, url.Values{"index": {strings.TrimSpace(index)}}, "/")
}

// warmUp visits an HTML page so the jar picks up session cookies. Failures are not
// fatal; the API call that follows reports the real problem.
func (m *Market) warmUp(ctx context.Context, page string) {
	if err := m.limiter.Wait(ctx); err != nil {
		return
	}
	req, err := m.newRequest(ctx, page, nil, "")
	if err != nil {
		return
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug().Err(err).Str("page", page).Msg("cookie warm-up failed")
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayloadBytes))
	resp.Body.Close()
}

func (m *Market) get(ctx context.Context, path string, query url.Values, referer string) ([]byte, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", marketdata.ErrUpstreamUnavailable, err)
	}
	req, err := m.newRequest(ctx, path, query, referer)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: nse %s: %v", marketdata.ErrUpstreamUnavailable, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read nse %s: %v", marketdata.ErrUpstreamUnavailable, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: nse %s returned %d", marketdata.ErrUpstreamUnavailable, path, resp.StatusCode)
	}
	return payload, nil
}

func (m *Market) newRequest(ctx context.Context, path string, query url.Values, referer string) (*http.Request, error) {
	endpoint := m.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create nse request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	if referer != "" {
		req.Header.Set("Referer", m.baseURL+referer)
	}
	return req, nil
}

var (
	_ OptionChainFetcher = (*Market)(nil)
	_ IndexFetcher       = (*Market)(nil)
)
