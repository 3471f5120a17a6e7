// Package deribit implements the market-data source over the exchange's
// public REST API.
//
// All calls share one token-paced limiter, which is the collector's only
// backpressure against the upstream API: the fetch loop is sequential and
// blocking by design, with no adaptive retry.
package deribit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xtxerr/oitrack/internal/errors"
	"github.com/xtxerr/oitrack/internal/storage"
)

// DefaultBaseURL is the exchange's public API root.
const DefaultBaseURL = "https://www.deribit.com/api/v2"

// Client provides access to the exchange's public REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:  slog.Default(),
		limiter: rate.NewLimiter(rate.Limit(20), 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the request pacing in calls per second.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// SpotPrice fetches the current index price for an asset.
func (c *Client) SpotPrice(ctx context.Context, asset string) (float64, error) {
	query := url.Values{}
	query.Set("index_name", strings.ToLower(asset)+"_usd")

	var result indexPriceResult
	if err := c.get(ctx, "/public/get_index_price", query, &result); err != nil {
		return 0, errors.Wrapf(errors.ErrNoSpotPrice, "%s: %v", asset, err)
	}
	if result.IndexPrice <= 0 {
		return 0, errors.Wrapf(errors.ErrNoSpotPrice, "%s: index price %v", asset, result.IndexPrice)
	}

	return result.IndexPrice, nil
}

// ListedExpiries returns every listed option expiry code for an asset with
// the aggregate open interest summed across the instruments sharing it.
func (c *Client) ListedExpiries(ctx context.Context, asset string) (map[string]float64, error) {
	query := url.Values{}
	query.Set("currency", strings.ToUpper(asset))
	query.Set("kind", "option")

	var summaries []bookSummary
	if err := c.get(ctx, "/public/get_book_summary_by_currency", query, &summaries); err != nil {
		return nil, errors.Wrapf(errors.ErrNoListedExpiries, "%s: %v", asset, err)
	}

	listed := make(map[string]float64)
	for _, s := range summaries {
		code, ok := expiryCodeOf(s.InstrumentName)
		if !ok {
			continue
		}
		listed[code] += s.OpenInterest
	}

	if len(listed) == 0 {
		return nil, errors.Wrapf(errors.ErrNoListedExpiries, "%s", asset)
	}
	return listed, nil
}

// Instruments fetches the full option chain for one resolved expiry: one
// listing call, then one ticker call per instrument for open interest,
// Greeks and mark IV. A failed ticker fetch skips that instrument and the
// batch proceeds.
func (c *Client) Instruments(ctx context.Context, asset, expiryCode string) ([]storage.InstrumentQuote, error) {
	query := url.Values{}
	query.Set("currency", strings.ToUpper(asset))
	query.Set("kind", "option")
	query.Set("expired", "false")

	var listed []apiInstrument
	if err := c.get(ctx, "/public/get_instruments", query, &listed); err != nil {
		return nil, errors.Wrapf(errors.ErrFetchFailed, "instruments %s %s: %v", asset, expiryCode, err)
	}

	quotes := make([]storage.InstrumentQuote, 0, 64)

	for _, inst := range listed {
		code, ok := expiryCodeOf(inst.InstrumentName)
		if !ok || code != expiryCode {
			continue
		}

		tq := url.Values{}
		tq.Set("instrument_name", inst.InstrumentName)

		var tick tickerResult
		if err := c.get(ctx, "/public/ticker", tq, &tick); err != nil {
			if ctx.Err() != nil {
				return quotes, ctx.Err()
			}
			c.logger.Warn("skipping instrument, ticker fetch failed",
				"instrument", inst.InstrumentName, "error", err)
			continue
		}

		quotes = append(quotes, storage.InstrumentQuote{
			Instrument:        inst.InstrumentName,
			Expiry:            expiryCode,
			Strike:            inst.Strike,
			OptionType:        storage.OptionType(strings.ToLower(inst.OptionType)),
			OpenInterest:      tick.OpenInterest,
			Delta:             tick.Greeks.Delta,
			Gamma:             tick.Greeks.Gamma,
			Theta:             tick.Greeks.Theta,
			Vega:              tick.Greeks.Vega,
			ImpliedVolatility: tick.MarkIV,
		})
	}

	return quotes, nil
}

// expiryCodeOf extracts the expiry code from an option instrument name
// (ASSET-EXPIRY-STRIKE-SIDE). Anything else (perpetuals, futures,
// combos) is rejected.
func expiryCodeOf(instrumentName string) (string, bool) {
	parts := strings.Split(instrumentName, "-")
	if len(parts) != 4 {
		return "", false
	}
	return parts[1], true
}

// get performs one paced GET request and decodes the JSON-RPC result.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(errors.ErrFetchFailed, "%s: %v", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return errors.Wrapf(errors.ErrFetchFailed, "%s: read body: %v", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(errors.ErrFetchFailed, "%s: status %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errors.Wrapf(errors.ErrFetchFailed, "%s: malformed payload: %v", path, err)
	}
	if env.Error != nil {
		return errors.Wrapf(errors.ErrFetchFailed, "%s: api error %d: %s", path, env.Error.Code, env.Error.Message)
	}
	if env.Result == nil {
		return errors.Wrapf(errors.ErrFetchFailed, "%s: empty result", path)
	}

	if err := json.Unmarshal(env.Result, out); err != nil {
		return errors.Wrapf(errors.ErrFetchFailed, "%s: decode result: %v", path, err)
	}
	return nil
}
