package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/stonksbot/trade-engine/internal/metrics"
	"github.com/stonksbot/trade-engine/internal/model"
)

const (
	defaultStockURL  = "https://query1.finance.yahoo.com/v7/finance/quote"
	defaultCryptoURL = "https://www.binance.com/gateway-api/v2/public/asset-service/product/get-products"

	requestTimeout = 10 * time.Second
)

// Client implements Source over the public Yahoo Finance quote endpoint
// (stocks) and the Binance product list (crypto). Outbound calls share one
// token-bucket limiter so a burst of alerts cannot hammer the APIs.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	stockURL   string
	cryptoURL  string
}

// NewClient creates a quote client. Empty URLs select the public endpoints;
// perMinute caps outbound requests across both APIs.
func NewClient(logger *slog.Logger, stockURL, cryptoURL string, perMinute int) *Client {
	if stockURL == "" {
		stockURL = defaultStockURL
	}
	if cryptoURL == "" {
		cryptoURL = defaultCryptoURL
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.With("component", "quote"),
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
		stockURL:   stockURL,
		cryptoURL:  cryptoURL,
	}
}

// Lookup fetches the current price and prior close for a symbol.
func (c *Client) Lookup(ctx context.Context, symbol string, class model.AssetClass) (*Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, symbol, err)
	}
	var q *Quote
	var err error
	if class.IsCrypto() {
		q, err = c.lookupCrypto(ctx, symbol)
	} else {
		q, err = c.lookupStock(ctx, symbol)
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.QuoteLookups.WithLabelValues(string(class), outcome).Inc()
	return q, err
}

// --- Stocks (Yahoo Finance v7 quote API) ---

type yahooResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol                     string      `json:"symbol"`
			LongName                   string      `json:"longName"`
			ShortName                  string      `json:"shortName"`
			RegularMarketPrice         json.Number `json:"regularMarketPrice"`
			PostMarketPrice            json.Number `json:"postMarketPrice"`
			RegularMarketPreviousClose json.Number `json:"regularMarketPreviousClose"`
		} `json:"result"`
	} `json:"quoteResponse"`
}

func (c *Client) lookupStock(ctx context.Context, symbol string) (*Quote, error) {
	u := c.stockURL + "?symbols=" + url.QueryEscape(symbol)
	var resp yahooResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, symbol, err)
	}
	if len(resp.QuoteResponse.Result) == 0 {
		return nil, fmt.Errorf("%w: %s: no quote data", ErrUnavailable, symbol)
	}

	r := resp.QuoteResponse.Result[0]
	name := r.LongName
	if name == "" {
		name = r.ShortName
	}

	// Prefer the post-market print when present.
	price, err := toDecimal(r.PostMarketPrice)
	if err != nil {
		price, err = toDecimal(r.RegularMarketPrice)
	}
	if err != nil || !price.IsPositive() {
		return nil, fmt.Errorf("%w: %s: no usable price", ErrUnavailable, symbol)
	}

	prior, err := toDecimal(r.RegularMarketPreviousClose)
	if err != nil || weekend(time.Now().UTC()) {
		// Markets are closed on weekends: report a flat day rather than a
		// stale Friday delta.
		prior = price
	}

	return &Quote{Symbol: strings.ToUpper(symbol), Name: name, Price: price, PriorClose: prior}, nil
}

// --- Crypto (Binance public product list) ---

type binanceResponse struct {
	Data []struct {
		Base      string      `json:"b"`
		QuoteCcy  string      `json:"q"`
		AssetName string      `json:"an"`
		Close     json.Number `json:"c"`
		Open      json.Number `json:"o"`
	} `json:"data"`
}

func (c *Client) lookupCrypto(ctx context.Context, symbol string) (*Quote, error) {
	var resp binanceResponse
	if err := c.getJSON(ctx, c.cryptoURL+"?includeEtf=false", &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, symbol, err)
	}

	// Match the base asset against any USD-quoted pair.
	for _, p := range resp.Data {
		if !strings.EqualFold(p.Base, symbol) || !strings.Contains(strings.ToUpper(p.QuoteCcy), "USD") {
			continue
		}
		price, err := toDecimal(p.Close)
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("%w: %s: no usable price", ErrUnavailable, symbol)
		}
		prior, err := toDecimal(p.Open)
		if err != nil {
			prior = price
		}
		return &Quote{Symbol: strings.ToUpper(symbol), Name: p.AssetName, Price: price, PriorClose: prior}, nil
	}

	return nil, fmt.Errorf("%w: %s: unknown symbol", ErrUnavailable, symbol)
}

// --- Helpers ---

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// toDecimal converts a JSON number without a float64 round trip.
func toDecimal(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Decimal{}, fmt.Errorf("empty number")
	}
	return decimal.NewFromString(n.String())
}

func weekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}
