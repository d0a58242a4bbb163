package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/metrics"
)

const (
	bybitMainnetURL = "https://api.bybit.com"
	bybitTestnetURL = "https://api-testnet.bybit.com"

	bybitRecvWindow = "5000"
	bybitCategory   = "spot"

	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// BybitConfig configures the REST client. Empty credentials restrict the
// client to public market data; private endpoints then fail fast.
type BybitConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Testnet   bool
	Sizing    SizingConfig
}

// Bybit is the live venue client: Bybit v5 REST with a token-bucket rate
// limit, a circuit breaker around every call, and bounded retries for
// transient failures.
type Bybit struct {
	cfg     BybitConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
	now     func() time.Time
}

// NewBybit builds the client. The breaker opens after five consecutive
// failures and probes again after 30 seconds.
func NewBybit(cfg BybitConfig, log zerolog.Logger) *Bybit {
	if cfg.BaseURL == "" {
		cfg.BaseURL = bybitMainnetURL
		if cfg.Testnet {
			cfg.BaseURL = bybitTestnetURL
		}
	}
	if cfg.Sizing == (SizingConfig{}) {
		cfg.Sizing = DefaultSizing()
	}
	settings := gobreaker.Settings{
		Name:    "bybit",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	return &Bybit{
		cfg:     cfg,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log.With().Str("component", "bybit").Logger(),
		now:     time.Now,
	}
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// transientError wraps failures worth retrying: network errors, HTTP 5xx
// and 429.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// request performs one signed or public call with rate limiting, breaker
// protection and bounded backoff on transient classes.
func (b *Bybit) request(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			metrics.BrokerRetriesTotal.Inc()
			b.log.Debug().Str("path", path).Int("attempt", attempt).Err(lastErr).Msg("retrying request")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		raw, err := b.breaker.Execute(func() (any, error) {
			return b.doOnce(ctx, method, path, query, body)
		})
		if err == nil {
			return raw.(json.RawMessage), nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("bybit %s %s: retries exhausted: %w", method, path, lastErr)
}

func (b *Bybit) doOnce(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	reqURL := b.cfg.BaseURL + path
	queryStr := ""
	if len(query) > 0 {
		queryStr = query.Encode()
		reqURL += "?" + queryStr
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		ts := strconv.FormatInt(b.now().UnixMilli(), 10)
		payload := ts + b.cfg.APIKey + bybitRecvWindow + queryStr + string(bodyBytes)
		mac := hmac.New(sha256.New, []byte(b.cfg.APISecret))
		mac.Write([]byte(payload))
		req.Header.Set("X-BAPI-API-KEY", b.cfg.APIKey)
		req.Header.Set("X-BAPI-TIMESTAMP", ts)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
		req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, &transientError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &transientError{err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &transientError{err: fmt.Errorf("bybit http %d: %s", resp.StatusCode, bytes.TrimSpace(data))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bybit http %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var env bybitEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode bybit response: %w", err)
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("bybit retCode %d: %s", env.RetCode, env.RetMsg)
	}
	return env.Result, nil
}

// GetBars fetches klines for symbol at interval, sorted ascending and
// deduped by open time.
func (b *Bybit) GetBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("category", bybitCategory)
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	result, err := b.request(ctx, http.MethodGet, "/v5/market/kline", q, nil)
	if err != nil {
		return nil, fmt.Errorf("get klines %s/%s: %w", symbol, interval, err)
	}
	var payload struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("decode klines %s: %w", symbol, err)
	}
	return domain.ParseRawKlines(payload.List), nil
}

// GetCurrentPrice returns the last traded price, or 0 when the quote cannot
// be fetched.
func (b *Bybit) GetCurrentPrice(ctx context.Context, symbol string) float64 {
	q := url.Values{}
	q.Set("category", bybitCategory)
	q.Set("symbol", symbol)

	result, err := b.request(ctx, http.MethodGet, "/v5/market/tickers", q, nil)
	if err != nil {
		b.log.Warn().Err(err).Str("symbol", symbol).Msg("ticker fetch failed")
		return 0
	}
	var payload struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &payload); err != nil || len(payload.List) == 0 {
		b.log.Warn().Err(err).Str("symbol", symbol).Msg("ticker decode failed")
		return 0
	}
	price, err := strconv.ParseFloat(payload.List[0].LastPrice, 64)
	if err != nil {
		return 0
	}
	return price
}

// GetBalance returns wallet balances keyed by coin.
func (b *Bybit) GetBalance(ctx context.Context) (map[string]Balance, error) {
	if b.cfg.APIKey == "" {
		return nil, fmt.Errorf("get balance: credentials not configured")
	}
	q := url.Values{}
	q.Set("accountType", "UNIFIED")

	result, err := b.request(ctx, http.MethodGet, "/v5/account/wallet-balance", q, nil)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	var payload struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				Available     string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}

	balances := make(map[string]Balance)
	for _, acct := range payload.List {
		for _, c := range acct.Coin {
			total, _ := strconv.ParseFloat(c.WalletBalance, 64)
			avail, err := strconv.ParseFloat(c.Available, 64)
			if err != nil {
				avail = total
			}
			balances[c.Coin] = Balance{Coin: c.Coin, Total: total, Available: avail}
		}
	}
	return balances, nil
}

// ComputeSafeOrderSize sizes a market buy in base units from the configured
// budget, the available quote balance and the position cap. 0 means skip.
func (b *Bybit) ComputeSafeOrderSize(ctx context.Context, symbol string, price float64) (float64, error) {
	balances, err := b.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	quote := balances[b.cfg.Sizing.QuoteCoin]
	totalEquity := 0.0
	for _, bal := range balances {
		if bal.Coin == b.cfg.Sizing.QuoteCoin {
			totalEquity += bal.Total
			continue
		}
		if p := b.GetCurrentPrice(ctx, bal.Coin+b.cfg.Sizing.QuoteCoin); p > 0 {
			totalEquity += bal.Total * p
		}
	}
	return safeOrderSize(b.cfg.Sizing, price, quote.Available, totalEquity), nil
}

// PlaceOrder submits a spot market order in base units. Venue rejections
// come back wrapped in ErrOrderRejected and are not retried.
func (b *Bybit) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if b.cfg.APIKey == "" {
		return OrderResult{}, fmt.Errorf("place order: credentials not configured")
	}
	side := "Buy"
	if req.Side == SideSell {
		side = "Sell"
	}
	body := map[string]string{
		"category":   bybitCategory,
		"symbol":     req.Symbol,
		"side":       side,
		"orderType":  "Market",
		"qty":        strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		"marketUnit": "baseCoin",
	}

	result, err := b.request(ctx, http.MethodPost, "/v5/order/create", nil, body)
	if err != nil {
		if !isTransient(err) {
			return OrderResult{}, fmt.Errorf("%w: %s %s: %v", ErrOrderRejected, req.Side, req.Symbol, err)
		}
		return OrderResult{}, fmt.Errorf("place order %s %s: %w", req.Side, req.Symbol, err)
	}
	var payload struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}
	b.log.Info().Str("symbol", req.Symbol).Str("side", req.Side).
		Float64("qty", req.Quantity).Str("order_id", payload.OrderID).Msg("order placed")
	return OrderResult{OrderID: payload.OrderID}, nil
}
