package price

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/Fantasim/tappos/internal/config"
)

// PriceService fetches USD prices from CoinGecko and caches them per feed ID.
// Entries expire after PriceCacheDuration and are evicted lazily on read.
type PriceService struct {
	client  *http.Client
	baseURL string
	apiKey  string
	cache   *cache.Cache
}

// NewPriceService creates a PriceService against baseURL. apiKey may be empty.
func NewPriceService(baseURL, apiKey string) *PriceService {
	if baseURL == "" {
		baseURL = config.CoinGeckoBaseURL
	}

	slog.Info("price service initialized",
		"baseURL", baseURL,
		"cacheDuration", config.PriceCacheDuration,
		"apiKey", apiKey != "",
	)

	return &PriceService{
		client: &http.Client{
			Timeout: config.PriceHTTPTimeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		cache:   cache.New(config.PriceCacheDuration, 0),
	}
}

// GetPrice returns the USD price of a single feed.
func (ps *PriceService) GetPrice(ctx context.Context, feedID string) (float64, error) {
	prices, err := ps.GetPrices(ctx, []string{feedID})
	if err != nil {
		return 0, err
	}
	p, ok := prices[feedID]
	if !ok {
		return 0, fmt.Errorf("%w: no price for %q", config.ErrPriceFetchFailed, feedID)
	}
	return p, nil
}

// GetPrices returns USD prices for ids. Cached entries are served directly and
// all missing ids are fetched in one request. Feeds the oracle does not know
// are absent from the result.
func (ps *PriceService) GetPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(ids))
	var missing []string
	seen := make(map[string]struct{}, len(ids))

	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}

		if v, ok := ps.cache.Get(id); ok {
			prices[id] = v.(float64)
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		slog.Debug("price cache hit", "feeds", len(prices))
		return prices, nil
	}

	fetched, err := ps.fetchPrices(ctx, missing)
	if err != nil {
		return prices, err
	}

	for id, v := range fetched {
		ps.cache.Set(id, v, cache.DefaultExpiration)
		prices[id] = v
	}
	return prices, nil
}

// coinGeckoResponse represents the CoinGecko /simple/price response.
// Each key is a coin ID mapping to currency values.
type coinGeckoResponse map[string]map[string]float64

// fetchPrices fetches fresh prices for ids from the CoinGecko API.
func (ps *PriceService) fetchPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	q := url.Values{}
	q.Set("ids", strings.Join(sorted, ","))
	q.Set("vs_currencies", "usd")
	reqURL := ps.baseURL + "/simple/price?" + q.Encode()

	slog.Info("fetching prices from CoinGecko",
		"feeds", len(sorted),
		"ids", strings.Join(sorted, ","),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create price request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if ps.apiKey != "" {
		req.Header.Set(config.CoinGeckoKeyHeader, ps.apiKey)
	}

	start := time.Now()
	resp, err := ps.client.Do(req)
	if err != nil {
		slog.Error("CoinGecko request failed",
			"error", err,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return nil, fmt.Errorf("%w: %v", config.ErrPriceFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("CoinGecko non-200 response",
			"status", resp.StatusCode,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, config.NewTransientError(fmt.Errorf("%w: HTTP %d", config.ErrPriceFetchFailed, resp.StatusCode))
		}
		return nil, fmt.Errorf("%w: HTTP %d", config.ErrPriceFetchFailed, resp.StatusCode)
	}

	var cgResp coinGeckoResponse
	if err := json.NewDecoder(resp.Body).Decode(&cgResp); err != nil {
		slog.Error("CoinGecko response decode failed",
			"error", err,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return nil, fmt.Errorf("%w: decode error: %v", config.ErrPriceFetchFailed, err)
	}

	prices := make(map[string]float64, len(sorted))
	for _, id := range sorted {
		if coinData, ok := cgResp[id]; ok {
			if usd, ok := coinData["usd"]; ok && usd > 0 {
				prices[id] = usd
			}
		}
	}

	slog.Info("prices fetched",
		"requested", len(sorted),
		"received", len(prices),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return prices, nil
}
