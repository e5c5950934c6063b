package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// HTTPFeed reads a spot price from a CoinGecko-style simple price endpoint,
// e.g. /api/v3/simple/price?ids=cardano&vs_currencies=usd.
type HTTPFeed struct {
	baseURL    string
	coinID     string
	asset      string
	httpClient *http.Client
	round      atomic.Int64
}

// NewHTTPFeed creates a feed for coinID reported under asset.
func NewHTTPFeed(baseURL, coinID, asset string) *HTTPFeed {
	return &HTTPFeed{
		baseURL: baseURL,
		coinID:  coinID,
		asset:   asset,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CurrentPrice implements Feed. Each successful fetch is numbered with a
// local round so the RoundGuard can order samples from this feed.
func (f *HTTPFeed) CurrentPrice(ctx context.Context) (domain.OraclePrice, error) {
	url := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd", f.baseURL, f.coinID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.OraclePrice{}, fmt.Errorf("oracle/http: create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return domain.OraclePrice{}, fmt.Errorf("oracle/http: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return domain.OraclePrice{}, fmt.Errorf("oracle/http: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.OraclePrice{}, fmt.Errorf("oracle/http: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload map[string]map[string]float64
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.OraclePrice{}, fmt.Errorf("oracle/http: decode: %w", err)
	}
	price, ok := payload[f.coinID]["usd"]
	if !ok {
		return domain.OraclePrice{}, fmt.Errorf("oracle/http: %s missing from response: %w", f.coinID, domain.ErrInvalidSample)
	}

	return domain.OraclePrice{
		Asset:      f.asset,
		Price:      price,
		Timestamp:  time.Now(),
		Confidence: baseConfidence,
		Source:     "CoinGecko",
		RoundID:    f.round.Add(1),
	}, nil
}
