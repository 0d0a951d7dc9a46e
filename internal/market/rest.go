package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const restPageLimit = 1000

// RESTProvider fetches candlesticks from a Binance-compatible klines
// endpoint. Windows longer than one page are fetched in successive
// requests keyed by the last close time.
type RESTProvider struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// NewRESTProvider creates a provider against the given base URL
func NewRESTProvider(name, baseURL string) *RESTProvider {
	return &RESTProvider{
		name:       name,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *RESTProvider) Name() string { return p.name }

// FetchHistorical pages through the klines endpoint until the window is
// covered or the endpoint returns a short page
func (p *RESTProvider) FetchHistorical(ctx context.Context, symbol string, start, end time.Time, timeframe Timeframe) ([]OHLCVBar, error) {
	var bars []OHLCVBar
	cursor := start

	for cursor.Before(end) {
		page, err := p.fetchPage(ctx, symbol, cursor, end, timeframe)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		bars = append(bars, page...)
		if len(page) < restPageLimit {
			break
		}
		cursor = page[len(page)-1].Timestamp.Add(timeframe.Duration())
	}

	return bars, nil
}

func (p *RESTProvider) fetchPage(ctx context.Context, symbol string, start, end time.Time, timeframe Timeframe) ([]OHLCVBar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(timeframe))
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	params.Set("limit", strconv.Itoa(restPageLimit))

	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", p.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error building klines request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("klines API error: %s", string(body))
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	bars := make([]OHLCVBar, 0, len(rawKlines))
	for _, raw := range rawKlines {
		if len(raw) < 6 {
			continue
		}
		openTime, ok := raw[0].(float64)
		if !ok {
			continue
		}
		bars = append(bars, OHLCVBar{
			Symbol:    symbol,
			Timeframe: timeframe,
			Open:      parseDecimal(raw[1]),
			High:      parseDecimal(raw[2]),
			Low:       parseDecimal(raw[3]),
			Close:     parseDecimal(raw[4]),
			Volume:    parseDecimal(raw[5]),
			Timestamp: time.UnixMilli(int64(openTime)).UTC(),
		})
	}

	return bars, nil
}

func parseDecimal(v interface{}) decimal.Decimal {
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(val)
	default:
		return decimal.Zero
	}
}
