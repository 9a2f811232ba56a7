package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// httpClient performs cold price lookups against the oracle's REST endpoint.
type httpClient struct {
	baseURL string
	client  *retryablehttp.Client
}

func newHTTPClient(baseURL string) *httpClient {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  c,
	}
}

// feedResponse mirrors the latest-price-feeds REST payload.
type feedResponse struct {
	ID    string `json:"id"`
	Price struct {
		Price       string `json:"price"`
		Conf        string `json:"conf"`
		Expo        int    `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

// latestPrice fetches the most recent quote for one feed ID.
func (h *httpClient) latestPrice(ctx context.Context, feedID string) (domain.PriceQuote, error) {
	u := fmt.Sprintf("%s/api/latest_price_feeds?ids[]=%s", h.baseURL, url.QueryEscape(feedID))

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.PriceQuote{}, fmt.Errorf("oracle http status %d: %s", resp.StatusCode, string(body))
	}

	var feeds []feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feeds); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("decode feed response: %w", err)
	}
	if len(feeds) == 0 {
		return domain.PriceQuote{}, domain.ErrPriceUnavailable
	}

	f := feeds[0]
	return domain.PriceQuote{
		Price:      scaledFloat(f.Price.Price, f.Price.Expo),
		Confidence: scaledFloat(f.Price.Conf, f.Price.Expo),
		Timestamp:  time.Unix(f.Price.PublishTime, 0),
	}, nil
}

// scaledFloat converts the oracle's fixed-point string (value * 10^expo) to a
// float64. Unparseable values become 0, which downstream filters reject.
func scaledFloat(value string, expo int) float64 {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return v * math.Pow10(expo)
}
