package catalogapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/catalog-feed/internal/domain"
	"github.com/couchcryptid/catalog-feed/internal/observability"
)

// maxErrorBody caps how much of an error response is kept for the message.
const maxErrorBody = 512

// Client implements domain.PageFetcher against the catalog listings API.
type Client struct {
	baseURL    string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a catalog API client that requests pageSize listings
// per page and sends at most ratePerSec requests per second.
func NewClient(baseURL string, timeout time.Duration, pageSize int, ratePerSec float64, logger *slog.Logger, metrics *observability.Metrics) *Client {
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		logger:  logger,
		metrics: metrics,
	}
}

// PageSize returns the number of listings requested per page.
func (c *Client) PageSize() int { return c.pageSize }

// FetchPage requests one page of listings matching filter.
func (c *Client) FetchPage(ctx context.Context, filter domain.FilterConfig, page int) (domain.Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Page{}, c.fail(&domain.FetchError{Kind: domain.FetchNetwork, Err: fmt.Errorf("rate limit wait: %w", err)})
	}

	params := filter.Values()
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(c.pageSize))
	fullURL := c.baseURL + "/listings?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.Page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.Page{}, c.fail(&domain.FetchError{Kind: domain.FetchNetwork, Err: fmt.Errorf("listings request: %w", err)})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.Page{}, c.fail(&domain.FetchError{
			Kind:       domain.FetchServer,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("catalog API error: %s", strings.TrimSpace(string(body))),
		})
	}

	var listingsResp listingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listingsResp); err != nil {
		return domain.Page{}, c.fail(&domain.FetchError{Kind: domain.FetchServer, Err: fmt.Errorf("decode response: %w", err)})
	}

	c.metrics.FetchRequests.WithLabelValues("success").Inc()
	c.logger.Debug("fetched listings page",
		"page", page,
		"items", len(listingsResp.Items),
		"query", params.Encode(),
	)
	return domain.Page{Items: listingsResp.Items, PageSize: c.pageSize}, nil
}

func (c *Client) fail(fe *domain.FetchError) error {
	outcome := "server_error"
	if fe.Kind == domain.FetchNetwork {
		outcome = "network_error"
	}
	c.metrics.FetchRequests.WithLabelValues(outcome).Inc()
	if errors.Is(fe, context.Canceled) {
		return fe
	}
	c.logger.Warn("listings fetch failed", "kind", fe.Kind, "status", fe.StatusCode, "error", fe.Err)
	return fe
}

// Catalog API response types.

type listingsResponse struct {
	Items []domain.ListingPreview `json:"items"`
}
