package artwork

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ludexhq/ludex/pkg/remote"
)

const (
	// The batch endpoint is cheap server-side but large bursts get throttled;
	// stay comfortably under the service's documented 10 req/s.
	defaultRateLimit = rate.Limit(4)
	defaultBurstSize = 8
)

// Client fetches enrichment batches from the artwork service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Options configures optional client behavior.
type Options struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewClient builds a client for the artwork service at baseURL.
func NewClient(baseURL string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = remote.NewHTTPClient(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(defaultRateLimit, defaultBurstSize),
		logger:     logger,
	}
}

type batchRequest struct {
	AppIDs       []string `json:"app_ids"`
	ForceRefresh bool     `json:"force_refresh,omitempty"`
}

// Lookup fetches enrichment for the given ids in one batch. Ids missing from
// the response simply have no enrichment; that is not an error.
func (c *Client) Lookup(ctx context.Context, ids []string, force bool) (map[string]Enrichment, error) {
	if len(ids) == 0 {
		return map[string]Enrichment{}, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(batchRequest{AppIDs: ids, ForceRefresh: force})
	if err != nil {
		return nil, fmt.Errorf("marshaling batch request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/assets/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching enrichment batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, remote.ParseError(resp)
	}

	results := make(map[string]Enrichment, len(ids))
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding enrichment batch: %w", err)
	}
	c.logger.Debug("enrichment batch fetched",
		zap.Int("requested", len(ids)),
		zap.Int("returned", len(results)),
		zap.Bool("force", force))
	return results, nil
}
