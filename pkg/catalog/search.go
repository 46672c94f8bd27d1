package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ludexhq/ludex/pkg/remote"
)

const (
	searchRateLimit = rate.Limit(5)
	searchBurstSize = 10
)

// SearchClient talks to the primary catalog search service.
type SearchClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitBreaker
	logger     *zap.Logger
}

// ClientOptions configures optional client behavior.
type ClientOptions struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewSearchClient builds a client for the primary search service.
func NewSearchClient(baseURL string, opts ClientOptions) *SearchClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = remote.NewHTTPClient(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(searchRateLimit, searchBurstSize),
		breaker:    newCircuitBreaker(breakerMaxFailures, breakerResetTimeout, logger),
		logger:     logger,
	}
}

// Search performs one listing/search call. While the breaker is open it fails
// fast with ErrBreakerOpen so the caller can fall back immediately.
func (c *SearchClient) Search(ctx context.Context, req SearchRequest) (*Page, error) {
	var page *Page
	err := c.breaker.Call(func() error {
		fetched, err := c.search(ctx, req)
		if err != nil {
			return err
		}
		page = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (c *SearchClient) search(ctx context.Context, req SearchRequest) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(req.Limit))
	params.Set("offset", strconv.Itoa(req.Offset))
	if req.Query != "" {
		params.Set("query", req.Query)
	}
	if req.Sort != "" {
		params.Set("sort", req.Sort)
	}
	params.Set("include_dlc", strconv.FormatBool(req.IncludeDLC))
	params.Set("must_have_artwork", strconv.FormatBool(req.MustHaveArtwork))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/catalog?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("searching catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, remote.ParseError(resp)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &page, nil
}
