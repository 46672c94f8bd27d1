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
	legacyRateLimit = rate.Limit(2)
	legacyBurstSize = 4
)

// LegacyClient talks to the old embed listing API, kept as the fallback when
// the primary search service is unavailable.
type LegacyClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewLegacyClient builds a client for the legacy listing API.
func NewLegacyClient(baseURL string, opts ClientOptions) *LegacyClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = remote.NewHTTPClient(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LegacyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(legacyRateLimit, legacyBurstSize),
		logger:     logger,
	}
}

// legacyProduct is the embed API's product document.
type legacyProduct struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	IsDLC       bool   `json:"isDlc"`
	Image       string `json:"image"`
	BoxArtImage string `json:"boxArtImage"`
	LogoImage   string `json:"logoImage"`
	IconImage   string `json:"iconImage"`
}

type legacyResponse struct {
	TotalGamesFound int             `json:"totalGamesFound"`
	Products        []legacyProduct `json:"products"`
}

// Search performs one listing call against the legacy API and maps its
// response onto the common Page shape.
func (c *LegacyClient) Search(ctx context.Context, req SearchRequest) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("mediaType", "game")
	params.Set("limit", strconv.Itoa(req.Limit))
	// The embed API pages from 1.
	page := 1
	if req.Limit > 0 {
		page = req.Offset/req.Limit + 1
	}
	params.Set("page", strconv.Itoa(page))
	if req.Query != "" {
		params.Set("search", req.Query)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/catalog/filtered?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating legacy request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("listing legacy catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, remote.ParseError(resp)
	}

	var decoded legacyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding legacy response: %w", err)
	}

	items := make([]Item, 0, len(decoded.Products))
	for _, p := range decoded.Products {
		if p.IsDLC && !req.IncludeDLC {
			continue
		}
		items = append(items, Item{
			ID:    strconv.FormatInt(p.ID, 10),
			Title: p.Title,
			Slug:  p.Slug,
			DLC:   p.IsDLC,
			Images: Images{
				Grid: p.BoxArtImage,
				Hero: p.Image,
				Logo: p.LogoImage,
				Icon: p.IconImage,
			},
		})
	}
	return &Page{
		Total:  decoded.TotalGamesFound,
		Offset: req.Offset,
		Limit:  req.Limit,
		Items:  items,
	}, nil
}
