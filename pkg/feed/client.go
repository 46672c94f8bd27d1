package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ludexhq/ludex/pkg/remote"
)

// ErrSignInRequired is returned when an operation needs an authenticated
// session and none is available. Callers surface it to the user as-is and
// must not retry the operation automatically.
var ErrSignInRequired = errors.New("sign in required")

// Client talks to the comment feed REST endpoints.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// ClientOptions configures optional client behavior.
type ClientOptions struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewClient builds a feed client. token may be empty, in which case Publish
// fails with ErrSignInRequired without touching the network.
func NewClient(baseURL, token string, opts ClientOptions) *Client {
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
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

type feedResponse struct {
	Comments []Comment `json:"comments"`
}

// Fetch retrieves the most recent comments, newest last.
func (c *Client) Fetch(ctx context.Context, limit int) ([]Comment, error) {
	url := c.baseURL + "/v1/comments"
	if limit > 0 {
		url += "?limit=" + strconv.Itoa(limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating feed request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching comments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, remote.ParseError(resp)
	}

	var decoded feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding feed response: %w", err)
	}
	return decoded.Comments, nil
}

// Publication is an outgoing comment: the body plus optional entity scope
// hints the server uses to attach it.
type Publication struct {
	Body        string
	EntityID    string
	EntityLabel string
}

type publishRequest struct {
	Body        string `json:"body"`
	EntityID    string `json:"entity_id,omitempty"`
	EntityLabel string `json:"entity_label,omitempty"`
}

// Publish posts a new comment and returns the server's stored version of it.
// Without a token it fails immediately with ErrSignInRequired; the server's
// own 401/403 answers map to the same error.
func (c *Client) Publish(ctx context.Context, pub Publication) (*Comment, error) {
	if c.token == "" {
		return nil, ErrSignInRequired
	}

	payload, err := json.Marshal(publishRequest{
		Body:        pub.Body,
		EntityID:    pub.EntityID,
		EntityLabel: pub.EntityLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding comment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/comments", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("publishing comment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		err := remote.ParseError(resp)
		var apiErr *remote.APIError
		if errors.As(err, &apiErr) && apiErr.IsAuth() {
			return nil, fmt.Errorf("%w: %s", ErrSignInRequired, apiErr.Message)
		}
		return nil, err
	}

	var stored Comment
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return nil, fmt.Errorf("decoding published comment: %w", err)
	}
	return &stored, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
