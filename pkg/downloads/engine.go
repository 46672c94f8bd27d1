package downloads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ludexhq/ludex/pkg/remote"
)

//go:generate mockgen -package=downloads -destination=mock_engine_test.go github.com/ludexhq/ludex/pkg/downloads Engine

// Engine is the local download daemon's command surface.
type Engine interface {
	Tasks(ctx context.Context) ([]Task, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
}

// HTTPEngine talks to the download daemon over its local HTTP API.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// EngineOptions configures optional engine client behavior.
type EngineOptions struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewHTTPEngine builds a client for the daemon at baseURL.
func NewHTTPEngine(baseURL string, opts EngineOptions) *HTTPEngine {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = remote.NewHTTPClient(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPEngine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

type tasksResponse struct {
	Tasks []Task `json:"tasks"`
}

// Tasks returns the engine's current task feed.
func (e *HTTPEngine) Tasks(ctx context.Context) ([]Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/tasks", nil)
	if err != nil {
		return nil, fmt.Errorf("creating tasks request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing download tasks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, remote.ParseError(resp)
	}

	var decoded tasksResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding tasks response: %w", err)
	}
	return decoded.Tasks, nil
}

// Pause suspends the task.
func (e *HTTPEngine) Pause(ctx context.Context, id string) error {
	return e.command(ctx, id, "pause")
}

// Resume restarts a paused task.
func (e *HTTPEngine) Resume(ctx context.Context, id string) error {
	return e.command(ctx, id, "resume")
}

// Cancel stops the task for good.
func (e *HTTPEngine) Cancel(ctx context.Context, id string) error {
	return e.command(ctx, id, "cancel")
}

func (e *HTTPEngine) command(ctx context.Context, id, verb string) error {
	endpoint := fmt.Sprintf("%s/tasks/%s/%s", e.baseURL, url.PathEscape(id), verb)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", verb, err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s command: %w", verb, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		e.logger.Debug("engine command accepted",
			zap.String("verb", verb), zap.String("task_id", id))
		return nil
	default:
		return remote.ParseError(resp)
	}
}
