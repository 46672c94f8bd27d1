package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludexhq/ludex/pkg/remote"
)

func TestClientFetchDecodesComments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/comments", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"comments":[
			{"id":"c1","entity_id":"55","author":"sam","body":"runs great","created_at":"2026-03-01T12:00:00Z"},
			{"id":"c2","entity_id":"55","author":"kit","body":"agreed","created_at":"2026-03-01T12:05:00Z"}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", ClientOptions{HTTPClient: server.Client()})
	comments, err := client.Fetch(context.Background(), 25)
	require.NoError(t, err)

	require.Len(t, comments, 2)
	assert.Equal(t, "c1", comments[0].ID)
	assert.Equal(t, "sam", comments[0].Author)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), comments[0].CreatedAt)
}

func TestClientFetchSendsBearerWhenAuthenticated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		w.Write([]byte(`{"comments":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok-123", ClientOptions{HTTPClient: server.Client()})
	_, err := client.Fetch(context.Background(), 10)
	require.NoError(t, err)
}

func TestClientFetchMapsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"feed store unavailable"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", ClientOptions{HTTPClient: server.Client()})
	_, err := client.Fetch(context.Background(), 10)

	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.True(t, apiErr.Retryable)
}

func TestClientPublishWithoutTokenSkipsNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unauthenticated publish must not reach the network")
	}))
	defer server.Close()

	client := NewClient(server.URL, "", ClientOptions{HTTPClient: server.Client()})
	_, err := client.Publish(context.Background(), Publication{EntityID: "55", Body: "hello"})
	assert.ErrorIs(t, err, ErrSignInRequired)
}

func TestClientPublishSendsCommentAndDecodesStored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/comments", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req publishRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "55", req.EntityID)
		assert.Equal(t, "Deep Rock Galactic", req.EntityLabel)
		assert.Equal(t, "ten hours in, no regrets", req.Body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"srv-9","entity_id":"55","author":"me","display_name":"Me","body":"ten hours in, no regrets","created_at":"2026-03-01T13:00:00Z"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok-123", ClientOptions{HTTPClient: server.Client()})
	stored, err := client.Publish(context.Background(), Publication{
		EntityID:    "55",
		EntityLabel: "Deep Rock Galactic",
		Body:        "ten hours in, no regrets",
	})
	require.NoError(t, err)

	assert.Equal(t, "srv-9", stored.ID)
	assert.Equal(t, "me", stored.Author)
	assert.Equal(t, "Me", stored.DisplayName)
}

func TestClientPublishMapsAuthRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"token expired"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "stale-token", ClientOptions{HTTPClient: server.Client()})
	_, err := client.Publish(context.Background(), Publication{EntityID: "55", Body: "hello"})

	assert.ErrorIs(t, err, ErrSignInRequired)
	assert.Contains(t, err.Error(), "token expired")
}

func TestClientPublishKeepsOtherErrorsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok-123", ClientOptions{HTTPClient: server.Client()})
	_, err := client.Publish(context.Background(), Publication{EntityID: "55", Body: "hello"})

	require.NotErrorIs(t, err, ErrSignInRequired)
	assert.True(t, remote.Retryable(err))
}
