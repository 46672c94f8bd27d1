package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludexhq/ludex/pkg/remote"
)

func TestSearchClientEncodesRequest(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total":1,"offset":48,"limit":48,"items":[{"id":"10","title":"Hades","slug":"hades"}]}`))
	}))
	defer server.Close()

	client := NewSearchClient(server.URL, ClientOptions{})
	page, err := client.Search(context.Background(), SearchRequest{
		Limit:           48,
		Offset:          48,
		Query:           "hades",
		Sort:            "title",
		IncludeDLC:      true,
		MustHaveArtwork: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/catalog", gotPath)
	assert.Equal(t, map[string]string{
		"limit":             "48",
		"offset":            "48",
		"query":             "hades",
		"sort":              "title",
		"include_dlc":       "true",
		"must_have_artwork": "true",
	}, gotQuery)

	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Hades", page.Items[0].Title)
}

func TestSearchClientOmitsEmptyQueryAndSort(t *testing.T) {
	var rawQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		w.Write([]byte(`{"total":0,"items":[]}`))
	}))
	defer server.Close()

	client := NewSearchClient(server.URL, ClientOptions{})
	_, err := client.Search(context.Background(), SearchRequest{Limit: 48})
	require.NoError(t, err)

	assert.NotContains(t, rawQuery, "query=")
	assert.NotContains(t, rawQuery, "sort=")
}

func TestSearchClientMapsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream unavailable"}`))
	}))
	defer server.Close()

	client := NewSearchClient(server.URL, ClientOptions{})
	_, err := client.Search(context.Background(), SearchRequest{Limit: 48})
	require.Error(t, err)

	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.True(t, apiErr.Retryable)
}

func TestSearchClientBreakerFailsFastAfterRepeatedErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewSearchClient(server.URL, ClientOptions{})
	for i := 0; i < breakerMaxFailures; i++ {
		_, err := client.Search(context.Background(), SearchRequest{Limit: 48})
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrBreakerOpen)
	}

	_, err := client.Search(context.Background(), SearchRequest{Limit: 48})
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestLegacyClientMapsProducts(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		assert.Equal(t, "/catalog/filtered", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"totalGamesFound": 2,
			"products": [
				{"id": 42, "title": "Celeste", "slug": "celeste", "isDlc": false,
				 "image": "https://legacy.example/celeste-hero.jpg",
				 "boxArtImage": "https://legacy.example/celeste-grid.jpg",
				 "logoImage": "https://legacy.example/celeste-logo.png",
				 "iconImage": "https://legacy.example/celeste-icon.png"},
				{"id": 43, "title": "Celeste: Farewell", "slug": "celeste-farewell", "isDlc": true}
			]
		}`))
	}))
	defer server.Close()

	client := NewLegacyClient(server.URL, ClientOptions{})
	page, err := client.Search(context.Background(), SearchRequest{Limit: 48, Offset: 96, Query: "celeste"})
	require.NoError(t, err)

	// Offset 96 at limit 48 is the third 1-based page.
	assert.Equal(t, map[string]string{
		"mediaType": "game",
		"limit":     "48",
		"page":      "3",
		"search":    "celeste",
	}, gotQuery)

	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 96, page.Offset)
	require.Len(t, page.Items, 1, "DLC rows are dropped unless requested")

	got := page.Items[0]
	assert.Equal(t, "42", got.ID)
	assert.Equal(t, "Celeste", got.Title)
	assert.Equal(t, "celeste", got.Slug)
	assert.False(t, got.DLC)
	assert.Equal(t, "https://legacy.example/celeste-grid.jpg", got.Images.Grid)
	assert.Equal(t, "https://legacy.example/celeste-hero.jpg", got.Images.Hero)
	assert.Equal(t, "https://legacy.example/celeste-logo.png", got.Images.Logo)
	assert.Equal(t, "https://legacy.example/celeste-icon.png", got.Images.Icon)
}

func TestLegacyClientKeepsDLCWhenRequested(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalGamesFound":1,"products":[{"id":7,"title":"Expansion","isDlc":true}]}`))
	}))
	defer server.Close()

	client := NewLegacyClient(server.URL, ClientOptions{})
	page, err := client.Search(context.Background(), SearchRequest{Limit: 48, IncludeDLC: true})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].DLC)
}

func TestLegacyClientMapsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone fishing", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewLegacyClient(server.URL, ClientOptions{})
	_, err := client.Search(context.Background(), SearchRequest{Limit: 48})

	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestSearchClientContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewSearchClient(server.URL, ClientOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Search(ctx, SearchRequest{Limit: 48})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
