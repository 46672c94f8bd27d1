package downloads

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusLive(t *testing.T) {
	live := []Status{StatusQueued, StatusDownloading, StatusVerifying, StatusPaused}
	for _, s := range live {
		assert.True(t, s.Live(), "status %q", s)
	}
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled, Status("unknown")}
	for _, s := range terminal {
		assert.False(t, s.Live(), "status %q", s)
	}
}

func TestMatchPrecedence(t *testing.T) {
	tasks := []Task{
		{ID: "t-title", Status: StatusDownloading, Title: "Stardew Valley"},
		{ID: "t-slug", Status: StatusQueued, Slug: "stardew-valley"},
		{ID: "t-app", Status: StatusPaused, AppID: "413150"},
	}

	tests := []struct {
		name   string
		ref    GameRef
		wantID string
	}{
		{
			name:   "identifier beats slug and title",
			ref:    GameRef{AppID: "413150", Slug: "stardew-valley", Title: "Stardew Valley"},
			wantID: "t-app",
		},
		{
			name:   "slug beats title",
			ref:    GameRef{Slug: "stardew-valley", Title: "Stardew Valley"},
			wantID: "t-slug",
		},
		{
			name:   "title as last resort, case-insensitive",
			ref:    GameRef{Title: "sTaRdEw VaLlEy"},
			wantID: "t-title",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Match(tt.ref, tasks)
			require.True(t, ok)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestMatchCrossesIdentifierFields(t *testing.T) {
	tasks := []Task{{ID: "t1", Status: StatusDownloading, GameID: "g-77"}}

	// The ref's AppID may match the task's GameID field and vice versa.
	got, ok := Match(GameRef{AppID: "g-77"}, tasks)
	require.True(t, ok)
	assert.Equal(t, "t1", got.ID)

	tasks = []Task{{ID: "t2", Status: StatusDownloading, AppID: "a-5"}}
	got, ok = Match(GameRef{GameID: "a-5"}, tasks)
	require.True(t, ok)
	assert.Equal(t, "t2", got.ID)
}

func TestMatchSkipsTerminalStatuses(t *testing.T) {
	tasks := []Task{
		{ID: "done", Status: StatusCompleted, AppID: "5"},
		{ID: "gone", Status: StatusCancelled, AppID: "5"},
		{ID: "broke", Status: StatusFailed, AppID: "5"},
	}
	_, ok := Match(GameRef{AppID: "5"}, tasks)
	assert.False(t, ok)
}

func TestMatchIgnoresEmptyFields(t *testing.T) {
	// A ref with no identifiers must not match tasks whose fields are also
	// empty.
	tasks := []Task{{ID: "t1", Status: StatusQueued}}
	_, ok := Match(GameRef{}, tasks)
	assert.False(t, ok)

	_, ok = Match(GameRef{Title: "Celeste"}, []Task{{ID: "t2", Status: StatusQueued, Title: ""}})
	assert.False(t, ok)
}

func TestMatchFirstInFeedOrderWinsWithinTier(t *testing.T) {
	tasks := []Task{
		{ID: "first", Status: StatusQueued, Slug: "hades"},
		{ID: "second", Status: StatusDownloading, Slug: "hades"},
	}
	got, ok := Match(GameRef{Slug: "hades"}, tasks)
	require.True(t, ok)
	assert.Equal(t, "first", got.ID)
}

func TestGameRefKeyPrefersStrongestIdentifier(t *testing.T) {
	assert.Equal(t, "5", GameRef{AppID: "5", GameID: "g", Slug: "s", Title: "T"}.Key())
	assert.Equal(t, "g", GameRef{GameID: "g", Slug: "s", Title: "T"}.Key())
	assert.Equal(t, "s", GameRef{Slug: "s", Title: "T"}.Key())
	assert.Equal(t, "the title", GameRef{Title: "The Title"}.Key())
}
