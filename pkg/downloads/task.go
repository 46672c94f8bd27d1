// Package downloads correlates catalog entities with the local download
// engine's task feed and issues pause, resume, and cancel commands against
// the matched task.
package downloads

import "strings"

// Status is a download task's lifecycle state as the engine reports it.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusVerifying   Status = "verifying"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Live reports whether a task in this status can still be acted on.
// Terminal statuses are never matched.
func (s Status) Live() bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusVerifying, StatusPaused:
		return true
	}
	return false
}

// Task is one entry in the engine's task feed. The engine owns tasks; this
// package only reads them and commands them by ID.
type Task struct {
	ID       string  `json:"id"`
	Status   Status  `json:"status"`
	AppID    string  `json:"app_id,omitempty"`
	GameID   string  `json:"game_id,omitempty"`
	Slug     string  `json:"slug,omitempty"`
	Title    string  `json:"title,omitempty"`
	Progress float64 `json:"progress,omitempty"`
}

// GameRef identifies one catalog entity for correlation. Any subset of the
// fields may be set.
type GameRef struct {
	AppID  string
	GameID string
	Slug   string
	Title  string
}

// Key returns a stable identity string for the ref, preferring the strongest
// identifier present.
func (r GameRef) Key() string {
	switch {
	case r.AppID != "":
		return r.AppID
	case r.GameID != "":
		return r.GameID
	case r.Slug != "":
		return r.Slug
	default:
		return strings.ToLower(r.Title)
	}
}

// Match finds the live task belonging to ref. Identifier matches win over
// slug matches, which win over case-insensitive exact title matches; within
// a tier the first task in feed order wins.
func Match(ref GameRef, tasks []Task) (Task, bool) {
	slugIdx, titleIdx := -1, -1
	for i, t := range tasks {
		if !t.Status.Live() {
			continue
		}
		if identifierMatch(ref, t) {
			return t, true
		}
		if slugIdx < 0 && ref.Slug != "" && ref.Slug == t.Slug {
			slugIdx = i
		}
		if titleIdx < 0 && ref.Title != "" && t.Title != "" && strings.EqualFold(ref.Title, t.Title) {
			titleIdx = i
		}
	}
	if slugIdx >= 0 {
		return tasks[slugIdx], true
	}
	if titleIdx >= 0 {
		return tasks[titleIdx], true
	}
	return Task{}, false
}

// identifierMatch compares every identifier the ref carries against both of
// the task's identifier fields.
func identifierMatch(ref GameRef, t Task) bool {
	for _, id := range []string{ref.AppID, ref.GameID} {
		if id == "" {
			continue
		}
		if id == t.AppID || id == t.GameID {
			return true
		}
	}
	return false
}
