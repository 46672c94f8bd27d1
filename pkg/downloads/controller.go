package downloads

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ludexhq/ludex/pkg/remote"
)

// ErrNoTask is returned by commands when no live task matches the ref.
var ErrNoTask = errors.New("no matching download task")

// State is the correlation result for one entity at one point in time.
// Active means a live task matched; Paused refines it. LastError carries the
// most recent command failure, cleared by the next successful command.
type State struct {
	Task      *Task  `json:"task,omitempty"`
	Active    bool   `json:"active"`
	Paused    bool   `json:"paused"`
	LastError string `json:"last_error,omitempty"`
}

// Controller binds one entity to the engine. It never flips state
// optimistically: command results only show up via the engine's own task
// feed on the next read.
type Controller struct {
	engine Engine
	ref    GameRef
	logger *zap.Logger

	mu      sync.Mutex
	lastErr string
}

// NewController builds a controller for ref.
func NewController(engine Engine, ref GameRef, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{engine: engine, ref: ref, logger: logger}
}

// State reads the task feed and derives the entity's download state.
func (c *Controller) State(ctx context.Context) (State, error) {
	tasks, err := c.engine.Tasks(ctx)
	if err != nil {
		return State{LastError: c.LastError()}, fmt.Errorf("listing download tasks: %w", err)
	}
	return c.derive(tasks), nil
}

// Toggle resumes the matched task when it is paused and pauses it otherwise.
// The returned state reflects the feed as read before the command; a failed
// command records a displayable error and changes nothing else.
func (c *Controller) Toggle(ctx context.Context) (State, error) {
	tasks, err := c.engine.Tasks(ctx)
	if err != nil {
		c.recordError(err)
		return State{LastError: c.LastError()}, fmt.Errorf("listing download tasks: %w", err)
	}

	task, ok := Match(c.ref, tasks)
	if !ok {
		return c.derive(tasks), ErrNoTask
	}

	verb := "pause"
	command := c.engine.Pause
	if task.Status == StatusPaused {
		verb = "resume"
		command = c.engine.Resume
	}

	metricCommands.Inc()
	if err := command(ctx, task.ID); err != nil {
		metricCommandFailures.Inc()
		c.recordError(err)
		c.logger.Warn("engine command failed",
			zap.String("verb", verb), zap.String("task_id", task.ID), zap.Error(err))
		return c.derive(tasks), fmt.Errorf("%s download: %w", verb, err)
	}

	c.clearError()
	c.logger.Info("download toggled",
		zap.String("verb", verb), zap.String("task_id", task.ID))
	return c.derive(tasks), nil
}

// Stop cancels the matched task.
func (c *Controller) Stop(ctx context.Context) (State, error) {
	tasks, err := c.engine.Tasks(ctx)
	if err != nil {
		c.recordError(err)
		return State{LastError: c.LastError()}, fmt.Errorf("listing download tasks: %w", err)
	}

	task, ok := Match(c.ref, tasks)
	if !ok {
		return c.derive(tasks), ErrNoTask
	}

	metricCommands.Inc()
	if err := c.engine.Cancel(ctx, task.ID); err != nil {
		metricCommandFailures.Inc()
		c.recordError(err)
		c.logger.Warn("engine command failed",
			zap.String("verb", "cancel"), zap.String("task_id", task.ID), zap.Error(err))
		return c.derive(tasks), fmt.Errorf("cancel download: %w", err)
	}

	c.clearError()
	c.logger.Info("download cancelled", zap.String("task_id", task.ID))
	return c.derive(tasks), nil
}

// LastError returns the most recent recorded command failure, or "".
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) derive(tasks []Task) State {
	st := State{LastError: c.LastError()}
	task, ok := Match(c.ref, tasks)
	if !ok {
		return st
	}
	st.Task = &task
	st.Active = true
	st.Paused = task.Status == StatusPaused
	return st
}

func (c *Controller) recordError(err error) {
	msg := err.Error()
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

func (c *Controller) clearError() {
	c.mu.Lock()
	c.lastErr = ""
	c.mu.Unlock()
}

// Manager hands out one controller per entity so command errors stick to the
// entity they belong to.
type Manager struct {
	engine Engine
	logger *zap.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewManager builds a manager over the engine.
func NewManager(engine Engine, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		engine:      engine,
		logger:      logger,
		controllers: make(map[string]*Controller),
	}
}

// Controller returns the controller for ref, creating it on first use.
// Identity follows GameRef.Key.
func (m *Manager) Controller(ref GameRef) *Controller {
	key := ref.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.controllers[key]; ok {
		return c
	}
	c := NewController(m.engine, ref, m.logger)
	m.controllers[key] = c
	return c
}
