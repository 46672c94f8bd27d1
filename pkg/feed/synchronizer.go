package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/ludexhq/ludex/pkg/telemetry"
)

// ErrClosed is returned by operations on a closed synchronizer.
var ErrClosed = errors.New("synchronizer closed")

const (
	// DefaultFetchLimit is how many comments each fetch asks for.
	DefaultFetchLimit = 50
	// DefaultWindowSize is how many of the most recent comments Window returns.
	DefaultWindowSize = 50
	// DefaultPollInterval is the background snapshot cadence.
	DefaultPollInterval = 30 * time.Second
)

// Backend answers feed fetch and publish calls. Satisfied by *Client.
type Backend interface {
	Fetch(ctx context.Context, limit int) ([]Comment, error)
	Publish(ctx context.Context, pub Publication) (*Comment, error)
}

// Options configures a Synchronizer.
type Options struct {
	FetchLimit   int
	WindowSize   int
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Synchronizer reconciles the comment collection from two inputs: periodic
// poll snapshots, which replace the whole collection, and push frames, which
// insert single comments. Poll failures keep the previous snapshot; push
// frames that duplicate a held comment are no-ops. Subscribers are invoked
// with the current window after every change.
type Synchronizer struct {
	backend Backend
	push    PushStream
	logger  *zap.Logger

	fetchLimit   int
	windowSize   int
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	coll    collection
	loaded  bool
	started bool
	closed  bool
	subs    map[string]func(window []Comment)
}

// NewSynchronizer wires a backend and an optional push stream. The push
// stream, when given, is owned by the synchronizer and closed with it.
func NewSynchronizer(backend Backend, push PushStream, opts Options) *Synchronizer {
	fetchLimit := opts.FetchLimit
	if fetchLimit <= 0 {
		fetchLimit = DefaultFetchLimit
	}
	windowSize := opts.WindowSize
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		backend:      backend,
		push:         push,
		logger:       logger,
		fetchLimit:   fetchLimit,
		windowSize:   windowSize,
		pollInterval: pollInterval,
		ctx:          ctx,
		cancel:       cancel,
		coll:         newCollection(),
		subs:         make(map[string]func([]Comment)),
	}
}

// LoadInitial fetches the first snapshot. It runs the fetch once: after a
// success, later calls return immediately. A failure is returned to the
// caller untouched and is not retried here.
func (s *Synchronizer) LoadInitial(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.loaded {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	comments, err := s.backend.Fetch(ctx, s.fetchLimit)
	if err != nil {
		return fmt.Errorf("initial feed load: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.loaded = true
	s.coll.replace(comments)
	size := s.coll.len()
	s.mu.Unlock()

	metricCollectionSize.Set(float64(size))
	s.logger.Info("feed loaded", zap.Int("comments", size))
	s.notify()
	return nil
}

// Start launches the poll and push loops. Calling Start more than once, or
// after Close, does nothing.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pollLoop()
	if s.push != nil {
		s.wg.Add(1)
		go s.pushLoop()
	}
}

func (s *Synchronizer) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

// poll fetches a fresh snapshot and replaces the collection with it. On
// failure the previous snapshot stays in place and nothing surfaces to the
// user.
func (s *Synchronizer) poll() {
	comments, err := s.backend.Fetch(s.ctx, s.fetchLimit)
	if err != nil {
		metricPollFailures.Inc()
		s.logger.Debug("feed poll failed, keeping previous snapshot", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.coll.replace(comments)
	size := s.coll.len()
	s.mu.Unlock()

	metricCollectionSize.Set(float64(size))
	s.notify()
}

func (s *Synchronizer) pushLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-s.push.Frames():
			if !ok {
				return
			}
			s.handleFrame(frame)
		}
	}
}

// handleFrame applies one push frame. Only comment frames mutate the
// collection; heartbeat echoes and unknown types are dropped, as is any
// comment already held.
func (s *Synchronizer) handleFrame(frame Frame) {
	if frame.Type != FrameTypeComment || frame.Comment == nil {
		metricFramesDropped.Inc()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	inserted := s.coll.upsert(*frame.Comment)
	size := s.coll.len()
	s.mu.Unlock()

	if !inserted {
		metricFramesDuplicate.Inc()
		return
	}
	metricFramesApplied.Inc()
	metricCollectionSize.Set(float64(size))
	s.notify()
}

// Publish sends a comment to the backend and, on success, inserts the stored
// version into the collection. On failure nothing changes locally; the error
// comes back to the caller, ErrSignInRequired when authentication is missing.
func (s *Synchronizer) Publish(ctx context.Context, pub Publication) (*Comment, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "feed.publish")
	defer span.End()
	if pub.EntityID != "" {
		span.SetAttributes(telemetry.AttrEntityID.String(pub.EntityID))
	}

	stored, err := s.backend.Publish(ctx, pub)
	if err != nil {
		metricPublishFailures.Inc()
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	span.SetAttributes(telemetry.AttrCommentID.String(stored.ID))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return stored, nil
	}
	s.coll.upsert(*stored)
	size := s.coll.len()
	s.mu.Unlock()

	metricCollectionSize.Set(float64(size))
	s.notify()
	return stored, nil
}

// Window returns a copy of the most recent comments, ascending by creation
// time.
func (s *Synchronizer) Window() []Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll.window(s.windowSize)
}

// All returns a copy of every held comment, ascending by creation time.
func (s *Synchronizer) All() []Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll.window(0)
}

// Len reports how many comments are held.
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll.len()
}

// Subscription is the handle returned by Subscribe. Dropping it without
// calling Unsubscribe leaks the callback for the synchronizer's lifetime.
type Subscription struct {
	id string
	s  *Synchronizer
}

// Unsubscribe removes the registration. Safe to call more than once.
func (sub *Subscription) Unsubscribe() {
	sub.s.mu.Lock()
	defer sub.s.mu.Unlock()
	delete(sub.s.subs, sub.id)
}

// Subscribe registers fn to run with the current window after every change
// to the collection.
func (s *Synchronizer) Subscribe(fn func(window []Comment)) *Subscription {
	id := ulid.Make().String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.subs[id] = fn
	}
	return &Subscription{id: id, s: s}
}

// notify hands the current window to every subscriber. Callbacks run outside
// the lock so they may call back into the synchronizer.
func (s *Synchronizer) notify() {
	s.mu.Lock()
	if len(s.subs) == 0 {
		s.mu.Unlock()
		return
	}
	window := s.coll.window(s.windowSize)
	fns := make([]func([]Comment), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(window)
	}
}

// Close stops both loops, closes the push stream if one was given, and waits
// for everything to finish. Safe to call more than once.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subs = make(map[string]func([]Comment))
	s.mu.Unlock()

	s.cancel()
	var err error
	if s.push != nil {
		err = s.push.Close()
	}
	s.wg.Wait()
	return err
}
