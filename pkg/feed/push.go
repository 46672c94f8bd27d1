package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FrameTypeHeartbeat is the keepalive frame written to the stream.
const FrameTypeHeartbeat = "heartbeat"

const (
	heartbeatInterval = 20 * time.Second
	dialTimeout       = 15 * time.Second
	readTimeout       = 90 * time.Second
	writeTimeout      = 10 * time.Second
	initialBackoff    = 500 * time.Millisecond
	maxBackoff        = 30 * time.Second
	maxFrameBytes     = 1 << 20
	frameBuffer       = 64
)

// PushStream delivers decoded push frames until closed. The channel returned
// by Frames closes once the stream shuts down for good.
type PushStream interface {
	Frames() <-chan Frame
	Close() error
}

// Push maintains the websocket connection to the comment push stream. It
// reconnects with exponential backoff, writes an application-level heartbeat
// every 20 seconds, and skips frames it cannot decode. An authentication
// rejection during the handshake ends the stream permanently.
type Push struct {
	endpoint  string
	header    http.Header
	dialer    *websocket.Dialer
	logger    *zap.Logger
	heartbeat time.Duration

	frames chan Frame
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

// PushOptions configures optional stream behavior.
type PushOptions struct {
	Dialer *websocket.Dialer
	Logger *zap.Logger
	// HeartbeatInterval overrides the keepalive cadence. Zero keeps the
	// 20 second default.
	HeartbeatInterval time.Duration
}

// NewPush derives the stream endpoint from the API base URL and starts
// connecting immediately. Frames become available on Frames().
func NewPush(apiBase, token string, opts PushOptions) (*Push, error) {
	endpoint, err := streamURL(apiBase)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = heartbeatInterval
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Push{
		endpoint:  endpoint,
		header:    header,
		dialer:    dialer,
		logger:    logger,
		heartbeat: heartbeat,
		frames:    make(chan Frame, frameBuffer),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// streamURL swaps the API base's scheme for its websocket counterpart and
// appends the stream path plus a fresh session id.
func streamURL(apiBase string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("parsing api base: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported api scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/comments/stream"
	q := u.Query()
	q.Set("session", uuid.NewString())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Frames returns the channel of decoded frames.
func (p *Push) Frames() <-chan Frame {
	return p.frames
}

// Close tears the stream down and waits for its goroutines to finish. The
// frames channel closes as part of shutdown.
func (p *Push) Close() error {
	p.closeOnce.Do(p.cancel)
	<-p.done
	return nil
}

func (p *Push) run() {
	defer func() {
		close(p.frames)
		close(p.done)
	}()

	backoff := initialBackoff
	connected := false
	for {
		if p.ctx.Err() != nil {
			return
		}

		dialCtx, cancel := context.WithTimeout(p.ctx, dialTimeout)
		conn, resp, err := p.dialer.DialContext(dialCtx, p.endpoint, p.header)
		cancel()
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			status := 0
			if resp != nil {
				resp.Body.Close()
				status = resp.StatusCode
			}
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				p.logger.Warn("push stream rejected, giving up", zap.Int("status", status))
				return
			}
			p.logger.Debug("push stream dial failed",
				zap.Error(err), zap.Duration("retry_in", backoff))
			if !p.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			metricReconnects.Inc()
			continue
		}

		if connected {
			metricReconnects.Inc()
		}
		connected = true
		backoff = initialBackoff
		p.logger.Info("push stream connected")

		p.serve(conn)

		if p.ctx.Err() != nil {
			return
		}
		p.logger.Debug("push stream disconnected", zap.Duration("retry_in", backoff))
		if !p.sleep(backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// serve reads frames from one connection until it fails or the stream is
// closed. The heartbeat writer and the close watcher live for exactly as
// long as the connection does.
func (p *Push) serve(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	var writeMu sync.Mutex
	stop := make(chan struct{})
	defer close(stop)

	go p.keepalive(conn, &writeMu, stop)
	go func() {
		select {
		case <-p.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"),
				time.Now().Add(writeTimeout))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if p.ctx.Err() == nil &&
				websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debug("push stream read failed", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			metricFramesDropped.Inc()
			continue
		}
		select {
		case p.frames <- frame:
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Push) keepalive(conn *websocket.Conn, writeMu *sync.Mutex, stop <-chan struct{}) {
	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteJSON(Frame{Type: FrameTypeHeartbeat})
			writeMu.Unlock()
			if err != nil {
				// A failed write means the connection is gone; the read
				// loop handles reconnection.
				return
			}
			metricHeartbeats.Inc()
		}
	}
}

// sleep waits for d or until the stream is closed, reporting whether the
// caller should keep going.
func (p *Push) sleep(d time.Duration) bool {
	select {
	case <-p.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
