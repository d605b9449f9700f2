package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jmylchreest/archsense/internal/model"
)

// DefaultTimeout bounds a round trip when the context has no deadline.
const DefaultTimeout = 5 * time.Second

// Client is a connection to archsensed. It is safe for concurrent use;
// round trips are serialized.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

// Dial connects to the daemon socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to archsensed at %s: %w", path, err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends cmd and waits for its response. Transport and framing failures
// are returned as err; a daemon-side rejection is returned in resp.Err.
func (c *Client) Do(ctx context.Context, cmd Command) (*Response, error) {
	frame, err := EncodeRequest(cmd)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := c.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", cmd.Tag(), ctxErr(ctx, err))
	}
	payload, err := ReadFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", ctxErr(ctx, err))
	}
	return ParseResponse(payload)
}

// Exec runs cmd and returns the resulting snapshot. A daemon-side rejection
// is returned as a *model.CommandError.
func (c *Client) Exec(ctx context.Context, cmd Command) (*model.Snapshot, []Warning, error) {
	resp, err := c.Do(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}
	if resp.Err != nil {
		return nil, nil, resp.Err
	}
	return resp.State, resp.Warnings, nil
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}

// Session is a Client that dials lazily and redials after a transport
// failure, for long-lived callers that must survive a daemon restart.
type Session struct {
	mu     sync.Mutex
	path   string
	client *Client
}

// NewSession creates a session for the daemon socket at path. No
// connection is made until the first Exec.
func NewSession(path string) *Session {
	return &Session{path: path}
}

// Exec runs cmd, connecting first if needed. Any error other than a
// daemon-side rejection drops the connection.
func (s *Session) Exec(ctx context.Context, cmd Command) (*model.Snapshot, []Warning, error) {
	if err := cmd.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid %s command: %w", cmd.Tag(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		c, err := Dial(ctx, s.path)
		if err != nil {
			return nil, nil, err
		}
		s.client = c
	}

	snap, warnings, err := s.client.Exec(ctx, cmd)
	var cmdErr *model.CommandError
	if err != nil && !errors.As(err, &cmdErr) {
		s.client.Close()
		s.client = nil
	}
	return snap, warnings, err
}

// Close closes the current connection, if any.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
