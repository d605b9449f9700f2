package daemon

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sys/unix"

	"github.com/jmylchreest/archsense/internal/metrics"
	"github.com/jmylchreest/archsense/internal/model"
	"github.com/jmylchreest/archsense/internal/protocol"
)

// ErrAlreadyRunning is returned by Lock and Start when another daemon holds
// the lock.
var ErrAlreadyRunning = errors.New("daemon already running")

// Handler executes a decoded command.
type Handler interface {
	Handle(ctx context.Context, cmd protocol.Command) *protocol.Response
}

// ServerConfig configures the control socket.
type ServerConfig struct {
	SocketPath   string
	SocketMode   os.FileMode
	SocketGroup  string
	ReadTimeout  time.Duration // 0 = no idle limit
	WriteTimeout time.Duration
}

// Server accepts client connections on a Unix socket. Each connection is
// served by its own goroutine, one request at a time.
type Server struct {
	cfg      ServerConfig
	handler  Handler
	logger   *slog.Logger
	recorder metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	lockFile *os.File
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	shutdown sync.Once
	stopErr  error
}

// NewServer creates a server dispatching to h.
func NewServer(cfg ServerConfig, h Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SocketMode == 0 {
		cfg.SocketMode = 0o660
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		handler:  h,
		logger:   logger,
		recorder: metrics.NoopRecorder{},
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
}

// SetRecorder sets the metrics recorder. Call before Start.
func (s *Server) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	s.recorder = r
}

// Lock takes the single-instance lock without binding the socket. It is a
// no-op when the lock is already held. Stop releases it.
func (s *Server) Lock() error {
	s.mu.Lock()
	held := s.lockFile != nil
	s.mu.Unlock()
	if held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	return s.acquireLock()
}

// Start takes the single-instance lock if Lock has not, binds the socket
// and begins accepting connections in the background.
func (s *Server) Start() error {
	if err := s.Lock(); err != nil {
		return err
	}
	if st, err := os.Lstat(s.cfg.SocketPath); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			s.releaseLock()
			return fmt.Errorf("socket path exists and is not a unix socket: %s", s.cfg.SocketPath)
		}
		if err := os.Remove(s.cfg.SocketPath); err != nil {
			s.releaseLock()
			return fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		s.releaseLock()
		return fmt.Errorf("stat socket path: %w", err)
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		s.releaseLock()
		return fmt.Errorf("listen on %s: %w", s.cfg.SocketPath, err)
	}
	if err := s.setPermissions(); err != nil {
		ln.Close()
		os.Remove(s.cfg.SocketPath)
		s.releaseLock()
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info("listening", "socket", s.cfg.SocketPath, "mode", fmt.Sprintf("%#o", s.cfg.SocketMode))
	return nil
}

func (s *Server) setPermissions() error {
	if err := os.Chmod(s.cfg.SocketPath, s.cfg.SocketMode); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}
	if s.cfg.SocketGroup == "" {
		return nil
	}
	g, err := user.LookupGroup(s.cfg.SocketGroup)
	if err != nil {
		return fmt.Errorf("lookup socket group: %w", err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return fmt.Errorf("parse gid %q: %w", g.Gid, err)
	}
	if err := os.Chown(s.cfg.SocketPath, -1, gid); err != nil {
		return fmt.Errorf("chown socket: %w", err)
	}
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff < time.Second {
				backoff *= 2
			}
			s.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// serve runs one connection: read a frame, dispatch, write the response,
// repeat. A malformed frame is answered once and the connection closed.
func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	s.recorder.ConnectionOpened()
	defer s.recorder.ConnectionClosed()

	logger := s.logger.With("conn", newConnID())
	logger.Debug("client connected")

	for {
		var deadline time.Time
		if s.cfg.ReadTimeout > 0 {
			deadline = time.Now().Add(s.cfg.ReadTimeout)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			logger.Debug("failed to set read deadline", "error", err)
			return
		}

		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			var decErr *protocol.DecodeError
			switch {
			case errors.As(err, &decErr):
				logger.Warn("protocol violation", "error", err)
				s.respond(conn, logger, protocol.FailWith(decErr))
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
				logger.Debug("client disconnected")
			case isTimeout(err):
				logger.Debug("closing idle connection")
			default:
				logger.Debug("read failed", "error", err)
			}
			return
		}

		var (
			resp  *protocol.Response
			fatal bool
		)
		cmd, err := protocol.ParseRequest(payload)
		if err != nil {
			var decErr *protocol.DecodeError
			fatal = errors.As(err, &decErr) && decErr.Fatal()
			logger.Debug("rejected request", "error", err)
			resp = protocol.FailWith(err)
		} else {
			logger.Debug("handling command", "command", cmd.Tag())
			resp = s.handler.Handle(s.ctx, cmd)
		}

		if !s.respond(conn, logger, resp) || fatal {
			return
		}
	}
}

func (s *Server) respond(conn net.Conn, logger *slog.Logger, resp *protocol.Response) bool {
	frame, err := protocol.EncodeResponse(resp)
	if err != nil {
		logger.Error("failed to encode response", "error", err)
		frame, err = protocol.EncodeResponse(protocol.Fail(model.KindIoFailure, "internal error encoding response"))
		if err != nil {
			return false
		}
	}

	var deadline time.Time
	if s.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(s.cfg.WriteTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return false
	}
	if _, err := conn.Write(frame); err != nil {
		logger.Debug("failed to write response", "error", err)
		return false
	}
	return true
}

// Stop closes the listener and every open connection, waits for their
// goroutines, removes the socket and releases the lock.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdown.Do(func() {
		s.mu.Lock()
		s.cancel()
		listener := s.listener
		s.listener = nil
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()

		var errs []error
		if listener != nil {
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for connections: %w", ctx.Err()))
		}

		if listener != nil {
			if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		if err := s.releaseLock(); err != nil {
			errs = append(errs, err)
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}

func (s *Server) acquireLock() error {
	lockPath := s.cfg.SocketPath + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("%w: %s is locked", ErrAlreadyRunning, lockPath)
	}
	s.mu.Lock()
	s.lockFile = f
	s.mu.Unlock()
	return nil
}

func (s *Server) releaseLock() error {
	s.mu.Lock()
	f := s.lockFile
	s.lockFile = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}

func newConnID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
