package protocol

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/archsense/internal/model"
)

func TestClient_Exec(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	c := &Client{conn: clientConn, timeout: time.Second}
	defer c.Close()

	go func() {
		for {
			payload, err := ReadFrame(serverConn)
			if err != nil {
				return
			}
			cmd, err := ParseRequest(payload)
			var resp *Response
			switch {
			case err != nil:
				resp = FailWith(err)
			case cmd.Tag() == TagSetFanMode:
				resp = Fail(model.KindUnavailable, "busy")
			default:
				s := model.DefaultHardwareState()
				resp = OK(&model.Snapshot{HardwareState: s})
			}
			frame, err := EncodeResponse(resp)
			if err != nil {
				return
			}
			if _, err := serverConn.Write(frame); err != nil {
				return
			}
		}
	}()

	ctx := context.Background()
	snap, _, err := c.Exec(ctx, GetState{})
	require.NoError(t, err)
	assert.Equal(t, model.FanAuto, snap.FanMode)

	_, _, err = c.Exec(ctx, SetFanMode{Mode: model.FanTurbo})
	var cmdErr *model.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, model.KindUnavailable, cmdErr.Kind)
	assert.True(t, cmdErr.Kind.Retryable())

	_, _, err = c.Exec(ctx, SetRgbSpeed{Speed: 20})
	assert.ErrorIs(t, err, model.ErrOutOfDomain)
}

func TestClient_ContextCancel(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	go func() {
		_, _ = ReadFrame(serverConn)
		// never answer
	}()

	c := &Client{conn: clientConn, timeout: time.Minute}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, GetState{})
	assert.Error(t, err)
}

// serveOnce answers one request on each accepted connection, then hangs up.
func serveOnce(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if _, err := ReadFrame(conn); err == nil {
				frame, _ := EncodeResponse(OK(&model.Snapshot{HardwareState: model.DefaultHardwareState(), Revision: 7}))
				_, _ = conn.Write(frame)
			}
			conn.Close()
		}
	}()
}

func TestSession_Redials(t *testing.T) {
	dir, err := os.MkdirTemp("", "asp")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "s.sock")

	s := NewSession(path)
	defer s.Close()

	ctx := context.Background()
	_, _, err = s.Exec(ctx, GetState{})
	require.Error(t, err, "nothing is listening yet")

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()
	serveOnce(t, ln)

	snap, _, err := s.Exec(ctx, GetState{})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), snap.Revision)

	// The server hung up; the next call fails and drops the connection.
	_, _, err = s.Exec(ctx, GetState{})
	require.Error(t, err)

	snap, _, err = s.Exec(ctx, GetState{})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), snap.Revision)
}

func TestSession_InvalidCommandKeepsConnection(t *testing.T) {
	s := NewSession("/nonexistent/archsensed.sock")
	_, _, err := s.Exec(context.Background(), SetRgbBrightness{Brightness: 101})
	assert.ErrorIs(t, err, model.ErrOutOfDomain)
}
