package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const DefaultBufferSize = 32 * 1024

type Direction string

const (
	ClientToBackend Direction = "client->backend"
	BackendToClient Direction = "backend->client"
)

// Error is a mid-stream I/O failure. It ends the affected direction only.
type Error struct {
	Direction Direction
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Direction, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Options struct {
	// BufferSize is the chunk size of each direction. Defaults to 32 KiB.
	BufferSize int
	// IdleTimeout ends the session once neither direction has moved data
	// for this long. Zero disables it.
	IdleTimeout time.Duration
}

// Stats describes a finished session.
type Stats struct {
	ClientToBackend int64
	BackendToClient int64
	Duration        time.Duration
}

type closeWriter interface {
	CloseWrite() error
}

// Relay copies client->backend and backend->client until both directions
// have ended. It always closes both connections before returning. The error
// is the first *Error observed, or nil when both sides finished with EOF or
// the context was cancelled.
func Relay(ctx context.Context, client, backend net.Conn, opts Options) (Stats, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	start := time.Now()

	var (
		closeOnce sync.Once
		closing   atomic.Bool
	)
	closeBoth := func() {
		closeOnce.Do(func() {
			closing.Store(true)
			_ = client.Close()
			_ = backend.Close()
		})
	}
	defer closeBoth()

	// cancellation closes both connections, which unblocks pending reads
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var up, down atomic.Int64
	var g errgroup.Group

	s := &session{opts: opts, closing: &closing, abort: closeBoth}
	s.touch()

	g.Go(func() error {
		return s.pipe(backend, client, &up, ClientToBackend)
	})
	g.Go(func() error {
		return s.pipe(client, backend, &down, BackendToClient)
	})

	err := g.Wait()

	stats := Stats{
		ClientToBackend: up.Load(),
		BackendToClient: down.Load(),
		Duration:        time.Since(start),
	}

	if ctx.Err() != nil {
		return stats, nil
	}
	return stats, err
}

// session is the state both directions of one Relay share.
type session struct {
	opts    Options
	closing *atomic.Bool
	abort   func()
	// lastActive is the UnixNano time data last moved in either direction.
	lastActive atomic.Int64
}

func (s *session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *session) idleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActive.Load()))
}

// expired reports whether a read deadline on one direction should end the
// session. While the other direction keeps moving data it only extends the
// deadline.
func (s *session) expired(err error) bool {
	if s.opts.IdleTimeout <= 0 || !errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	return s.idleFor() >= s.opts.IdleTimeout
}

func (s *session) pipe(dst, src net.Conn, counter *atomic.Int64, dir Direction) error {
	// errors that follow a teardown started elsewhere are not reported
	fail := func(err error) error {
		if s.closing.Load() || errors.Is(err, net.ErrClosed) {
			s.abort()
			return nil
		}
		s.abort()
		return &Error{Direction: dir, Err: err}
	}

	buf := make([]byte, s.opts.BufferSize)

	for {
		if s.opts.IdleTimeout > 0 {
			_ = src.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout - s.idleFor()))
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			s.touch()
			written, writeErr := dst.Write(buf[:n])
			counter.Add(int64(written))
			if writeErr == nil && written != n {
				writeErr = io.ErrShortWrite
			}
			if writeErr != nil {
				return fail(writeErr)
			}
			s.touch()
		}

		if readErr == nil {
			continue
		}

		if errors.Is(readErr, io.EOF) {
			halfClose(dst, s.abort)
			return nil
		}

		if !s.expired(readErr) {
			continue
		}

		return fail(readErr)
	}
}

// halfClose propagates EOF to dst. Connections without a write side to close
// are torn down completely instead.
func halfClose(dst net.Conn, abort func()) {
	if cw, ok := dst.(closeWriter); ok {
		if err := cw.CloseWrite(); err == nil {
			return
		}
	}
	abort()
}
