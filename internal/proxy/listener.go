package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

const maxAcceptDelay = time.Second

type connHandler func(ctx context.Context, conn net.Conn)

// serve runs the accept loop until ctx is cancelled or ln is closed, then
// waits for every in-flight handler. Accept errors never end the loop.
func serve(ctx context.Context, ln net.Listener, logger *slog.Logger, handle connHandler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	delay := newAcceptBackOff()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			wait := delay.NextBackOff()
			logger.Warn("Accept failed, retrying",
				slog.String("listener", ln.Addr().String()),
				slog.Duration("retry_in", wait),
				slog.Any("err", err))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		delay.Reset()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Connection handler panicked", slog.Any("panic", r))
					_ = conn.Close()
				}
			}()

			handle(ctx, conn)
		}()
	}
}

func newAcceptBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = maxAcceptDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
