package origin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Announce registers self with a TCP registrar at addr. self may be a bare
// port, host:port or tcp://host:port; an empty self registers the dialling
// address.
func Announce(ctx context.Context, addr, self string, timeout time.Duration) ([]string, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("announce %s: %w", self, err)
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	if self != "" {
		if _, err := io.WriteString(conn, self+"\n"); err != nil {
			return nil, fmt.Errorf("announce %s: %w", self, err)
		}
	}

	var members []string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if reason, ok := strings.CutPrefix(line, "error: "); ok {
			return nil, fmt.Errorf("%w: %s: %s", ErrRejected, self, reason)
		}
		if line != "" {
			members = append(members, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("announce %s: %w", self, err)
	}

	return members, nil
}

// ServeTCP replies to every connection with name, a colon and everything the
// peer sent, once the peer stops writing.
func ServeTCP(ctx context.Context, ln net.Listener, logger *slog.Logger, name string) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()

			data, err := io.ReadAll(conn)
			if err != nil {
				logger.Debug("Echo read failed", slog.Any("err", err))
				return
			}
			_, _ = fmt.Fprintf(conn, "%s:%s", name, data)
		}()
	}
}
