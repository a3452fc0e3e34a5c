package docker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

const readyPollInterval = time.Second

// Pinger is the part of the Docker client WaitReady needs.
type Pinger interface {
	Ping(ctx context.Context) (types.Ping, error)
}

// WaitReady blocks until the Docker daemon answers a ping. Connection
// failures are retried every second until timeout; any other error is
// returned immediately.
func WaitReady(ctx context.Context, cli Pinger, timeout time.Duration) error {
	log := slog.With("component", "docker")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	waiting := false
	for {
		_, err := cli.Ping(ctx)
		if err == nil {
			if waiting {
				log.Debug("daemon reachable")
			}
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("wait for docker daemon: %w", ctx.Err())
		}
		if !client.IsErrConnectionFailed(err) {
			log.Error("ping failed", "err", err)
			return fmt.Errorf("connect to docker daemon: %w", err)
		}
		if !waiting {
			waiting = true
			log.Debug("waiting for docker daemon")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for docker daemon: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
