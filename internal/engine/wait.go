package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/client"
)

// WaitForLocal polls the local engine until it answers a ping, with a fixed
// attempt budget spaced one second apart. A stuck engine start is a soft
// failure: the caller decides whether to retry or continue anyway.
func WaitForLocal(ctx context.Context, attempts int, log *slog.Logger) error {
	if attempts <= 0 {
		attempts = 30
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create engine client: %w", err)
	}
	defer cli.Close()

	var lastErr error
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		_, lastErr = cli.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Debug("engine not ready", "attempt", i+1, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("engine did not become ready after %d attempts: %w", attempts, lastErr)
}
