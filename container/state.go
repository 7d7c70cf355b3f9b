// Package container implements the state operation.
package container

import (
	"context"
	"fmt"
)

// State prints the container's persisted status - one of
// created/running/stopped/paused/unknown - to stdout. It never probes
// init_pid; the stored status is authoritative regardless of whether the
// process is still alive.
func State(ctx context.Context, id, stateRoot string) error {
	c, err := Load(ctx, id, stateRoot)
	if err != nil {
		return fmt.Errorf("load container: %w", err)
	}

	c.mu.RLock()
	status := c.State.Status
	c.mu.RUnlock()

	fmt.Println(status)
	return nil
}
