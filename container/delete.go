// Package container implements the delete operation.
package container

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"time"

	cerrors "nsrun/errors"
	"nsrun/hooks"
	"nsrun/linux"
	"nsrun/logging"
	"nsrun/spec"
)

// gracePeriod is how long delete waits after SIGTERM before escalating to
// SIGKILL.
const gracePeriod = 100 * time.Millisecond

// DeleteOptions contains options for container deletion. The CLI surface
// carries no force flag: a running container is always signalled
// (SIGTERM, grace period, then SIGKILL if still alive) unconditionally.
type DeleteOptions struct{}

// Delete removes a container. A missing record is an error at this layer
// (the caller decides whether to still attempt cgroup cleanup), matching
// the "state conflict" error category: delete/state on a missing id is a
// reported failure, not a silent no-op.
func Delete(ctx context.Context, id, stateRoot string, opts *DeleteOptions) error {
	c, err := Load(ctx, id, stateRoot)
	if err != nil {
		return err
	}

	c.RefreshStatus()

	if c.IsRunning() {
		pid := c.InitProcess
		if err := c.Signal(syscall.SIGTERM); err != nil {
			logging.WarnContext(ctx, "sigterm failed", "container_id", id, "pid", pid, "error", err)
		}

		select {
		case <-ctx.Done():
		case <-time.After(gracePeriod):
		}

		if syscall.Kill(pid, 0) == nil {
			if err := c.Signal(syscall.SIGKILL); err != nil {
				logging.WarnContext(ctx, "sigkill failed", "container_id", id, "pid", pid, "error", err)
			}
			waitForExit(ctx, pid, 5*time.Second)
		}
	}

	// Cgroup cleanup is attempted unconditionally now that a record was
	// loaded, and must never fail the delete path.
	cgroupPath := c.CgroupPath
	if cgroupPath == "" {
		cgroupPath = linux.GetCgroupPath(c.ID, "")
	}
	if cgroup, err := linux.NewCgroup(cgroupPath); err == nil {
		if err := cgroup.Destroy(); err != nil {
			logging.WarnContext(ctx, "cgroup cleanup failed", "container_id", id, "error", err)
		}
	}

	os.Remove(c.ExecFifoPath())

	if err := os.RemoveAll(c.StateDir); err != nil {
		return cerrors.WrapWithContainer(err, cerrors.ErrInternal, "remove state dir", id)
	}

	if c.Spec != nil {
		if err := hooks.Run(ctx, c.Spec.Hooks, hooks.Poststop, c.GetState()); err != nil {
			logging.WarnContext(ctx, "poststop hooks failed", "container_id", id, "error", err)
		}
	}

	return nil
}

// waitForExit waits for a process to exit with a timeout.
func waitForExit(ctx context.Context, pid int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if syscall.Kill(pid, 0) != nil {
			return // Process exited
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Cleanup removes all state for containers that are no longer running.
func Cleanup(ctx context.Context, stateRoot string) error {
	if stateRoot == "" {
		stateRoot = ResolveStateDir()
	}

	entries, err := os.ReadDir(stateRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !entry.IsDir() {
			continue
		}

		c, err := Load(ctx, entry.Name(), stateRoot)
		if err != nil {
			os.RemoveAll(filepath.Join(stateRoot, entry.Name()))
			continue
		}

		c.RefreshStatus()
		if c.State.Status == spec.StatusStopped {
			if err := Delete(ctx, c.ID, stateRoot, &DeleteOptions{}); err != nil {
				logging.WarnContext(ctx, "cleanup delete failed", "container_id", c.ID, "error", err)
			}
		}
	}

	return nil
}
