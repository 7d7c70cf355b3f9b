// Package container implements the start operation.
package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	cerrors "nsrun/errors"
	"nsrun/hooks"
	"nsrun/linux"
	"nsrun/logging"
	"nsrun/spec"
	"nsrun/utils"
)

// StartOptions contains options for starting a container's process.
type StartOptions struct {
	// ConsoleSocket is the path to a unix socket for the console.
	ConsoleSocket string

	// PidFile is the path to write the container PID, once running.
	PidFile string
}

// Start brings a created container to life: it creates the namespaces and
// cgroup, spawns the re-exec'd init process, attaches it to the cgroup, and
// signals it to proceed to the user process. This is the only operation
// that puts a live pid behind init_pid.
func (c *Container) Start(ctx context.Context, opts *StartOptions) error {
	// Check context cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if opts == nil {
		opts = &StartOptions{}
	}

	// Verify container is in created state (thread-safe)
	c.mu.RLock()
	currentStatus := c.State.Status
	mode := c.State.Mode
	c.mu.RUnlock()
	if currentStatus != spec.StatusCreated {
		return cerrors.WrapWithDetail(nil, cerrors.ErrInvalidState, "start",
			fmt.Sprintf("container is not in created state (current: %s)", currentStatus))
	}
	if mode == spec.ModeVM {
		return cerrors.WrapWithDetail(nil, cerrors.ErrInvalidConfig, "start",
			"vm isolation backend not implemented")
	}

	// Create exec FIFO for synchronization
	if err := c.CreateExecFifo(); err != nil {
		return cerrors.Wrap(err, cerrors.ErrResource, "create exec fifo")
	}

	var cgroup *linux.Cgroup
	cleanup := func() {
		os.Remove(c.ExecFifoPath())
		if cgroup != nil {
			cgroup.Destroy()
		}
	}

	// Setup cgroup
	cgroupPath := linux.GetCgroupPath(c.ID, "")
	if c.Spec.Linux != nil && c.Spec.Linux.CgroupsPath != "" {
		cgroupPath = c.Spec.Linux.CgroupsPath
	}
	c.CgroupPath = cgroupPath

	linux.EnsureParentControllers(cgroupPath)

	var err error
	cgroup, err = linux.NewCgroup(cgroupPath)
	if err != nil {
		cleanup()
		return fmt.Errorf("create cgroup: %w", err)
	}

	if c.Spec.Linux != nil && c.Spec.Linux.Resources != nil {
		if err := cgroup.ApplyResources(c.Spec.Linux.Resources); err != nil {
			cleanup()
			return fmt.Errorf("apply resources: %w", err)
		}
	}

	// Get path to our own executable
	self, err := os.Executable()
	if err != nil {
		cleanup()
		return fmt.Errorf("get executable: %w", err)
	}

	// Build command for init process. We re-exec ourselves with "init".
	cmd := exec.Command(self, "init")
	cmd.Dir = c.Bundle

	sysProcAttr, err := linux.BuildSysProcAttr(c.Spec)
	if err != nil {
		cleanup()
		return fmt.Errorf("build sysprocattr: %w", err)
	}
	cmd.SysProcAttr = sysProcAttr

	cmd.Env = append(os.Environ(),
		fmt.Sprintf("_NSRUN_INIT_BUNDLE=%s", c.Bundle),
		fmt.Sprintf("_NSRUN_INIT_FIFO=%s", c.ExecFifoPath()),
		fmt.Sprintf("_NSRUN_INIT_ID=%s", c.ID),
		fmt.Sprintf("_NSRUN_STATE_DIR=%s", c.StateDir),
	)

	var console *utils.Console
	var consoleSlave *os.File
	if c.Spec.Process != nil && c.Spec.Process.Terminal && opts.ConsoleSocket != "" {
		// Console socket mode: create PTY and send master to socket
		console, err = utils.NewConsole()
		if err != nil {
			cleanup()
			return fmt.Errorf("create console: %w", err)
		}
		consoleSlave, err = console.OpenSlave()
		if err != nil {
			console.Close()
			cleanup()
			return fmt.Errorf("open console slave: %w", err)
		}
		cmd.Stdin = consoleSlave
		cmd.Stdout = consoleSlave
		cmd.Stderr = consoleSlave
		// Setctty is intentionally left unset here - it interferes with
		// namespace creation. The controlling terminal is set up in
		// InitContainer instead.
	} else if c.Spec.Process != nil && c.Spec.Process.Terminal {
		// Direct terminal mode: inherit from parent
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdin = nil
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		if console != nil {
			console.Close()
		}
		cleanup()
		return fmt.Errorf("start init: %w", err)
	}

	// Send PTY master to console socket (must be after cmd.Start)
	if console != nil {
		if err := utils.SendConsoleToSocket(opts.ConsoleSocket, console.Master()); err != nil {
			cmd.Process.Kill()
			console.Close()
			if consoleSlave != nil {
				consoleSlave.Close()
			}
			cleanup()
			return fmt.Errorf("send console to socket: %w", err)
		}
		console.Close()
		if consoleSlave != nil {
			consoleSlave.Close()
		}
	}

	c.mu.Lock()
	c.InitProcess = cmd.Process.Pid
	c.State.Pid = c.InitProcess
	c.mu.Unlock()

	if err := cgroup.AddProcess(c.InitProcess); err != nil {
		cmd.Process.Kill()
		cleanup()
		return fmt.Errorf("add to cgroup: %w", err)
	}

	if err := c.finishStart(ctx); err != nil {
		cmd.Process.Kill()
		cleanup()
		return err
	}

	if opts.PidFile != "" {
		if err := os.WriteFile(opts.PidFile, []byte(fmt.Sprintf("%d\n", c.InitProcess)), 0644); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
	}

	return nil
}

// finishStart runs the StartContainer hook, signals the already-spawned init
// process to proceed by writing to its sync FIFO, and marks the container
// running. It assumes c.InitProcess/c.ExecFifoPath are already valid.
func (c *Container) finishStart(ctx context.Context) error {
	if c.Spec != nil {
		if err := hooks.Run(ctx, c.Spec.Hooks, hooks.StartContainer, c.GetState()); err != nil {
			return cerrors.Wrap(err, cerrors.ErrInternal, "startContainer hooks")
		}
	}

	fifoPath := c.ExecFifoPath()
	fifo, err := os.OpenFile(fifoPath, os.O_WRONLY, 0)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrResource, "open fifo")
	}

	_, err = fifo.Write([]byte{0})
	fifo.Close()
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrResource, "write fifo")
	}

	if rmErr := os.Remove(fifoPath); rmErr != nil && !os.IsNotExist(rmErr) {
		fmt.Printf("[start] warning: failed to remove fifo: %v\n", rmErr)
	}

	if err := c.UpdateStatus(spec.StatusRunning); err != nil {
		return cerrors.Wrap(err, cerrors.ErrInternal, "save state")
	}

	if c.Spec != nil {
		if err := hooks.Run(ctx, c.Spec.Hooks, hooks.Poststart, c.GetState()); err != nil {
			logging.WarnContext(ctx, "poststart hooks failed", "container_id", c.ID, "error", err)
		}
	}

	return nil
}

// Run creates and starts a container in one operation.
func (c *Container) Run(ctx context.Context, opts *StartOptions) error {
	if err := c.Create(ctx); err != nil {
		return err
	}
	return c.Start(ctx, opts)
}

// Wait waits for the container process to exit and returns the exit code.
func (c *Container) Wait(ctx context.Context) (int, error) {
	if c.InitProcess <= 0 {
		return -1, cerrors.WrapWithContainer(nil, cerrors.ErrInvalidState, "wait", c.ID)
	}

	// Wait for the process (with context cancellation check)
	waitCh := make(chan struct {
		wstatus syscall.WaitStatus
		err     error
	}, 1)

	go func() {
		var wstatus syscall.WaitStatus
		_, err := syscall.Wait4(c.InitProcess, &wstatus, 0, nil)
		waitCh <- struct {
			wstatus syscall.WaitStatus
			err     error
		}{wstatus, err}
	}()

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case result := <-waitCh:
		if result.err != nil {
			return -1, cerrors.Wrap(result.err, cerrors.ErrInternal, "wait4")
		}

		// Update state: stopped, with init_pid cleared
		c.State.Status = spec.StatusStopped
		c.State.Pid = 0
		c.InitProcess = 0
		if saveErr := c.SaveState(); saveErr != nil {
			// Log error but still return exit code - state save is non-critical for Wait()
			fmt.Printf("[wait] warning: failed to save state: %v\n", saveErr)
		}

		// Return exit code
		if result.wstatus.Exited() {
			return result.wstatus.ExitStatus(), nil
		}
		if result.wstatus.Signaled() {
			return 128 + int(result.wstatus.Signal()), nil
		}

		return -1, nil
	}
}
