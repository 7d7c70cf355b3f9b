package container

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"testing"

	"nsrun/spec"
)

func TestDelete_MissingContainer(t *testing.T) {
	_, stateRoot := newTestContainerDirs(t)

	ctx := context.Background()
	if err := Delete(ctx, "does-not-exist", stateRoot, &DeleteOptions{}); err == nil {
		t.Error("expected error deleting a missing container")
	}
}

func TestDelete_RemovesStateDir(t *testing.T) {
	bundleDir, stateRoot := newTestContainerDirs(t)

	ctx := context.Background()
	c, err := New(ctx, "test-delete", bundleDir, stateRoot)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Create(ctx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := Delete(ctx, c.ID, stateRoot, &DeleteOptions{}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := os.Stat(c.StateDir); !os.IsNotExist(err) {
		t.Errorf("expected state dir to be removed, stat err = %v", err)
	}
}

// TestDelete_SignalsRunningProcess exercises the SIGTERM path with a real,
// harmless long-lived process standing in for an init process.
func TestDelete_SignalsRunningProcess(t *testing.T) {
	bundleDir, stateRoot := newTestContainerDirs(t)

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot spawn test process: %v", err)
	}
	pid := cmd.Process.Pid
	defer cmd.Process.Kill()

	ctx := context.Background()
	c, err := New(ctx, "test-delete-running", bundleDir, stateRoot)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Create(ctx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	c.InitProcess = pid
	c.State.Pid = pid
	c.State.Status = spec.StatusRunning
	if err := c.SaveState(); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}

	if err := Delete(ctx, c.ID, stateRoot, &DeleteOptions{}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if syscall.Kill(pid, 0) == nil {
		t.Error("expected process to be terminated by Delete")
	}

	if _, err := os.Stat(c.StateDir); !os.IsNotExist(err) {
		t.Errorf("expected state dir to be removed, stat err = %v", err)
	}

	cmd.Wait()
}

func TestDelete_SecondDeleteFails(t *testing.T) {
	bundleDir, stateRoot := newTestContainerDirs(t)

	ctx := context.Background()
	c, err := New(ctx, "test-delete-idempotent", bundleDir, stateRoot)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Create(ctx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := Delete(ctx, c.ID, stateRoot, &DeleteOptions{}); err != nil {
		t.Fatalf("first Delete failed: %v", err)
	}

	if err := Delete(ctx, c.ID, stateRoot, &DeleteOptions{}); err == nil {
		t.Error("expected error deleting an already-deleted container")
	}
}
