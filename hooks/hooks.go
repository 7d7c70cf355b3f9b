// Package hooks implements OCI lifecycle hooks.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"nsrun/spec"
)

// HookType identifies the type of hook.
type HookType string

const (
	// Prestart hooks (deprecated, use CreateRuntime)
	Prestart HookType = "prestart"

	// CreateRuntime hooks run after namespaces created, before pivot_root
	CreateRuntime HookType = "createRuntime"

	// CreateContainer hooks run after pivot_root, before user process
	CreateContainer HookType = "createContainer"

	// StartContainer hooks run after start, before user process executes
	StartContainer HookType = "startContainer"

	// Poststart hooks run after user process starts
	Poststart HookType = "poststart"

	// Poststop hooks run after container stops
	Poststop HookType = "poststop"
)

// Blocking determines whether a failure of hooks of a given type fails the
// caller's operation (Prestart/CreateRuntime/CreateContainer/StartContainer)
// or is logged as a warning only (Poststart/Poststop), matching the
// system/shutdown error-category split.
func Blocking(hookType HookType) bool {
	switch hookType {
	case Poststart, Poststop:
		return false
	default:
		return true
	}
}

// Run executes all hooks of the given type, in order, against state.
func Run(ctx context.Context, hookSet *spec.Hooks, hookType HookType, state *spec.State) error {
	if hookSet == nil {
		return nil
	}

	var hookList []spec.Hook
	switch hookType {
	case Prestart:
		hookList = hookSet.Prestart
	case CreateRuntime:
		hookList = hookSet.CreateRuntime
	case CreateContainer:
		hookList = hookSet.CreateContainer
	case StartContainer:
		hookList = hookSet.StartContainer
	case Poststart:
		hookList = hookSet.Poststart
	case Poststop:
		hookList = hookSet.Poststop
	default:
		return fmt.Errorf("unknown hook type: %s", hookType)
	}

	for _, hook := range hookList {
		if err := runHook(ctx, hook, state); err != nil {
			return fmt.Errorf("%s hook %s: %w", hookType, hook.Path, err)
		}
	}

	return nil
}

// runHook executes a single hook, feeding it the OCI state as JSON on stdin.
func runHook(ctx context.Context, hook spec.Hook, state *spec.State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	runCtx := ctx
	if hook.Timeout != nil && *hook.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(*hook.Timeout)*time.Second)
		defer cancel()
	}

	args := hook.Args
	if len(args) == 0 {
		args = []string{hook.Path}
	}

	cmd := exec.CommandContext(runCtx, hook.Path, args[1:]...)
	cmd.Stdin = bytes.NewReader(stateJSON)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), hook.Env...)

	return cmd.Run()
}

// RunWithState is a convenience function that builds a minimal OCI state
// object and runs hooks of hookType against it.
func RunWithState(ctx context.Context, hookSet *spec.Hooks, hookType HookType, id string, pid int, bundle string, status spec.ContainerStatus) error {
	state := &spec.State{
		Version: spec.Version,
		ID:      id,
		Status:  status,
		Pid:     pid,
		Bundle:  bundle,
	}
	return Run(ctx, hookSet, hookType, state)
}
