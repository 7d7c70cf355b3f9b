package cmd

import "testing"

// resetStartFlags restores the start command's flag-backed globals to their
// zero values so tests don't leak state into each other.
func resetStartFlags() {
	startAttach = false
	startDetach = false
	startPidFile = ""
	startConsoleSock = ""
}

// resetRunFlags restores the run command's flag-backed globals to their
// zero values so tests don't leak state into each other.
func resetRunFlags() {
	runAttach = false
	runDetach = false
	runRm = false
	runBundle = ""
	runPidFile = ""
	runConsoleSocket = ""
	runRuntime = ""
}

func TestRunStart_RejectsAttachAndDetachTogether(t *testing.T) {
	defer resetStartFlags()
	startAttach = true
	startDetach = true

	err := runStart(nil, []string{"some-container"})
	if err == nil {
		t.Fatal("expected error when --attach and --detach are both set")
	}
}

func TestRunStart_AttachAloneIsValid(t *testing.T) {
	defer resetStartFlags()
	startAttach = true

	// Loading a nonexistent container fails downstream, but that's a
	// different error than the flag-exclusion one - confirm we get past
	// validation and into the load step.
	err := runStart(nil, []string{"does-not-exist-xyz"})
	if err == nil {
		t.Fatal("expected error loading a nonexistent container")
	}
}

func TestRunRun_RejectsAttachAndDetachTogether(t *testing.T) {
	defer resetRunFlags()
	runAttach = true
	runDetach = true
	runRuntime = "container"

	err := runRun(nil, []string{"some-container"})
	if err == nil {
		t.Fatal("expected error when --attach and --detach are both set")
	}
}

func TestRunRun_RejectsRmWithDetach(t *testing.T) {
	defer resetRunFlags()
	runRm = true
	runDetach = true
	runRuntime = "container"

	err := runRun(nil, []string{"some-container"})
	if err == nil {
		t.Fatal("expected error when --rm is combined with --detach")
	}
}

func TestRunRun_RmAloneReachesRuntimeCheck(t *testing.T) {
	defer resetRunFlags()
	runRm = true
	runRuntime = "bogus-mode"

	// --rm alone is valid; the runtime mode parse failure should surface
	// instead, proving the mutual-exclusion checks didn't misfire.
	err := runRun(nil, []string{"some-container"})
	if err == nil {
		t.Fatal("expected error from invalid --runtime value")
	}
}
