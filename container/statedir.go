package container

import (
	"os"
)

// systemStateDir is the conventional root-owned state directory used when no
// override is set and the process runs as uid 0.
const systemStateDir = "/run/nano-sandbox"

// userStateDirSuffix is appended to $HOME for non-root invocations.
const userStateDirSuffix = "/.local/share/nano-sandbox/run"

// fallbackStateDir is used when neither an override, root privilege, nor a
// usable $HOME is available.
const fallbackStateDir = "run"

// ResolveStateDir computes the state directory for the current invocation.
// It is a pure function of the environment and the effective uid and must
// never cache its result across calls, since tests and repeated CLI
// invocations may change the environment between calls.
//
// Resolution order: NS_RUN_DIR, then the legacy NK_RUN_DIR alias, then
// (uid 0) the fixed system path, then $HOME-relative, then a relative
// fallback.
func ResolveStateDir() string {
	if dir := os.Getenv("NS_RUN_DIR"); dir != "" {
		return dir
	}
	if dir := os.Getenv("NK_RUN_DIR"); dir != "" {
		return dir
	}
	if os.Geteuid() == 0 {
		return systemStateDir
	}
	if home := os.Getenv("HOME"); home != "" {
		return home + userStateDirSuffix
	}
	return fallbackStateDir
}
