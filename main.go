// nsrun is an OCI-compliant container runtime.
//
// This is an educational implementation that follows the OCI Runtime Specification.
// It can be used as a drop-in replacement for runc with Docker or other container engines.
//
// Commands:
//
//	create  - Create a container (but don't start it)
//	start   - Start a created container
//	run     - Create and start a container
//	state   - Output the state of a container
//	kill    - Send a signal to a container
//	delete  - Delete a container
//	list    - List containers
//	spec    - Generate a default OCI spec
//	exec    - Execute a process in a running container
//	init    - Internal command for container initialization
//	exec-init - Internal command for joining a container's namespaces
package main

import (
	"fmt"
	"os"

	"nsrun/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
