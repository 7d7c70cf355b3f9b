package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nsrun/container"
)

var runCmd = &cobra.Command{
	Use:   "run <container-id>",
	Short: "Create and run a container",
	Long:  `Create and run a container in a single operation. Attached by default.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var (
	runBundle        string
	runPidFile       string
	runConsoleSocket string
	runAttach        bool
	runDetach        bool
	runRm            bool
	runRuntime       string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runBundle, "bundle", "b", ".", "path to the root of the bundle directory")
	runCmd.Flags().StringVarP(&runPidFile, "pid-file", "p", "", "path to write the container PID to")
	runCmd.Flags().StringVar(&runConsoleSocket, "console-socket", "", "path to a socket for receiving the console file descriptor")
	runCmd.Flags().BoolVarP(&runAttach, "attach", "a", false, "attach to the container's process and wait for it to exit (default)")
	runCmd.Flags().BoolVarP(&runDetach, "detach", "d", false, "detach from the container's process")
	runCmd.Flags().BoolVar(&runRm, "rm", false, "remove the container automatically after it exits (requires attached mode)")
	runCmd.Flags().StringVarP(&runRuntime, "runtime", "r", "container", "isolation backend to use (container or vm; vm is accepted but rejected at start)")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runAttach && runDetach {
		return fmt.Errorf("--attach and --detach are mutually exclusive")
	}
	if runRm && runDetach {
		return fmt.Errorf("--rm requires attached mode")
	}

	ctx := GetContext()
	containerID := args[0]

	mode, err := parseRuntimeMode(runRuntime)
	if err != nil {
		return err
	}

	c, err := container.New(ctx, containerID, runBundle, GetStateRoot())
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	c.State.Mode = mode

	opts := &container.StartOptions{
		PidFile:       runPidFile,
		ConsoleSocket: runConsoleSocket,
	}

	if err := c.Run(ctx, opts); err != nil {
		if runRm {
			if delErr := container.Delete(ctx, containerID, GetStateRoot(), &container.DeleteOptions{}); delErr != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to remove container: %v\n", delErr)
			}
		}
		return fmt.Errorf("run container: %w", err)
	}

	if runDetach {
		return nil
	}

	// Wait for container to exit
	code, err := c.Wait(ctx)

	if runRm {
		if delErr := container.Delete(ctx, containerID, GetStateRoot(), &container.DeleteOptions{}); delErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove container: %v\n", delErr)
		}
	}

	if err != nil {
		return fmt.Errorf("wait for container: %w", err)
	}

	os.Exit(code)
	return nil
}
