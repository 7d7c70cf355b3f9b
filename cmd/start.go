package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nsrun/container"
)

var startCmd = &cobra.Command{
	Use:   "start <container-id>",
	Short: "Start a created container",
	Long:  `Start a container that has been created with 'create'. Detached by default.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var (
	startAttach      bool
	startDetach      bool
	startPidFile     string
	startConsoleSock string
)

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().BoolVarP(&startAttach, "attach", "a", false, "attach to the container's process and wait for it to exit")
	startCmd.Flags().BoolVarP(&startDetach, "detach", "d", false, "start the container and return immediately (default)")
	startCmd.Flags().StringVarP(&startPidFile, "pid-file", "p", "", "path to write the container PID to")
	startCmd.Flags().StringVar(&startConsoleSock, "console-socket", "", "path to a socket for receiving the console file descriptor")
}

func runStart(cmd *cobra.Command, args []string) error {
	if startAttach && startDetach {
		return fmt.Errorf("--attach and --detach are mutually exclusive")
	}

	ctx := GetContext()
	containerID := args[0]

	c, err := container.Load(ctx, containerID, GetStateRoot())
	if err != nil {
		return fmt.Errorf("load container: %w", err)
	}

	opts := &container.StartOptions{
		PidFile:       startPidFile,
		ConsoleSocket: startConsoleSock,
	}

	if err := c.Start(ctx, opts); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	if !startAttach {
		return nil
	}

	code, err := c.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for container: %w", err)
	}

	os.Exit(code)
	return nil
}
