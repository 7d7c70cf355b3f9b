package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"nsrun/container"
)

var createCmd = &cobra.Command{
	Use:   "create <container-id>",
	Short: "Create a container",
	Long: `Create a container from a bundle directory.
The container will be in the "created" state, waiting for 'start' to be called.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

var (
	createBundle  string
	createRuntime string
)

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVarP(&createBundle, "bundle", "b", ".", "path to the root of the bundle directory")
	createCmd.Flags().StringVarP(&createRuntime, "runtime", "r", "container", "isolation backend to use (container or vm; vm is accepted but rejected at start)")
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	containerID := args[0]

	mode, err := parseRuntimeMode(createRuntime)
	if err != nil {
		return err
	}

	c, err := container.New(ctx, containerID, createBundle, GetStateRoot())
	if err != nil {
		return err
	}
	c.State.Mode = mode

	if err := c.Create(ctx); err != nil {
		return fmt.Errorf("create container: %w", err)
	}

	return nil
}
