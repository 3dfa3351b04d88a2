package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/objstore"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull from remote registry",
	Long:  "Pull values and entity heads from the configured OCI registry. Local heads only move forward.",
	Args:  cobra.NoArgs,
	RunE:  runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

type pullView struct {
	Objects       int      `json:"objects" yaml:"objects"`
	Installed     []string `json:"installed,omitempty" yaml:"installed,omitempty"`
	FastForwarded []string `json:"fast_forwarded,omitempty" yaml:"fast_forwarded,omitempty"`
	Kept          []string `json:"kept,omitempty" yaml:"kept,omitempty"`
	Diverged      []string `json:"diverged,omitempty" yaml:"diverged,omitempty"`
}

func runPull(cmd *cobra.Command, args []string) error {
	return withStore(func(s *objstore.ObjectStore) error {
		result, err := s.Pull(context.Background())
		if result == nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		if perr := printValue(cmd.OutOrStdout(), pullView(*result)); perr != nil {
			return perr
		}
		return err
	})
}
