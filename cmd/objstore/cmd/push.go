package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/objstore"
)

var pushCmd = &cobra.Command{
	Use:   "push [tags...]",
	Short: "Push to remote registry",
	Long:  "Push every entity head and its reachable values to the configured OCI registry. Optionally push to additional tags.",
	RunE:  runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) error {
	return withStore(func(s *objstore.ObjectStore) error {
		if err := s.Push(context.Background(), args...); err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		fmt.Fprintln(os.Stderr, "Done.")
		return nil
	})
}
