package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aweris/objstore"
)

var rmCmd = &cobra.Command{
	Use:   "rm <entity>...",
	Short: "Remove entities from the index",
	Long:  "Remove entities from the index. Their commits stay in the value store.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRm,
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	return withStore(func(s *objstore.ObjectStore) error {
		for _, entity := range args {
			if err := s.Remove(context.Background(), entity); err != nil {
				return err
			}
		}
		return nil
	})
}
