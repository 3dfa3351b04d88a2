package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/objstore"
)

var getCmd = &cobra.Command{
	Use:   "get <entity>...",
	Short: "Print the current value of entities",
	Long:  "Reconstruct entities from their head commit, or from --commit.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().String("commit", "", "read at this commit instead of the head")
	getCmd.Flags().Bool("shallow", false, "leave nested trees as references")
	getCmd.Flags().Bool("require-ancestry", false, "reject --commit unless it is in the entity history")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	commit, _ := cmd.Flags().GetString("commit")
	shallow, _ := cmd.Flags().GetBool("shallow")
	requireAncestry, _ := cmd.Flags().GetBool("require-ancestry")

	var opts []objstore.GetOption
	if commit != "" {
		d, err := objstore.ParseDigest(commit)
		if err != nil {
			return err
		}
		opts = append(opts, objstore.AtCommit(d))
	}
	if shallow {
		opts = append(opts, objstore.Shallow())
	}
	if requireAncestry {
		opts = append(opts, objstore.RequireAncestry())
	}

	return withStore(func(s *objstore.ObjectStore) error {
		ctx := context.Background()
		if len(args) == 1 {
			v, ok, err := s.Get(ctx, args[0], opts...)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("entity %q not found", args[0])
			}
			return printValue(cmd.OutOrStdout(), v)
		}

		values, err := s.GetMulti(ctx, args, opts...)
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), values)
	})
}
