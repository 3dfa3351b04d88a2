package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aweris/objstore"
)

var putCmd = &cobra.Command{
	Use:   "put [entity] <value|-|@file>",
	Short: "Store a new version of an entity",
	Long: `Store a new version of an entity and print the new commit.

The value may be given inline, read from stdin with "-" or from a file with
"@path". JSON input (comments allowed) is stored structurally; anything else
is stored as a string. With --new the entity id is generated.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPut,
}

func init() {
	putCmd.Flags().Bool("new", false, "generate a new entity id")
	putCmd.Flags().Bool("raw", false, "store the input as a string without parsing")
	putCmd.Flags().StringSlice("parent", nil, "explicit parent commit (repeatable)")
	putCmd.Flags().Bool("root", false, "create a root commit with no parents")
	putCmd.Flags().StringArray("attr", nil, "commit attribute key=value (repeatable)")
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	generate, _ := cmd.Flags().GetBool("new")
	raw, _ := cmd.Flags().GetBool("raw")
	parentArgs, _ := cmd.Flags().GetStringSlice("parent")
	root, _ := cmd.Flags().GetBool("root")
	attrArgs, _ := cmd.Flags().GetStringArray("attr")

	var entity, input string
	switch {
	case generate && len(args) == 1:
		entity, input = uuid.NewString(), args[0]
	case !generate && len(args) == 2:
		entity, input = args[0], args[1]
	default:
		return fmt.Errorf("expected <entity> <value>, or --new <value>")
	}

	value, err := readValue(input, cmd.InOrStdin(), raw)
	if err != nil {
		return err
	}
	attrs, err := parseAttrs(attrArgs)
	if err != nil {
		return err
	}

	opts := []objstore.PutOption{objstore.WithAttrs(attrs)}
	if len(parentArgs) > 0 || root {
		parents := make([]objstore.Identifier, 0, len(parentArgs))
		for _, p := range parentArgs {
			d, err := objstore.ParseDigest(p)
			if err != nil {
				return err
			}
			parents = append(parents, d)
		}
		opts = append(opts, objstore.WithParents(parents...))
	}

	return withStore(func(s *objstore.ObjectStore) error {
		ref, err := s.Put(context.Background(), entity, value, opts...)
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), map[string]string{
			"entity": entity,
			"commit": ref.String(),
		})
	})
}
