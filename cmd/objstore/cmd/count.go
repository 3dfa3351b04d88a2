package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aweris/objstore"
)

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count live entities and stored values",
	Args:  cobra.NoArgs,
	RunE:  runCount,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List live entities with their heads",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(listCmd)
}

func runCount(cmd *cobra.Command, args []string) error {
	return withStore(func(s *objstore.ObjectStore) error {
		ctx := context.Background()
		entities, err := s.Size(ctx)
		if err != nil {
			return err
		}
		values, err := s.Values().Len(ctx)
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), map[string]int{
			"entities": entities,
			"values":   values,
		})
	})
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *objstore.ObjectStore) error {
		ctx := context.Background()
		entities, err := s.Entities(ctx)
		if err != nil {
			return err
		}
		heads := make(map[string]string, len(entities))
		for _, entity := range entities {
			head, ok, err := s.Head(ctx, entity)
			if err != nil {
				return err
			}
			if ok {
				heads[entity] = head.String()
			}
		}
		return printValue(cmd.OutOrStdout(), heads)
	})
}
