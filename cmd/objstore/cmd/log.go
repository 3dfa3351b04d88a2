package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aweris/objstore"
)

var logCmd = &cobra.Command{
	Use:   "log <entity>",
	Short: "Show the commit history of an entity",
	Args:  cobra.ExactArgs(1),
	RunE:  runLog,
}

func init() {
	rootCmd.AddCommand(logCmd)
}

type commitView struct {
	Commit   string         `json:"commit" yaml:"commit"`
	Parents  []string       `json:"parents,omitempty" yaml:"parents,omitempty"`
	RootTree string         `json:"roottree,omitempty" yaml:"roottree,omitempty"`
	Time     string         `json:"time,omitempty" yaml:"time,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

func runLog(cmd *cobra.Command, args []string) error {
	return withStore(func(s *objstore.ObjectStore) error {
		history, err := s.History(context.Background(), args[0])
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return fmt.Errorf("entity %q not found", args[0])
		}

		views := make([]commitView, len(history))
		for i, c := range history {
			views[i] = viewCommit(c)
		}
		return printValue(cmd.OutOrStdout(), views)
	})
}

func viewCommit(c *objstore.Commit) commitView {
	view := commitView{
		Commit:   c.ID().String(),
		RootTree: c.RootTree.String(),
		Attrs:    c.Attrs,
	}
	for _, p := range c.Parents {
		view.Parents = append(view.Parents, p.String())
	}
	if ts, ok := c.Timestamp(); ok {
		view.Time = ts.UTC().Format(time.RFC3339Nano)
	}
	return view
}
