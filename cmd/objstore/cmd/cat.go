package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/objstore"
	"github.com/aweris/objstore/internal/codec"
)

var catCmd = &cobra.Command{
	Use:   "cat <digest>",
	Short: "Print a stored value by identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

func init() {
	catCmd.Flags().Bool("diag", false, "print the CBOR diagnostic notation of the payload")
	rootCmd.AddCommand(catCmd)
}

type entryView struct {
	Name  string         `json:"name" yaml:"name"`
	Ref   string         `json:"ref" yaml:"ref"`
	Attrs map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

func runCat(cmd *cobra.Command, args []string) error {
	id, err := objstore.ParseDigest(args[0])
	if err != nil {
		return err
	}
	diag, _ := cmd.Flags().GetBool("diag")

	return withStore(func(s *objstore.ObjectStore) error {
		v, err := s.Values().GetValue(context.Background(), id)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("value %s not found", id)
		}

		if diag {
			payload, err := payloadOf(v.Encoded())
			if err != nil {
				return err
			}
			text, err := codec.Diagnose(payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		}

		out := map[string]any{"type": v.Type().String(), "id": v.ID().String()}
		switch v.Type() {
		case objstore.VTypeBlob:
			out["content"] = v.Content()
		case objstore.VTypeTree:
			entries := make([]entryView, 0, len(v.Entries()))
			for _, e := range v.Entries() {
				entries = append(entries, entryView{Name: e.Name, Ref: e.Ref.String(), Attrs: e.Attrs})
			}
			out["entries"] = entries
		case objstore.VTypeCommit:
			out["commit"] = viewCommit(v.Commit())
		case objstore.VTypeSoftRef:
			out["target"] = v.Target()
		}
		return printValue(cmd.OutOrStdout(), out)
	})
}

// payloadOf strips the "<kind> <size>\x00" frame header.
func payloadOf(encoded []byte) ([]byte, error) {
	for i, b := range encoded {
		if b == 0 {
			return encoded[i+1:], nil
		}
	}
	return nil, fmt.Errorf("malformed value frame")
}
