package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func printValue(w io.Writer, v any) error {
	switch format := viper.GetString("output"); format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q (expected yaml or json)", format)
	}
}
