package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/objstore"
	"github.com/aweris/objstore/internal/remote"
	"github.com/aweris/objstore/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "objstore",
	Short:         "Content-addressed object store CLI",
	Long:          "CLI for storing versioned entities in an objstore and syncing it with OCI registries.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ~/.config/objstore/config.toml)")
	flags.String("dir", "", "data directory (default: ~/.local/share/objstore)")
	flags.String("backend", "", "backend: memory, local or sqlite")
	flags.String("remote", "", "OCI image reference for push/pull")
	flags.String("registry-username", "", "registry username (default: docker credential helpers)")
	flags.String("registry-password", "", "registry password")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	flags.StringP("output", "o", "yaml", "output format: yaml or json")

	viper.BindPFlag("config", flags.Lookup("config"))
	viper.BindPFlag("dir", flags.Lookup("dir"))
	viper.BindPFlag("backend", flags.Lookup("backend"))
	viper.BindPFlag("remote", flags.Lookup("remote"))
	viper.BindPFlag("registry_username", flags.Lookup("registry-username"))
	viper.BindPFlag("registry_password", flags.Lookup("registry-password"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("output", flags.Lookup("output"))
}

func initConfig() {
	viper.SetEnvPrefix("OBJSTORE")
	viper.AutomaticEnv()
	viper.SetDefault("config", filepath.Join(configDir(), "config.toml"))
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "objstore")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "objstore")
	}
	return ".objstore"
}

func newLogger() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level: %w", err)
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Logger(), nil
}

// loadConfig reads the TOML config file if present and applies flag and
// environment overrides on top.
func loadConfig() (objstore.Config, error) {
	cfg := objstore.DefaultConfig()

	path := viper.GetString("config")
	if _, err := os.Stat(path); err == nil {
		cfg, err = objstore.LoadConfig(path)
		if err != nil {
			return objstore.Config{}, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) || rootCmd.PersistentFlags().Changed("config") {
		return objstore.Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	if dir := viper.GetString("dir"); dir != "" {
		cfg.Dir = dir
	}
	if backend := viper.GetString("backend"); backend != "" {
		cfg.Backend = store.Kind(backend)
	}
	if ref := viper.GetString("remote"); ref != "" {
		cfg.Remote = ref
	}
	return cfg, nil
}

func openStore() (*objstore.ObjectStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	opts := []objstore.Option{objstore.WithLogger(logger)}
	if user := viper.GetString("registry_username"); user != "" {
		opts = append(opts, objstore.WithAuth(remote.StaticAuthenticator{
			Username: user,
			Password: viper.GetString("registry_password"),
		}))
	}
	return objstore.Open(cfg, opts...)
}

// withStore opens the configured store for the duration of fn.
func withStore(fn func(s *objstore.ObjectStore) error) (err error) {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}
