package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/grpcservice"
	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/logging"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/server"
)

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and CLIPSTASH_* env var prefix.
//
// Precedence (lowest to highest): defaults, config file, CLIPSTASH_* env vars, flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("clipstash")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/clipstash/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "clipstash"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("CLIPSTASH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addClientFlags adds the flags every daemon client needs.
func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("socket", "", "daemon IPC socket (default: $XDG_RUNTIME_DIR/clipstash.sock)")
	f.String("server", "", "daemon TCP address host:port (overrides --socket)")
	f.String("token", "", "shared secret for --server: TLS key and bearer token")
	f.String("source", defaultSource(), "source identifier")
	addConfigFlag(cmd)
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) *slog.LevelVar {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	return logging.Setup(logging.Resolve(interactive, v.GetString("log-format"), v.GetString("log-level")))
}

// daemonClient is implemented by the IPC and the gRPC client.
type daemonClient interface {
	Do(ctx context.Context, req *message.Message) (*message.Message, error)
	Watch(ctx context.Context, ops []history.Op, fn func(history.Change) error) error
	Close() error
}

// newClient builds a daemon client from the client flags: gRPC when
// --server is set, the IPC socket otherwise.
func newClient(v *viper.Viper) (daemonClient, error) {
	if addr := v.GetString("server"); addr != "" {
		return grpcservice.Dial(addr, v.GetString("token"), v.GetString("source"))
	}
	return &server.Client{
		Socket: v.GetString("socket"),
		Source: v.GetString("source"),
	}, nil
}

// defaultSource returns a human-readable identifier for this process.
func defaultSource() string {
	if v := os.Getenv("CLIPSTASH_SOURCE"); v != "" {
		return v
	}
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// defaultDataDir is $XDG_DATA_HOME/clipstash, falling back to
// ~/.local/share/clipstash.
func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "clipstash")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "clipstash")
	}
	return filepath.Join(os.TempDir(), "clipstash")
}
