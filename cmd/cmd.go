// Package cmd builds the command-line surface of the server: two
// positional arguments (listen address, listen port) plus flags for the
// storage directory, metrics, and optional S3 archival.
package cmd

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"
)

// Config collects everything the root command parses before handing
// control to the run function given to NewRootCommand.
type Config struct {
	Address string
	Port    int

	Dir           string
	ArchiveBucket string
	ArchiveKey    string
	MetricsAddr   string
}

// NewRootCommand builds the root command. run is invoked with the parsed
// Config once argument validation has passed; its error return becomes
// the process's non-zero exit.
func NewRootCommand(run func(Config) error) *cobra.Command {
	cfg := Config{}

	rootCmd := &cobra.Command{
		Use:   "betus <address> <port>",
		Short: "A tus 1.0.0 resumable upload server.",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg.Address = args[0]

			port, err := strconv.Atoi(args[1])
			if err != nil || port < 0 || port > 65535 {
				return fmt.Errorf("invalid port %q", args[1])
			}
			cfg.Port = port

			if net.ParseIP(cfg.Address) == nil && cfg.Address != "" && cfg.Address != "localhost" {
				return fmt.Errorf("invalid listen address %q", cfg.Address)
			}

			return run(cfg)
		},
	}

	rootCmd.Flags().StringVar(&cfg.Dir, "dir", "./data", "directory holding upload data and metadata files")
	rootCmd.Flags().StringVar(&cfg.ArchiveBucket, "archive-bucket", "", "S3 bucket to archive finished/terminated uploads into; disabled when empty")
	rootCmd.Flags().StringVar(&cfg.ArchiveKey, "archive-key", "", "passphrase used to derive the archival encryption key")
	rootCmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", "", "separate address to serve /metrics on; when empty, /metrics is served on the main listener")

	return rootCmd
}
