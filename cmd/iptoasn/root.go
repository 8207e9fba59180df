package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/daviddyess/iptoasn/internal/config"
	"github.com/daviddyess/iptoasn/internal/core"
	"github.com/daviddyess/iptoasn/internal/logging"
	"github.com/daviddyess/iptoasn/internal/version"
)

// cli carries the flags shared by every subcommand.
type cli struct {
	source   string
	cacheDir string
	jsonOut  bool
	logLevel string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "iptoasn",
		Short:         "Map IP addresses to their origin autonomous system",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("source") {
				cfg.Source.URL = c.source
			}
			if cmd.Flags().Changed("cache-dir") {
				cfg.Source.CacheDir = c.cacheDir
			}
			c.cfg = cfg

			logging.Setup(logging.Options{
				Level:  c.logLevel,
				Format: "text",
				Stdout: cmd.ErrOrStderr(),
			})
			return nil
		},
	}
	root.SetVersionTemplate(version.String() + "\n")

	flags := root.PersistentFlags()
	flags.StringVar(&c.source, "source", core.DefaultSourceURL, "table location: http(s):// URL, file:// URL or local path (env IPTOASN_SOURCE_URL)")
	flags.StringVar(&c.cacheDir, "cache-dir", core.DefaultCacheDir, "directory for the cached table (env IPTOASN_CACHE_DIR)")
	flags.BoolVar(&c.jsonOut, "json", false, "print JSON instead of text")
	flags.StringVar(&c.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		newLookupCmd(c),
		newStatsCmd(c),
		newUpdateCmd(c),
		newVersionCmd(),
	)
	return root
}

// open creates a service from the resolved configuration and publishes the
// cached or freshly downloaded table.
func (c *cli) open(ctx context.Context) (*core.Service, error) {
	svc, err := core.NewService(core.Options{
		Source:          c.cfg.Source.URL,
		CacheDir:        c.cfg.Source.CacheDir,
		HTTPTimeout:     c.cfg.Source.HTTPTimeout,
		MaxDownloadSize: c.cfg.Source.MaxDownloadSize,
		Malformed:       c.cfg.Parser.Policy(),
		MaxWarnings:     c.cfg.Parser.MaxWarnings,
	})
	if err != nil {
		return nil, userError(err)
	}
	if err := svc.Load(ctx); err != nil {
		svc.Close(context.Background())
		return nil, userError(err)
	}
	return svc, nil
}

func (c *cli) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// codedError prints as the coded user message while keeping the
// underlying error for errors.Is.
type codedError struct {
	err error
}

func (e *codedError) Error() string { return core.FormatUserError(e.err) }
func (e *codedError) Unwrap() error { return e.err }

func userError(err error) error {
	if err == nil {
		return nil
	}
	return &codedError{err: err}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Skips config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
