package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/daviddyess/iptoasn/internal/core"
)

// errLookupFailed is returned when at least one argument was not a valid
// address. The valid ones are still printed.
var errLookupFailed = errors.New("one or more lookups failed")

// lookupLine is one entry of `lookup --json`.
type lookupLine struct {
	core.AsnResult
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

func newLookupCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "lookup <ip>...",
		Short:   "Look up the origin AS of one or more addresses",
		Example: "  iptoasn lookup 8.8.8.8 2001:4860:4860::8888",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close(context.Background())

			lines := make([]lookupLine, len(args))
			failed := false
			for i, ip := range args {
				res, err := svc.Lookup(ip)
				if err != nil {
					msg := core.MapError(err)
					lines[i] = lookupLine{AsnResult: core.AsnResult{IP: ip}, Error: msg.Message, Code: msg.Code}
					failed = true
					continue
				}
				lines[i] = lookupLine{AsnResult: res}
			}

			out := cmd.OutOrStdout()
			if c.jsonOut {
				err = c.printJSON(out, lines)
			} else {
				err = writeLookupTable(out, lines)
			}
			if err != nil {
				return err
			}
			if failed {
				return errLookupFailed
			}
			return nil
		},
	}
}

func writeLookupTable(w io.Writer, lines []lookupLine) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IP\tAS\tRANGE\tCC\tDESCRIPTION")
	for _, l := range lines {
		switch {
		case l.Code != "":
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%s (%s)\n", l.IP, l.Error, l.Code)
		case !l.Announced:
			fmt.Fprintf(tw, "%s\t-\t-\t-\tnot announced\n", l.IP)
		default:
			fmt.Fprintf(tw, "%s\tAS%d\t%s-%s\t%s\t%s\n",
				l.IP, *l.ASNumber, *l.FirstIP, *l.LastIP, *l.ASCountryCode, *l.ASDescription)
		}
	}
	return tw.Flush()
}

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the cached dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close(context.Background())

			st := svc.Status()
			out := cmd.OutOrStdout()
			if c.jsonOut {
				return c.printJSON(out, st)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "records:\t%d\n", st.RecordCount)
			if st.LastUpdateTimestamp != nil {
				fmt.Fprintf(tw, "loaded:\t%s\n", time.Unix(*st.LastUpdateTimestamp, 0).UTC().Format(time.RFC3339))
			}
			fmt.Fprintf(tw, "source:\t%s\n", st.Source)
			fmt.Fprintf(tw, "format:\t%s\n", st.Format)
			if st.ETag != "" {
				fmt.Fprintf(tw, "etag:\t%s\n", st.ETag)
			}
			if st.Skipped > 0 {
				fmt.Fprintf(tw, "skipped rows:\t%d\n", st.Skipped)
			}
			if st.CacheFile != "" {
				fmt.Fprintf(tw, "cache file:\t%s\n", st.CacheFile)
			}
			return tw.Flush()
		},
	}
}

func newUpdateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Refresh the cached table from the source",
		Long: "Checks the source for a newer table and refreshes the cache. " +
			"An unchanged table is answered from the cache without a full download.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close(context.Background())

			events, err := svc.History(cmd.Context(), 1)
			if err != nil {
				return userError(err)
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				return errors.New("no refresh was recorded")
			}
			ev := events[0]
			if c.jsonOut {
				return c.printJSON(out, ev)
			}

			fmt.Fprintf(out, "%s: %d records in %s\n", ev.Outcome, ev.RecordCount, ev.Duration.Round(time.Millisecond))
			if ev.Warning != "" {
				fmt.Fprintf(out, "warning: %s\n", ev.Warning)
			}
			return nil
		},
	}
}
