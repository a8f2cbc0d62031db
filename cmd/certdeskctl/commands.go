package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	server   string
	adminKey string
	json     bool
}

func (o *globalOptions) client() *Client {
	return NewClient(o.server, o.adminKey)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "certdeskctl",
		Short:         "Admin CLI for the certdesk certificate service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.server, "server", envOr("CERTDESK_SERVER", "http://localhost:8000"), "certdesk server URL")
	root.PersistentFlags().StringVar(&opts.adminKey, "admin-key", os.Getenv("CERTDESK_ADMIN_KEY"), "admin key (default $CERTDESK_ADMIN_KEY)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON")

	root.AddCommand(
		newLogsCmd(opts),
		newSuspiciousCmd(opts),
		newGenerateAllCmd(opts),
		newRateLimitCmd(opts),
		newTokenCmd(opts),
		newVersionCmd(),
	)

	return root
}

func newLogsCmd(opts *globalOptions) *cobra.Command {
	var ip string
	var limit, days int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent certificate requests",
		Example: `  certdeskctl logs
  certdeskctl logs --ip 10.0.0.7
  certdeskctl logs --days 7 --limit 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Logs(cmd.Context(), ip, limit, days)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), res)
			}

			out := cmd.OutOrStdout()
			if len(res.Logs) == 0 {
				fmt.Fprintln(out, "No requests logged.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIMESTAMP\tIP\tENDPOINT\tNAME\tID\tSTATUS\tREASON")
			for _, e := range res.Logs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", e.Timestamp, e.IPAddress, e.Endpoint, e.Name, e.ID, e.Status, e.Reason)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d entries\n", res.TotalLogs)
			return nil
		},
	}

	cmd.Flags().StringVar(&ip, "ip", "", "only show requests from this address")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries (server default 500)")
	cmd.Flags().IntVar(&days, "days", 0, "number of days to read, today included")
	return cmd
}

func newSuspiciousCmd(opts *globalOptions) *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "suspicious",
		Short: "List addresses with suspicious activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Suspicious(cmd.Context(), window)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), res)
			}

			out := cmd.OutOrStdout()
			if res.SuspiciousCount == 0 {
				fmt.Fprintln(out, "No suspicious activity.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "IP\tREQUESTS\tFAILED\tDOWNLOADS\tREASON")
			for _, v := range res.SuspiciousIPs {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", v.IP, v.RecentRequests, v.FailedAttempts, v.SuccessfulDownloads, v.Reason)
			}
			return w.Flush()
		},
	}

	cmd.Flags().DurationVar(&window, "window", 0, "look-back window, whole minutes (server default 60m)")
	return cmd
}

func newGenerateAllCmd(opts *globalOptions) *cobra.Command {
	var management, force bool

	cmd := &cobra.Command{
		Use:   "generate-all",
		Short: "Render every missing certificate of a roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().GenerateAll(cmd.Context(), management, force)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), res)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total: %d  Generated: %d  Skipped: %d  Failed: %d\n",
				res.Total(), res.Generated, res.Skipped, res.Failed)
			for _, f := range res.Failures {
				fmt.Fprintf(out, "  %s (%s): %s\n", f.CertificateID, f.ID, f.Error)
			}
			if len(res.DuplicateIDs) > 0 {
				fmt.Fprintf(out, "Duplicate ids: %s\n", strings.Join(res.DuplicateIDs, ", "))
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d certificates failed", res.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&management, "management", false, "use the management roster")
	cmd.Flags().BoolVar(&force, "force", false, "re-render existing certificates")
	return cmd
}

func newRateLimitCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect or reset rate limit windows",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show tracked windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().RateLimitStats(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), res)
			}

			out := cmd.OutOrStdout()
			if !res.Enabled {
				fmt.Fprintln(out, "Rate limiting is disabled.")
				return nil
			}
			fmt.Fprintf(out, "Limit: %d requests per %s, %d windows tracked\n", res.MaxRequests, res.Window, res.Count)
			if len(res.Clients) == 0 {
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "IDENTITY\tACTION\tHITS\tREMAINING\tRESET AT")
			for _, c := range res.Clients {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", c.Identity, c.Action, c.Hits, c.Remaining, c.ResetAt)
			}
			return w.Flush()
		},
	}

	reset := &cobra.Command{
		Use:   "reset [ip]",
		Short: "Reset the windows of one address, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip := ""
			if len(args) == 1 {
				ip = args[0]
			}
			res, err := opts.client().ResetRateLimit(cmd.Context(), ip)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}

	cmd.AddCommand(stats, reset)
	return cmd
}

func newTokenCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Request a security token for a manual download",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := opts.client().Token(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "certdeskctl version %s\n", version)
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
