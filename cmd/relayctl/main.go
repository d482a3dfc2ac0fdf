// Command relayctl administers a running relay server over its HTTP API.
package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"relay/internal/core"
	"relay/internal/server/database"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newRootCommand returns the root command with all subcommands attached.
func newRootCommand() *cobra.Command {
	var server, token string

	cobra.EnableCommandSorting = false
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Administer a relay server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&server, "server", "s", envOr("RELAY_URL", "http://localhost:8080"),
		"relay server base URL (env RELAY_URL)")
	root.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("RELAY_API_TOKEN"),
		"API bearer token (env RELAY_API_TOKEN)")

	api := func() *client { return newClient(server, token) }

	root.AddCommand(newStatsCommand(api))
	root.AddCommand(newSweepCommand(api))
	root.AddCommand(newBroadcastCommand(api))
	root.AddCommand(newDeleteCommand(api))
	root.AddCommand(newResetStatsCommand(api))
	root.AddCommand(newSearchCommand(api))
	return root
}

func newStatsCommand(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show file and user counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := api().stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "files: %s\nusers: %s\n",
				humanize.Comma(int64(s.Files)), humanize.Comma(int64(s.Users)))
			return nil
		},
	}
}

func newSweepCommand(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:     "sweep",
		Aliases: []string{"clean"},
		Short:   "Evict expired files now",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := api().sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired files\n", removed)
			return nil
		},
	}
}

func newBroadcastCommand(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:     "broadcast [message]",
		Example: `$ relayctl broadcast "Maintenance at 22:00 UTC"`,
		Short:   "Send a message to every known user",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := api().broadcast(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent to %s users (%d failed)\n",
				humanize.Comma(int64(res.Sent)), res.Failed)
			return nil
		},
	}
}

func newDeleteCommand(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [code]",
		Short: "Delete a code and its stored copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api().deleteCode(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newResetStatsCommand(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stats [user_id]",
		Short: "Delete a user's counters; their files remain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := core.ParseUserID(args[0])
			if err != nil {
				return err
			}
			if err := api().resetStats(cmd.Context(), uid); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset stats of %d\n", uid)
			return nil
		},
	}
}

func newSearchCommand(api func() *client) *cobra.Command {
	var category, uploader string

	cmd := &cobra.Command{
		Use:   "search [keyword]",
		Short: "List files by keyword, category or uploader",
		Example: `$ relayctl search invoice
$ relayctl search --category zip
$ relayctl search --uploader 12345`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			switch {
			case uploader != "":
				q.Set("uploader", uploader)
			case category != "":
				q.Set("category", category)
			case len(args) == 1:
				q.Set("q", args[0])
			default:
				return fmt.Errorf("a keyword, --category or --uploader is required")
			}

			files, err := api().files(cmd.Context(), q)
			if err != nil {
				return err
			}
			printFiles(cmd, files)
			return nil
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "images|videos|audio|documents|zip|other")
	cmd.Flags().StringVarP(&uploader, "uploader", "u", "", "uploader user id")
	return cmd
}

func printFiles(cmd *cobra.Command, files []file) {
	out := cmd.OutOrStdout()
	if len(files) == 0 {
		fmt.Fprintln(out, "no files found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tKIND\tCATEGORY\tUPLOADER\tUPLOADED\tEXPIRES\tNAME")
	for _, f := range files {
		expires := "never"
		if f.ExpiresAt != "" {
			expires = f.ExpiresAt
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			f.Code, f.Kind, f.Category, f.Uploader, uploadedAgo(f.UploadedAt), expires, f.FileName)
	}
	w.Flush()
}

func uploadedAgo(ts string) string {
	t, err := time.ParseInLocation(database.TimeLayout, ts, time.Local)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}
