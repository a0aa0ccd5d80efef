package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/message"
)

const listPreviewLen = 60

func newListCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the history, pinned entries first",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runList(cmd, v) },
	}

	f := cmd.Flags()
	f.String("kind", "", "only entries of this kind: text|image|file|file_group")
	f.StringP("query", "q", "", "only entries whose text or paths contain this (case-insensitive)")
	f.IntP("limit", "n", 0, "show at most this many entries (0 = all)")
	f.Bool("pinned", false, "only pinned entries")
	f.Bool("json", false, "output raw JSON")
	addClientFlags(cmd)

	return cmd
}

func runList(cmd *cobra.Command, v *viper.Viper) error {
	filter := &message.Filter{
		Query:  v.GetString("query"),
		Limit:  v.GetInt("limit"),
		Pinned: v.GetBool("pinned"),
	}
	if k := v.GetString("kind"); k != "" {
		kind, ok := history.ParseKind(k)
		if !ok {
			return fmt.Errorf("unknown kind %q", k)
		}
		filter.Kind = kind
	}

	resp, err := do(cmd, v, &message.Message{Type: message.TypeList, Filter: filter})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		summaries := resp.Summaries
		if summaries == nil {
			summaries = []message.Summary{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}
	printSummaries(out, resp.Summaries)
	return nil
}

func printSummaries(out io.Writer, summaries []message.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(out, "History is empty.")
		return
	}
	tw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "\tID\tKIND\tSIZE\tCAPTURED\tPREVIEW\n")
	for _, s := range summaries {
		marker := ""
		if s.Pinned {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			marker, s.ID.Short(), s.Kind,
			humanize.IBytes(uint64(s.Size)),
			humanize.Time(s.CapturedAt),
			truncate(oneLine(s.Preview), listPreviewLen),
		)
	}
	_ = tw.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
