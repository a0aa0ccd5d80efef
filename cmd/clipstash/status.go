package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/message"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and history status",
		Long: `Displays the daemon's storage, capture backend and history size, and
every client currently watching the history.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runStatus(cmd, v) },
	}

	f := cmd.Flags()
	f.Bool("json", false, "output raw JSON")
	addClientFlags(cmd)

	return cmd
}

func runStatus(cmd *cobra.Command, v *viper.Viper) error {
	resp, err := do(cmd, v, &message.Message{Type: message.TypeStatus})
	if err != nil {
		return err
	}
	if resp.Status == nil {
		return fmt.Errorf("empty status response")
	}

	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Status)
	}
	printStatus(out, resp.Status)
	return nil
}

func printStatus(out io.Writer, st *message.StatusInfo) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	capture := st.Capture
	if capture == "" {
		capture = "disabled"
	}
	fmt.Fprintf(w, "Version:\t%s\n", st.Version)
	fmt.Fprintf(w, "Started:\t%s (%s)\n", st.StartedAt.Local().Format(time.RFC3339), humanize.Time(st.StartedAt))
	fmt.Fprintf(w, "Storage:\t%s\n", st.Persistence)
	fmt.Fprintf(w, "Capture:\t%s\n", capture)
	fmt.Fprintf(w, "Entries:\t%d (%d pinned, limit %d unpinned)\n", st.Len, st.Pinned, st.Limit)
	fmt.Fprintf(w, "Last inserted:\t%s\n", shortOrDash(st.LastInserted))
	fmt.Fprintf(w, "Scroll target:\t%s\n", shortOrDash(st.ScrollTarget))
	fmt.Fprintln(w)
	_ = w.Flush()

	if len(st.Watchers) == 0 {
		fmt.Fprintln(out, "No watchers connected.")
		return
	}

	tw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID\tSOURCE\tADDR\tOPS\tCONNECTED\tLAST SENT\tDROPPED\n")
	_, _ = fmt.Fprintf(tw, "--\t------\t----\t---\t---------\t---------\t-------\n")
	for _, wi := range st.Watchers {
		ops := "*"
		if len(wi.Ops) > 0 {
			names := make([]string, len(wi.Ops))
			for i, o := range wi.Ops {
				names[i] = string(o)
			}
			ops = strings.Join(names, ",")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			wi.ID, wi.Source, wi.Addr, ops,
			age(wi.ConnectedAt), age(wi.LastSent), wi.Dropped,
		)
	}
	_ = tw.Flush()
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func shortOrDash(id history.ID) string {
	if id == "" {
		return "-"
	}
	return id.Short()
}
