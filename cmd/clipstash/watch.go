package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/history"
)

func newWatchCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream history changes",
		Long: `Prints one line per history change until interrupted. The first line
describes the most recent change before the watch began.

--ops limits the stream to some operations: load, add, pin, unpin, delete,
clear.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runWatch(cmd, v) },
	}

	f := cmd.Flags()
	f.StringSlice("ops", nil, "operations to watch (empty = all)")
	f.Bool("json", false, "output one JSON object per change")
	addClientFlags(cmd)

	return cmd
}

func runWatch(cmd *cobra.Command, v *viper.Viper) error {
	var ops []history.Op
	for _, o := range v.GetStringSlice("ops") {
		ops = append(ops, history.Op(o))
	}
	jsonOut := v.GetBool("json")
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newClient(v)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Watch(ctx, ops, func(c history.Change) error {
		if jsonOut {
			return enc.Encode(c)
		}
		_, err := fmt.Fprintln(out, formatChange(c))
		return err
	})
}

func formatChange(c history.Change) string {
	s := fmt.Sprintf("%s %-6s", c.At.Local().Format("15:04:05.000"), c.Op)
	if c.ID != "" {
		s += " " + c.ID.Short()
	}
	s += fmt.Sprintf(" len=%d", c.Len)
	if c.Evicted > 0 {
		s += fmt.Sprintf(" evicted=%d", c.Evicted)
	}
	return s
}
