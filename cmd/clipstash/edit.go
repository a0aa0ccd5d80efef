package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/message"
)

func newPinCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "pin ID",
		Short: "Pin an entry, or unpin it if it is pinned",
		Long: `Toggles the pinned state of an entry. Pinned entries sort first and are
never evicted. ID may be any unique prefix of the entry id.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := do(cmd, v, &message.Message{Type: message.TypePin, ID: args[0]})
			if err != nil {
				return err
			}
			id, state := args[0], "unpinned"
			if e := resp.Entry; e != nil {
				id = e.ID().Short()
				if e.Pinned() {
					state = "pinned"
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", state, id)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newDeleteCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete an entry, pinned or not",
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := do(cmd, v, &message.Message{Type: message.TypeDelete, ID: args[0]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newClearCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     "clear",
		Short:   "Remove every entry, including pinned ones",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := do(cmd, v, &message.Message{Type: message.TypeClear})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d entries\n", resp.Count)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

// do sends a single request with the standard timeout.
func do(cmd *cobra.Command, v *viper.Viper, req *message.Message) (*message.Message, error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	c, err := newClient(v)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Do(ctx, req)
}
