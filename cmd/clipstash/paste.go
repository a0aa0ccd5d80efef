package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/message"
)

func newPasteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "paste [ID]",
		Short: "Print an entry to stdout, or restore it to the clipboard",
		Long: `Prints the payload of an entry to stdout (like pbpaste). Without ID the
first entry of the history is used. ID may be any unique prefix.

With --restore the entry is written back to the system clipboard by the daemon
instead; the daemon does not record that write as a new entry.`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, args []string) error { return runPaste(cmd, v, args) },
	}

	f := cmd.Flags()
	f.Bool("restore", false, "write the entry to the system clipboard")
	addClientFlags(cmd)

	return cmd
}

func runPaste(cmd *cobra.Command, v *viper.Viper, args []string) error {
	var id string
	if len(args) == 1 {
		id = args[0]
	}

	if v.GetBool("restore") {
		resp, err := do(cmd, v, &message.Message{Type: message.TypeRestore, ID: id})
		if err != nil {
			return err
		}
		if resp.Entry != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "restored %s\n", resp.Entry.ID().Short())
		}
		return nil
	}

	resp, err := do(cmd, v, &message.Message{Type: message.TypeGet, ID: id})
	if err != nil {
		return err
	}
	if resp.Entry == nil {
		return fmt.Errorf("no entry returned")
	}
	return writePayload(cmd.OutOrStdout(), resp.Entry.Payload())
}

func writePayload(w io.Writer, p history.Payload) error {
	var err error
	switch p := p.(type) {
	case history.Text:
		_, err = io.WriteString(w, string(p))
	case history.Image:
		_, err = w.Write(p)
	case history.File:
		_, err = fmt.Fprintln(w, string(p))
	case history.FileGroup:
		_, err = fmt.Fprintln(w, strings.Join(p, "\n"))
	default:
		err = fmt.Errorf("unsupported payload %T", p)
	}
	return err
}
