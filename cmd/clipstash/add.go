package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/message"
)

const requestTimeout = 10 * time.Second

func newAddCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "add [PATH...]",
		Short: "Add stdin, files or an image to the history",
		Long: `Adds an entry to the history as if it had just been copied.

With no arguments, stdin is added as text. PATH arguments are added as a file
entry (one path) or a file group (several). --image adds the PNG file's bytes
as an image entry.`,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, args []string) error { return runAdd(cmd, v, args) },
	}

	f := cmd.Flags()
	f.String("image", "", "add the contents of this PNG file as an image")
	addClientFlags(cmd)

	return cmd
}

func runAdd(cmd *cobra.Command, v *viper.Viper, args []string) error {
	p, err := payloadFromArgs(cmd.InOrStdin(), v.GetString("image"), args)
	if err != nil {
		return err
	}
	e, err := history.NewEntry(p, time.Now())
	if err != nil {
		return err
	}

	resp, err := do(cmd, v, &message.Message{Type: message.TypeAdd, Entry: &e})
	if err != nil {
		return err
	}
	if resp.Changed && resp.Entry != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", resp.Entry.ID().Short())
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "unchanged: same as the most recent entry")
	}
	return nil
}

func payloadFromArgs(stdin io.Reader, image string, args []string) (history.Payload, error) {
	switch {
	case image != "" && len(args) > 0:
		return nil, fmt.Errorf("--image and PATH arguments are mutually exclusive")
	case image != "":
		data, err := os.ReadFile(image)
		if err != nil {
			return nil, err
		}
		return history.Image(data), nil
	case len(args) > 0:
		paths := make([]string, len(args))
		for i, a := range args {
			abs, err := filepath.Abs(a)
			if err != nil {
				return nil, err
			}
			paths[i] = abs
		}
		if len(paths) == 1 {
			return history.File(paths[0]), nil
		}
		return history.FileGroup(paths), nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("nothing to add: stdin is empty")
	}
	return history.Text(data), nil
}
