package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/capture"
	"go.klb.dev/clipstash/internal/clip"
	"go.klb.dev/clipstash/internal/crypto"
	"go.klb.dev/clipstash/internal/grpcservice"
	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/ipc"
	"go.klb.dev/clipstash/internal/logging"
	"go.klb.dev/clipstash/internal/persist"
	"go.klb.dev/clipstash/internal/server"
	"go.klb.dev/clipstash/internal/tlsconf"
)

func newDaemonCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the history daemon",
		Long: `Starts the clipstash daemon. It captures every change to the system
clipboard into the history, persists the history, and answers the other
sub-commands on the IPC socket (and on --listen when set).

Config file search order:
  /etc/clipstash/clipstash.toml
  $HOME/.config/clipstash/clipstash.toml
  path supplied via --config

Precedence (lowest to highest): defaults, config file, CLIPSTASH_* env vars, flags

Changes to "limit" and "log-level" in the config file apply without a restart.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runDaemon(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.Int("limit", history.DefaultLimit, "maximum number of unpinned entries")
	f.String("storage", string(persist.BackendFile), "history storage: file|badger|memory")
	f.String("data-dir", defaultDataDir(), "directory for persisted history")
	f.String("passphrase", "", "encrypt the file storage with this passphrase")
	f.String("socket", "", "IPC socket path (default: $XDG_RUNTIME_DIR/clipstash.sock)")
	f.String("listen", "", "also serve on this TCP address, e.g. 127.0.0.1:8753")
	f.String("token", "", "shared secret for --listen: TLS key and bearer token (empty = no auth, default TLS key)")
	f.Bool("no-capture", false, "do not watch the system clipboard")
	f.String("max-item-size", "8MiB", "largest clipboard item captured")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runDaemon(ctx context.Context, v *viper.Viper) error {
	levelVar := setupLogging(v)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	w := &workers{stop: stop}
	defer w.shutdown()

	var limit atomic.Int64
	limit.Store(int64(v.GetInt("limit")))

	maxSize, err := humanize.ParseBytes(v.GetString("max-item-size"))
	if err != nil {
		return fmt.Errorf("max-item-size: %w", err)
	}

	var storageKey *crypto.Key
	if pass := v.GetString("passphrase"); pass != "" {
		if storageKey, err = crypto.DeriveKey(pass, crypto.PurposeStorage); err != nil {
			return err
		}
	}
	backend := persist.Backend(v.GetString("storage"))
	p, err := persist.New(persist.Config{
		Backend: backend,
		Dir:     v.GetString("data-dir"),
		Key:     storageKey,
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	w.onClose("storage", p.Close)

	socket := v.GetString("socket")
	if socket == "" {
		socket = ipc.SocketPath()
	}
	listen := v.GetString("listen")

	slog.Info("clipstash daemon starting",
		"version", Version,
		"storage", backend,
		"limit", limit.Load(),
		"capture", !v.GetBool("no-capture"),
		"socket", socket,
		"listen", listen,
	)

	h := hub.New()
	store := history.Open(ctx, p, history.Options{
		Limit:    func() int { return int(limit.Load()) },
		Notifier: h,
	})

	watchConfig(v, &limit, levelVar)

	cfg := server.Config{
		Store:       store,
		Hub:         h,
		Version:     Version,
		Persistence: string(backend),
	}

	if !v.GetBool("no-capture") {
		cb := clip.New()
		w.onClose("clipboard", func() error { cb.Close(); return nil })
		c := capture.New(store, cb, capture.Options{MaxItemSize: int64(maxSize)})
		cfg.Capture = c
		w.Go(func() { c.Run(ctx) })
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	// IPC handlers may still restore to the clipboard or write the store.
	w.onClose("ipc handlers", func() error { srv.Wait(); return nil })

	ipcLn, err := ipc.Listen(socket)
	if err != nil {
		return fmt.Errorf("ipc listen %s: %w", socket, err)
	}
	defer os.Remove(socket)
	slog.Info("IPC socket listening", "path", socket)

	errc := make(chan error, 2)
	w.Go(func() { errc <- srv.ServeIPC(ctx, ipcLn) })

	if listen != "" {
		token := v.GetString("token")
		tlsCfg, err := tlsconf.ServerConfig(tlsconf.Passphrase(token))
		if err != nil {
			return err
		}
		ln, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", listen, err)
		}
		slog.Info("listening", "addr", ln.Addr(), "auth", token != "")
		svc := grpcservice.New(srv, token)
		w.Go(func() { errc <- grpcservice.Serve(ctx, ln, tlsCfg, svc) })
	}

	select {
	case <-ctx.Done():
	case err = <-errc:
		if err != nil {
			slog.Error("listener failed", "err", err)
		}
		stop()
	}
	slog.Info("clipstash daemon stopped", "entries", store.Len())
	return err
}

// workers tracks the goroutines that use the store and the resources they
// need. shutdown cancels them and waits for every one to return before the
// resources are closed, newest first.
type workers struct {
	stop    context.CancelFunc
	wg      sync.WaitGroup
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

func (w *workers) Go(f func()) { w.wg.Go(f) }

func (w *workers) onClose(name string, fn func() error) {
	w.closers = append(w.closers, closer{name, fn})
}

func (w *workers) shutdown() {
	w.stop()
	w.wg.Wait()
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].fn(); err != nil {
			slog.Error(w.closers[i].name+" close failed", "err", err)
		}
	}
	w.closers = nil
}

// watchConfig applies limit and log-level changes from the config file while
// the daemon runs.
func watchConfig(v *viper.Viper, limit *atomic.Int64, levelVar *slog.LevelVar) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if n := int64(v.GetInt("limit")); n != limit.Swap(n) {
			slog.Info("history limit changed", "limit", history.EffectiveLimit(int(n)), "file", e.Name)
		}
		if lvl := v.GetString("log-level"); lvl != "" {
			levelVar.Set(logging.ParseLevel(lvl))
		}
	})
	v.WatchConfig()
}
