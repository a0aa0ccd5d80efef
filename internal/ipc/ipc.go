// Package ipc provides helpers for the local Unix-socket channel that client
// sub-commands use to talk to a running clipstash daemon. The socket carries
// the same newline-delimited protocol as the TCP listener, unencrypted and
// without AUTH: access is governed by the socket's file permissions.
package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	socketName  = "clipstash.sock"
	dialTimeout = 2 * time.Second
)

// SocketPath returns the path of the IPC socket, in order of preference:
//
//   - $CLIPSTASH_SOCKET
//   - $XDG_RUNTIME_DIR/clipstash.sock
//   - $TMPDIR/clipstash.sock
func SocketPath() string {
	if s := os.Getenv("CLIPSTASH_SOCKET"); s != "" {
		return s
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, socketName)
	}
	return filepath.Join(os.TempDir(), socketName)
}

// Listen creates a listener on path, removing any stale socket left by a
// crashed run, and restricts the socket to the current user.
func Listen(path string) (net.Listener, error) {
	if IsRunning(path) {
		return nil, &net.OpError{Op: "listen", Net: "unix", Addr: &net.UnixAddr{Name: path, Net: "unix"}, Err: os.ErrExist}
	}
	_ = os.Remove(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(path, 0o600)
	return ln, nil
}

// Dial connects to the daemon listening on path.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	return d.DialContext(ctx, "unix", path)
}

// IsRunning reports whether a daemon appears to be listening on path. It does
// a cheap dial-and-close; no data is exchanged.
func IsRunning(path string) bool {
	c, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}
