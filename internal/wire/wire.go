// Package wire handles reading and writing newline-delimited JSON messages
// over a net.Conn. It carries the control protocol on the local IPC socket,
// which is owner-only and therefore trusted.
//
// Wire format:
//
//	<json>\n
//
// encoding/json escapes control characters inside strings and base64-encodes
// byte slices, so every line is a single message.
package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.klb.dev/clipstash/internal/message"
)

const (
	// MaxMessageSize is the largest line we will read or write (64 MiB).
	// GET of a large image is the biggest message in practice; LIST only
	// carries summaries.
	MaxMessageSize = 64 * 1024 * 1024

	writeDeadline = 5 * time.Second
)

// ErrTooLarge is returned when a line exceeds the size limit.
var ErrTooLarge = errors.New("message too large")

// Conn wraps a net.Conn with buffered newline-delimited JSON framing.
type Conn struct {
	conn  net.Conn
	br    *bufio.Reader
	limit int
}

// New wraps conn.
func New(conn net.Conn) *Conn {
	return &Conn{
		conn:  conn,
		br:    bufio.NewReaderSize(conn, 64*1024),
		limit: MaxMessageSize,
	}
}

// SetReadDeadline sets or clears the read deadline.
func (c *Conn) SetReadDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
}

// SetWriteDeadline sets or clears the write deadline.
func (c *Conn) SetWriteDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetWriteDeadline(time.Time{})
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(d))
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// WriteMsg serialises msg to JSON and writes it followed by a newline.
// Nothing is written when the line would exceed the size limit.
func (c *Conn) WriteMsg(msg *message.Message) error {
	line, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if len(line) >= c.limit {
		return fmt.Errorf("%w (%d bytes)", ErrTooLarge, len(line))
	}
	line = append(line, '\n')

	c.SetWriteDeadline(writeDeadline)
	_, err = c.conn.Write(line)
	c.SetWriteDeadline(0)
	return err
}

// ReadMsg reads one newline-terminated line and deserialises it into a
// Message.
func (c *Conn) ReadMsg() (*message.Message, error) {
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	return message.Decode(line)
}

// readLine returns the next line without its newline, refusing to buffer
// more than the size limit.
func (c *Conn) readLine() ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := c.br.ReadSlice('\n')
		if buf.Len()+len(chunk) > c.limit {
			return nil, fmt.Errorf("%w (over %d bytes)", ErrTooLarge, c.limit)
		}
		buf.Write(chunk)
		switch {
		case err == nil:
			return buf.Bytes()[:buf.Len()-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && buf.Len() > 0:
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}
