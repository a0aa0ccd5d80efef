package grpcservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/persist"
	"go.klb.dev/clipstash/internal/server"
	"go.klb.dev/clipstash/internal/tlsconf"
)

const testToken = "s3cret"

type fixture struct {
	store *history.Store
	hub   *hub.Hub
	addr  string
}

// newFixture serves a fresh history on a loopback TLS listener.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{hub: hub.New()}
	f.store = history.Open(context.Background(), persist.NewMemory(), history.Options{Notifier: f.hub})
	srv, err := server.New(server.Config{Store: f.store, Hub: f.hub, Version: "test", Persistence: "memory"})
	require.NoError(t, err)

	tlsCfg, err := tlsconf.ServerConfig(testToken)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- Serve(ctx, ln, tlsCfg, New(srv, testToken)) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("serve did not stop")
		}
	})
	return f
}

func (f *fixture) client(t *testing.T) *Client {
	t.Helper()
	c, err := Dial(f.addr, testToken, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestService_Operations(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	ctx := testCtx(t)

	e, err := history.NewEntry(history.Text("over grpc"), time.Now())
	require.NoError(t, err)
	resp, err := c.Do(ctx, &message.Message{Type: message.TypeAdd, Entry: &e})
	require.NoError(t, err)
	assert.True(t, resp.Changed)
	require.NotNil(t, resp.Entry)
	assert.Equal(t, e.ID(), resp.Entry.ID())

	resp, err = c.Do(ctx, &message.Message{Type: message.TypeList})
	require.NoError(t, err)
	assert.Equal(t, message.TypeEntries, resp.Type)
	require.Len(t, resp.Summaries, 1)
	assert.Equal(t, "over grpc", resp.Summaries[0].Preview)

	resp, err = c.Do(ctx, &message.Message{Type: message.TypeGet})
	require.NoError(t, err)
	require.NotNil(t, resp.Entry)
	assert.Equal(t, history.Text("over grpc"), resp.Entry.Payload())

	resp, err = c.Do(ctx, &message.Message{Type: message.TypePin, ID: e.ID().Short()})
	require.NoError(t, err)
	assert.True(t, resp.Entry.Pinned())

	resp, err = c.Do(ctx, &message.Message{Type: message.TypeStatus})
	require.NoError(t, err)
	require.NotNil(t, resp.Status)
	assert.Equal(t, 1, resp.Status.Len)
	assert.Equal(t, 1, resp.Status.Pinned)

	_, err = c.Do(ctx, &message.Message{Type: message.TypeGet, ID: "nope"})
	require.ErrorIs(t, err, server.ErrRemote)

	// no clipboard owner in this daemon
	_, err = c.Do(ctx, &message.Message{Type: message.TypeRestore})
	require.ErrorIs(t, err, server.ErrRemote)

	_, err = c.Do(ctx, &message.Message{Type: message.TypeWatch})
	require.Error(t, err)
}

func TestService_LargeImage(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	ctx := testCtx(t)

	img := bytes.Repeat([]byte{0xab}, 16<<20)
	e, err := history.NewEntry(history.Image(img), time.Now())
	require.NoError(t, err)
	_, err = c.Do(ctx, &message.Message{Type: message.TypeAdd, Entry: &e})
	require.NoError(t, err)

	resp, err := c.Do(ctx, &message.Message{Type: message.TypeGet, ID: string(e.ID())})
	require.NoError(t, err)
	assert.Equal(t, history.Image(img), resp.Entry.Payload())
}

func TestService_Unauthenticated(t *testing.T) {
	f := newFixture(t)

	// Right TLS key, no bearer token.
	creds, err := tlsconf.ClientCredentials(testToken)
	require.NoError(t, err)
	conn, err := grpc.NewClient(f.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	err = conn.Invoke(testCtx(t), fullMethod("Status"), &message.Message{}, new(message.Message))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestService_WrongToken(t *testing.T) {
	f := newFixture(t)
	c, err := Dial(f.addr, "guess", "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	// The TLS key derived from the wrong token does not match.
	_, err = c.Do(testCtx(t), &message.Message{Type: message.TypeStatus})
	require.Error(t, err)
	assert.NotErrorIs(t, err, server.ErrRemote)
}

func TestService_Watch(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan history.Change, 8)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, []history.Op{history.OpAdd}, func(ch history.Change) error {
			changes <- ch
			return nil
		})
	}()
	require.Eventually(t, func() bool { return len(f.hub.Watchers()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "test", f.hub.Watchers()[0].Source)

	e, err := history.NewEntry(history.Text("live"), time.Now())
	require.NoError(t, err)
	f.store.Add(context.Background(), e)

	select {
	case got := <-changes:
		assert.Equal(t, history.OpAdd, got.Op)
		assert.Equal(t, e.ID(), got.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no change received")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	require.Eventually(t, func() bool { return len(f.hub.Watchers()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

// httpDo sends an HTTP/1.1 request through the gateway.
func httpDo(t *testing.T, f *fixture, method, path, token, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	cfg, err := tlsconf.ClientConfig(testToken)
	require.NoError(t, err)
	hc := &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}, Timeout: 5 * time.Second}
	t.Cleanup(hc.CloseIdleConnections)

	req, err := http.NewRequest(method, fmt.Sprintf("https://%s%s", f.addr, path), bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Clipstash-Source", "curl")
	resp, err := hc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestGateway_Status(t *testing.T) {
	f := newFixture(t)

	resp, body := httpDo(t, f, http.MethodGet, "/v1/status", testToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	msg, err := message.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, message.TypeStatusResponse, msg.Type)
	assert.Equal(t, "test", msg.Status.Version)

	resp, _ = httpDo(t, f, http.MethodGet, "/v1/status", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_Entries(t *testing.T) {
	f := newFixture(t)

	resp, body := httpDo(t, f, http.MethodPost, "/v1/entries", testToken, "text/plain", []byte("from http"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	added, err := message.Decode(body)
	require.NoError(t, err)
	require.NotNil(t, added.Entry)

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{1}, 64)...)
	resp, body = httpDo(t, f, http.MethodPost, "/v1/entries", testToken, "image/png", png)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = httpDo(t, f, http.MethodGet, "/v1/entries?kind=image", testToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	list, err := message.Decode(body)
	require.NoError(t, err)
	require.Len(t, list.Summaries, 1)
	assert.Equal(t, history.KindImage, list.Summaries[0].Kind)

	resp, body = httpDo(t, f, http.MethodGet, "/v1/entries/latest/content", testToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, png, body)

	id := string(added.Entry.ID())
	resp, body = httpDo(t, f, http.MethodGet, "/v1/entries/"+id+"/content", testToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "from http", string(body))

	resp, body = httpDo(t, f, http.MethodPost, "/v1/entries/"+id+"/pin", testToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	pinned, err := message.Decode(body)
	require.NoError(t, err)
	assert.True(t, pinned.Entry.Pinned())

	resp, _ = httpDo(t, f, http.MethodDelete, "/v1/entries/"+id, testToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, f.store.Len())

	resp, _ = httpDo(t, f, http.MethodGet, "/v1/entries/"+id, testToken, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = httpDo(t, f, http.MethodGet, "/v1/entries?kind=hologram", testToken, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = httpDo(t, f, http.MethodPost, "/v1/entries", testToken, "text/plain", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = httpDo(t, f, http.MethodDelete, "/v1/entries", testToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, f.store.Len())
}

func TestToStatus(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want codes.Code
	}{
		{history.ErrNotFound, codes.NotFound},
		{fmt.Errorf("get: %w", server.ErrEmpty), codes.NotFound},
		{history.ErrAmbiguous, codes.InvalidArgument},
		{server.ErrBadRequest, codes.InvalidArgument},
		{fmt.Errorf("restore: %w", server.ErrCaptureDisabled), codes.FailedPrecondition},
		{errors.New("disk on fire"), codes.Internal},
	} {
		assert.Equal(t, tc.want, status.Code(toStatus(tc.err)), tc.err.Error())
	}
}
