package grpcservice

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/soheilhy/cmux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"

	"go.klb.dev/clipstash/internal/wire"
)

const sniffTimeout = 10 * time.Second

// NewServer returns a gRPC server with svc registered.
func NewServer(svc *Service) *grpc.Server {
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(wire.MaxMessageSize),
		grpc.MaxSendMsgSize(wire.MaxMessageSize),
	)
	gs.RegisterService(&serviceDesc, svc)
	return gs
}

// Serve terminates TLS on ln and answers gRPC and HTTP/JSON on the same port
// until ctx is done. Connections are split by cmux: HTTP/2 with a gRPC
// content-type goes to the gRPC server, everything else to the gateway.
func Serve(ctx context.Context, ln net.Listener, tlsCfg *tls.Config, svc *Service) error {
	gw, err := NewGateway(svc)
	if err != nil {
		return err
	}
	gs := NewServer(svc)
	// h2c serves HTTP/2 clients that negotiated h2 but are not gRPC; cmux
	// hides the *tls.Conn from net/http so its own h2 upgrade never runs.
	hs := &http.Server{
		Handler:           h2c.NewHandler(gw, &http2.Server{}),
		ReadHeaderTimeout: sniffTimeout,
	}

	m := cmux.New(tls.NewListener(ln, tlsCfg))
	m.SetReadTimeout(sniffTimeout)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldPrefixSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	stop := context.AfterFunc(ctx, func() {
		gs.Stop()
		_ = hs.Close()
		_ = ln.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	wg.Go(func() {
		if err := gs.Serve(grpcL); err != nil {
			slog.Debug("grpc server stopped", "err", err)
		}
	})
	wg.Go(func() {
		if err := hs.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Debug("http gateway stopped", "err", err)
		}
	})

	slog.Info("tcp listener serving grpc and http", "addr", ln.Addr())
	err = m.Serve()
	gs.Stop()
	_ = hs.Close()
	wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("grpcservice: serve: %w", err)
}
