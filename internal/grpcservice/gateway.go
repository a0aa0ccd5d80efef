package grpcservice

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/genproto/googleapis/api/httpbody"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/wire"
)

// gateway maps HTTP/JSON requests onto Service calls.
type gateway struct {
	mux *runtime.ServeMux
	svc *Service
}

// NewGateway returns the HTTP/JSON mux for svc:
//
//	GET    /v1/entries                ?kind= &q= &limit= &pinned=
//	POST   /v1/entries                raw body; image/* is an image, else text
//	DELETE /v1/entries
//	GET    /v1/entries/{id}
//	DELETE /v1/entries/{id}
//	POST   /v1/entries/{id}/pin
//	POST   /v1/entries/{id}/restore
//	GET    /v1/entries/{id}/content   the entry's bytes with its content type
//	GET    /v1/status
//
// The id "latest" in GET and restore routes means the first entry.
func NewGateway(svc *Service) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux(
		runtime.WithMarshalerOption(runtime.MIMEWildcard, &runtime.HTTPBodyMarshaler{
			Marshaler: &runtime.JSONPb{},
		}),
		runtime.WithIncomingHeaderMatcher(headerMatcher),
	)
	g := &gateway{mux: mux, svc: svc}

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/entries", g.list},
		{http.MethodPost, "/v1/entries", g.add},
		{http.MethodDelete, "/v1/entries", g.simple("Clear", message.TypeClear)},
		{http.MethodGet, "/v1/entries/{id}", g.simple("Get", message.TypeGet)},
		{http.MethodDelete, "/v1/entries/{id}", g.simple("Delete", message.TypeDelete)},
		{http.MethodPost, "/v1/entries/{id}/pin", g.simple("Pin", message.TypePin)},
		{http.MethodPost, "/v1/entries/{id}/restore", g.simple("Restore", message.TypeRestore)},
		{http.MethodGet, "/v1/entries/{id}/content", g.content},
		{http.MethodGet, "/v1/status", g.simple("Status", message.TypeStatus)},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return nil, fmt.Errorf("grpcservice: route %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

// headerMatcher forwards the source header next to the gateway defaults.
func headerMatcher(key string) (string, bool) {
	if strings.EqualFold(key, sourceKey) {
		return sourceKey, true
	}
	return runtime.DefaultHeaderMatcher(key)
}

// pathID returns the {id} path parameter; "latest" becomes the empty id.
func pathID(params map[string]string) string {
	id := params["id"]
	if id == "latest" {
		return ""
	}
	return id
}

// simple returns a handler for requests that carry at most an id.
func (g *gateway) simple(name string, typ message.Type) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		g.call(w, r, name, &message.Message{Type: typ, ID: pathID(params)})
	}
}

func (g *gateway) list(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	f, err := parseFilter(r)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	g.call(w, r, "List", &message.Message{Type: message.TypeList, Filter: &f})
}

func (g *gateway) add(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, wire.MaxMessageSize))
	if err != nil {
		g.fail(w, r, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}
	var p history.Payload = history.Text(body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "image/") {
		p = history.Image(body)
	}
	e, err := history.NewEntry(p, time.Now())
	if err != nil {
		g.fail(w, r, status.Error(codes.InvalidArgument, err.Error()))
		return
	}
	g.call(w, r, "Add", &message.Message{Type: message.TypeAdd, Entry: &e})
}

func (g *gateway) content(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ctx, err := runtime.AnnotateIncomingContext(r.Context(), g.mux, r, fullMethod("Get"))
	if err != nil {
		g.fail(w, r, err)
		return
	}
	_, outbound := runtime.MarshalerForRequest(g.mux, r)
	resp, err := g.svc.Call(ctx, &message.Message{Type: message.TypeGet, ID: pathID(params)})
	if err != nil {
		runtime.HTTPError(ctx, g.mux, outbound, w, r, err)
		return
	}
	ctx = runtime.NewServerMetadataContext(ctx, runtime.ServerMetadata{})
	runtime.ForwardResponseMessage(ctx, g.mux, outbound, w, r, contentBody(*resp.Entry))
}

// call runs req through the service with the request's metadata and writes
// the JSON response.
func (g *gateway) call(w http.ResponseWriter, r *http.Request, name string, req *message.Message) {
	ctx, err := runtime.AnnotateIncomingContext(r.Context(), g.mux, r, fullMethod(name))
	if err != nil {
		g.fail(w, r, err)
		return
	}
	_, outbound := runtime.MarshalerForRequest(g.mux, r)
	resp, err := g.svc.Call(ctx, req)
	if err != nil {
		runtime.HTTPError(ctx, g.mux, outbound, w, r, err)
		return
	}
	buf, err := outbound.Marshal(resp)
	if err != nil {
		runtime.HTTPError(ctx, g.mux, outbound, w, r, status.Error(codes.Internal, err.Error()))
		return
	}
	w.Header().Set("Content-Type", outbound.ContentType(resp))
	_, _ = w.Write(buf)
}

func (g *gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	_, outbound := runtime.MarshalerForRequest(g.mux, r)
	runtime.HTTPError(r.Context(), g.mux, outbound, w, r, err)
}

func parseFilter(r *http.Request) (message.Filter, error) {
	q := r.URL.Query()
	f := message.Filter{Query: q.Get("q")}
	if s := q.Get("kind"); s != "" {
		k, ok := history.ParseKind(s)
		if !ok {
			return f, status.Errorf(codes.InvalidArgument, "unknown kind %q", s)
		}
		f.Kind = k
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, status.Errorf(codes.InvalidArgument, "bad limit %q", s)
		}
		f.Limit = n
	}
	if s := q.Get("pinned"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return f, status.Errorf(codes.InvalidArgument, "bad pinned %q", s)
		}
		f.Pinned = b
	}
	return f, nil
}

// contentBody returns the raw bytes of e. Files and file groups are listed
// one path per line.
func contentBody(e history.Entry) *httpbody.HttpBody {
	switch p := e.Payload().(type) {
	case history.Image:
		return &httpbody.HttpBody{ContentType: http.DetectContentType(p), Data: p}
	case history.File:
		return &httpbody.HttpBody{ContentType: "text/plain; charset=utf-8", Data: []byte(string(p) + "\n")}
	case history.FileGroup:
		return &httpbody.HttpBody{ContentType: "text/plain; charset=utf-8", Data: []byte(strings.Join(p, "\n") + "\n")}
	case history.Text:
		return &httpbody.HttpBody{ContentType: "text/plain; charset=utf-8", Data: []byte(p)}
	}
	return &httpbody.HttpBody{ContentType: "application/octet-stream"}
}
