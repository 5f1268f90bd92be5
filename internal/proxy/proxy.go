// Package proxy emulates the edge locally: it routes incoming HTTP requests and
// fetches the selected origin.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/edge-origin-router/internal/api/middleware"
	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/pkg/safehttp"
)

// Router selects the origin for a request.
type Router interface {
	Route(ctx context.Context, req *domain.Request) *domain.Request
}

// OriginHeader names the response header that reports the selected origin.
const OriginHeader = "X-Edge-Origin"

// Options configures a Handler.
type Options struct {
	// Transport overrides the per-origin transports, e.g. with a recorder in tests.
	Transport    http.RoundTripper
	AllowPrivate bool
	Logger       *slog.Logger
}

// Handler is the edge listener's catch-all handler.
type Handler struct {
	router    Router
	transport http.RoundTripper
	opts      Options
	logger    *slog.Logger

	mu         sync.Mutex
	transports map[string]http.RoundTripper
}

// NewHandler creates a handler routing through router.
func NewHandler(router Router, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		router:     router,
		transport:  opts.Transport,
		opts:       opts,
		logger:     opts.Logger,
		transports: make(map[string]http.RoundTripper),
	}
}

// FromHTTP describes r the way the edge platform hands requests to the router.
func FromHTTP(r *http.Request) *domain.Request {
	req := &domain.Request{
		Method:      r.Method,
		URI:         r.URL.Path,
		QueryString: r.URL.RawQuery,
		Headers:     domain.Headers{},
	}
	if req.URI == "" {
		req.URI = "/"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		req.ClientIP = host
	} else {
		req.ClientIP = r.RemoteAddr
	}

	for name, values := range r.Header {
		lower := strings.ToLower(name)
		for _, v := range values {
			req.Headers[lower] = append(req.Headers[lower], domain.HeaderEntry{Key: name, Value: v})
		}
	}
	// net/http moves the Host header out of r.Header.
	if r.Host != "" {
		req.Headers["host"] = []domain.HeaderEntry{{Key: "Host", Value: r.Host}}
	}
	return req
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := h.router.Route(r.Context(), FromHTTP(r))

	switch {
	case out.Origin != nil && out.Origin.Custom != nil:
		middleware.AddLogField(r.Context(), "origin", out.Origin.Custom.DomainName)
		h.serveCustom(w, r, out)
	case out.Origin != nil && out.Origin.S3 != nil:
		middleware.AddLogField(r.Context(), "origin", out.Origin.S3.DomainName)
		h.serveFallback(w, r, out.Origin.S3)
	default:
		http.Error(w, "no origin selected", http.StatusBadGateway)
	}
}

// TargetURL returns the upstream URL for a request routed to a custom origin.
func TargetURL(req *domain.Request) (*url.URL, error) {
	if req.Origin == nil || req.Origin.Custom == nil {
		return nil, fmt.Errorf("request has no custom origin")
	}
	c := req.Origin.Custom

	host := c.DomainName
	if c.Port != 0 && !(c.Protocol == "https" && c.Port == 443) && !(c.Protocol == "http" && c.Port == 80) {
		host = net.JoinHostPort(c.DomainName, strconv.Itoa(c.Port))
	}
	return &url.URL{
		Scheme:   c.Protocol,
		Host:     host,
		Path:     c.Path + req.URI,
		RawQuery: req.QueryString,
	}, nil
}

func (h *Handler) serveCustom(w http.ResponseWriter, r *http.Request, out *domain.Request) {
	target, err := TargetURL(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	transport, err := h.transportFor(out.Origin.Custom)
	if err != nil {
		h.logger.Error("invalid origin transport settings", slog.String("error", err.Error()))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	hostHeader, _ := out.Host()

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL = target
			pr.Out.Host = hostHeader
			pr.SetXForwarded()
		},
		Transport: transport,
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Set(OriginHeader, out.Origin.Custom.DomainName)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			middleware.AddError(r.Context(), err)
			h.logger.Warn("upstream request failed",
				slog.String("request_id", middleware.GetRequestID(r.Context())),
				slog.String("target", target.String()),
				slog.String("error", err.Error()))
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
	}
	rp.ServeHTTP(w, r)
}

// serveFallback renders the error document with a 404 status.
func (h *Handler) serveFallback(w http.ResponseWriter, r *http.Request, origin *domain.S3Origin) {
	docURL := (&url.URL{Scheme: "https", Host: origin.DomainName, Path: origin.Path}).String()

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, docURL, nil)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	transport, err := h.transportFor(nil)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		middleware.AddError(r.Context(), err)
		h.logger.Warn("fallback fetch failed",
			slog.String("url", docURL),
			slog.String("error", err.Error()))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.logger.Warn("fallback document unavailable",
			slog.String("url", docURL),
			slog.Int("status", resp.StatusCode))
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set(OriginHeader, origin.DomainName)
	w.WriteHeader(http.StatusNotFound)
	if r.Method != http.MethodHead {
		io.Copy(w, resp.Body)
	}
}

// transportFor returns a cached transport for the origin's TLS and timeout
// settings. A nil origin gets the fallback document transport.
func (h *Handler) transportFor(c *domain.CustomOrigin) (http.RoundTripper, error) {
	if h.transport != nil {
		return h.transport, nil
	}

	opts := safehttp.Options{
		SSLProtocols: []string{"TLSv1.2", "TLSv1.3"},
		AllowPrivate: h.opts.AllowPrivate,
	}
	if c != nil {
		opts.SSLProtocols = c.SSLProtocols
		opts.ReadTimeout = time.Duration(c.ReadTimeout) * time.Second
		opts.KeepaliveTimeout = time.Duration(c.KeepaliveTimeout) * time.Second
	}
	key := fmt.Sprintf("%v|%v|%v", opts.SSLProtocols, opts.ReadTimeout, opts.KeepaliveTimeout)

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.transports[key]; ok {
		return t, nil
	}
	t, err := safehttp.NewTransport(opts)
	if err != nil {
		return nil, err
	}
	h.transports[key] = t
	return t, nil
}
