package proxy

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync/atomic"

	"mercator-hq/janus/pkg/routes"
)

// challengePathPrefix is where ACME HTTP-01 validation requests arrive.
const challengePathPrefix = "/.well-known/acme-challenge/"

// CertificateSource resolves certificate names to serving material during
// TLS handshakes.
type CertificateSource interface {
	CertificateFor(name string) (*tls.Certificate, bool)
}

// TokenSource resolves active ACME challenge tokens to key authorizations.
type TokenSource interface {
	KeyAuth(token string) (string, bool)
}

// routeSet is one immutable generation of routing state: the table plus a
// reverse proxy per upstream, built once at swap time so the hot path does
// no parsing.
type routeSet struct {
	table   *routes.Table
	proxies map[string]http.Handler
}

// Engine is the data-plane proxy. It implements the reload target: Apply
// swaps in a new route table atomically while requests in flight finish on
// the generation they started with.
type Engine struct {
	certs        CertificateSource
	tokens       TokenSource
	redirectHTTP bool
	logger       *slog.Logger

	active atomic.Pointer[routeSet]
}

// EngineConfig configures the proxy engine.
type EngineConfig struct {
	// Certificates resolves cert names for SNI; nil disables TLS serving.
	Certificates CertificateSource

	// Tokens serves ACME challenge tokens; nil answers challenges 404.
	Tokens TokenSource

	// RedirectHTTP redirects plain HTTP requests to HTTPS once the
	// host's certificate is ready.
	RedirectHTTP bool

	// Logger is the structured logger; defaults to slog.Default().
	Logger *slog.Logger
}

// NewEngine creates a proxy engine with an empty route table.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{
		certs:        cfg.Certificates,
		tokens:       cfg.Tokens,
		redirectHTTP: cfg.RedirectHTTP,
		logger:       cfg.Logger.With("component", "proxy.engine"),
	}
	empty, _ := routes.Build(nil)
	e.active.Store(&routeSet{table: empty, proxies: map[string]http.Handler{}})
	return e
}

// Apply swaps in a new route table. Upstreams are parsed and their reverse
// proxies built before the swap; an entry with an unparseable upstream is
// dropped with a log line rather than poisoning the whole set. Implements
// the reload controller's target.
func (e *Engine) Apply(table *routes.Table) {
	proxies := make(map[string]http.Handler, table.Len())
	for _, entry := range table.Entries() {
		handler, err := e.buildProxy(entry)
		if err != nil {
			e.logger.Error("dropping route with bad upstream",
				"host", entry.Host,
				"upstream", entry.Upstream,
				"error", err,
			)
			continue
		}
		proxies[entry.Host] = handler
	}

	e.active.Store(&routeSet{table: table, proxies: proxies})
	e.logger.Info("route table activated",
		"routes", len(proxies),
		"cert_requests", len(table.CertRequests()),
	)
}

// Table returns the currently active route table.
func (e *Engine) Table() *routes.Table {
	return e.active.Load().table
}

// buildProxy constructs the reverse proxy for one route entry. The inbound
// Host header is preserved so upstreams doing their own virtual hosting
// keep working.
func (e *Engine) buildProxy(entry routes.Entry) (http.Handler, error) {
	target, err := url.Parse(entry.Upstream)
	if err != nil {
		return nil, err
	}

	host := entry.Host
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			upstreamErrors.Inc()
			e.logger.Warn("upstream request failed",
				"host", host,
				"upstream", entry.Upstream,
				"request_id", GetRequestID(r.Context()),
				"error", err,
			)
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
	}
	return rp, nil
}

// HTTPHandler serves the plain listener: ACME challenges first, then
// redirects for TLS-ready hosts, then plain proxying.
func (e *Engine) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, challengePathPrefix) {
			e.serveChallenge(w, r)
			return
		}

		host := normalizeHost(r.Host)
		set := e.active.Load()
		entry, ok := set.table.Lookup(host)
		handler := set.proxies[host]
		if !ok || handler == nil {
			e.misdirected(w, r, host)
			return
		}

		// Redirect only once the certificate actually exists; until
		// then the host stays reachable over plain HTTP.
		if e.redirectHTTP && entry.TLS() && e.certReady(entry.CertName) {
			target := "https://" + host + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
			return
		}

		handler.ServeHTTP(w, r)
	})
}

// HTTPSHandler serves the TLS listener.
func (e *Engine) HTTPSHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := normalizeHost(r.Host)
		set := e.active.Load()
		handler := set.proxies[host]
		if handler == nil {
			e.misdirected(w, r, host)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

// serveChallenge answers ACME HTTP-01 validation requests from the token
// store. Served before any routing so validation works for hosts that do
// not have a route yet.
func (e *Engine) serveChallenge(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, challengePathPrefix)
	if e.tokens == nil || token == "" {
		http.NotFound(w, r)
		return
	}
	keyAuth, ok := e.tokens.KeyAuth(token)
	if !ok {
		e.logger.Warn("unknown acme challenge token",
			"host", r.Host,
			"token", token,
		)
		http.NotFound(w, r)
		return
	}

	e.logger.Info("served acme challenge", "host", r.Host, "token", token)
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, keyAuth)
}

// misdirected answers 421 for hosts absent from the route table.
func (e *Engine) misdirected(w http.ResponseWriter, r *http.Request, host string) {
	misdirectedCount.Inc()
	e.logger.Warn("request for unknown host",
		"host", host,
		"path", r.URL.Path,
		"request_id", GetRequestID(r.Context()),
	)
	http.Error(w, "misdirected request", http.StatusMisdirectedRequest)
}

// certReady reports whether serving material exists for a cert name.
func (e *Engine) certReady(name string) bool {
	if e.certs == nil || name == "" {
		return false
	}
	_, ok := e.certs.CertificateFor(name)
	return ok
}

// GetCertificate selects the serving certificate for a TLS handshake by
// SNI. Handshakes for hosts without a route or without finished material
// are rejected; the client sees a handshake failure instead of a
// certificate for the wrong name.
func (e *Engine) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	host := strings.ToLower(hello.ServerName)
	entry, ok := e.active.Load().table.Lookup(host)
	if !ok {
		return nil, fmt.Errorf("no route for host %q", host)
	}
	if entry.CertName == "" || e.certs == nil {
		return nil, fmt.Errorf("no certificate configured for host %q", host)
	}
	cert, ok := e.certs.CertificateFor(entry.CertName)
	if !ok {
		return nil, fmt.Errorf("certificate %q not ready for host %q", entry.CertName, host)
	}
	return cert, nil
}

// TLSConfig returns the tls.Config for the HTTPS listener.
func (e *Engine) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: e.GetCertificate,
	}
}

// normalizeHost strips any port and lowercases a request host.
func normalizeHost(hostport string) string {
	host := hostport
	if i := strings.LastIndexByte(hostport, ':'); i >= 0 && !strings.Contains(hostport[i:], "]") {
		host = hostport[:i]
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
