package proxy

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mercator-hq/janus/pkg/registry"
	"mercator-hq/janus/pkg/routes"
)

// staticCerts serves a fixed set of certificate names.
type staticCerts map[string]*tls.Certificate

func (s staticCerts) CertificateFor(name string) (*tls.Certificate, bool) {
	cert, ok := s[name]
	return cert, ok
}

// staticTokens serves a fixed set of challenge tokens.
type staticTokens map[string]string

func (s staticTokens) KeyAuth(token string) (string, bool) {
	keyAuth, ok := s[token]
	return keyAuth, ok
}

func buildTestTable(t *testing.T, eps ...registry.ServiceEndpoint) *routes.Table {
	t.Helper()
	table, err := routes.Build(eps)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestEngineRoutesByHost(t *testing.T) {
	alpha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "alpha:"+r.Host)
	}))
	defer alpha.Close()
	beta := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "beta")
	}))
	defer beta.Close()

	e := NewEngine(EngineConfig{})
	e.Apply(buildTestTable(t,
		registry.ServiceEndpoint{ID: "alpha", Upstream: alpha.URL, HostAliases: []string{"alpha.example.com"}},
		registry.ServiceEndpoint{ID: "beta", Upstream: beta.URL, HostAliases: []string{"beta.example.com"}},
	))

	front := httptest.NewServer(e.HTTPHandler())
	defer front.Close()

	req, _ := http.NewRequest(http.MethodGet, front.URL+"/x", nil)
	req.Host = "alpha.example.com"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	// The inbound Host header reaches the upstream unchanged.
	if string(body) != "alpha:alpha.example.com" {
		t.Errorf("body = %q", body)
	}
}

func TestEngineUnknownHostMisdirected(t *testing.T) {
	e := NewEngine(EngineConfig{})
	e.Apply(buildTestTable(t,
		registry.ServiceEndpoint{ID: "web", Upstream: "http://127.0.0.1:1", HostAliases: []string{"web.example.com"}},
	))

	front := httptest.NewServer(e.HTTPHandler())
	defer front.Close()

	req, _ := http.NewRequest(http.MethodGet, front.URL+"/", nil)
	req.Host = "stranger.example.com"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMisdirectedRequest {
		t.Errorf("status = %d, want 421", resp.StatusCode)
	}
}

func TestEngineServesChallengeBeforeRouting(t *testing.T) {
	e := NewEngine(EngineConfig{
		Tokens: staticTokens{"tok123": "tok123.keyauth"},
	})
	// Deliberately no routes at all: validation must still work.

	front := httptest.NewServer(e.HTTPHandler())
	defer front.Close()

	req, _ := http.NewRequest(http.MethodGet, front.URL+"/.well-known/acme-challenge/tok123", nil)
	req.Host = "pending.example.com"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(body) != "tok123.keyauth" {
		t.Errorf("body = %q, want key authorization", body)
	}

	// Unknown tokens are a 404, not a proxy attempt.
	req, _ = http.NewRequest(http.MethodGet, front.URL+"/.well-known/acme-challenge/other", nil)
	req.Host = "pending.example.com"
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown token status = %d, want 404", resp.StatusCode)
	}
}

func TestEngineRedirectsOnlyWhenCertReady(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "plain")
	}))
	defer upstream.Close()

	certs := staticCerts{}
	e := NewEngine(EngineConfig{
		Certificates: certs,
		RedirectHTTP: true,
	})
	e.Apply(buildTestTable(t,
		registry.ServiceEndpoint{
			ID:            "web",
			Upstream:      upstream.URL,
			HostAliases:   []string{"web.example.com"},
			WantsAutoCert: true,
		},
	))

	front := httptest.NewServer(e.HTTPHandler())
	defer front.Close()
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	// Certificate not issued yet: plain HTTP keeps serving.
	req, _ := http.NewRequest(http.MethodGet, front.URL+"/page", nil)
	req.Host = "web.example.com"
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status before cert = %d, want 200", resp.StatusCode)
	}

	// Certificate lands: plain HTTP starts redirecting.
	certs["web.example.com"] = &tls.Certificate{}
	req, _ = http.NewRequest(http.MethodGet, front.URL+"/page?a=1", nil)
	req.Host = "web.example.com"
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusPermanentRedirect {
		t.Fatalf("status after cert = %d, want 308", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://web.example.com/page?a=1" {
		t.Errorf("Location = %q", loc)
	}
}

func TestEngineApplySwapsAtomically(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "first")
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "second")
	}))
	defer second.Close()

	e := NewEngine(EngineConfig{})
	e.Apply(buildTestTable(t,
		registry.ServiceEndpoint{ID: "web", Upstream: first.URL, HostAliases: []string{"web.example.com"}},
	))
	e.Apply(buildTestTable(t,
		registry.ServiceEndpoint{ID: "web", Upstream: second.URL, HostAliases: []string{"web.example.com"}},
	))

	front := httptest.NewServer(e.HTTPHandler())
	defer front.Close()

	req, _ := http.NewRequest(http.MethodGet, front.URL+"/", nil)
	req.Host = "web.example.com"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "second" {
		t.Errorf("body = %q, want replacement upstream", body)
	}
}

func TestEngineGetCertificate(t *testing.T) {
	cert := &tls.Certificate{}
	e := NewEngine(EngineConfig{
		Certificates: staticCerts{"web.example.com": cert},
	})
	e.Apply(buildTestTable(t,
		registry.ServiceEndpoint{
			ID:            "web",
			Upstream:      "http://127.0.0.1:1",
			HostAliases:   []string{"web.example.com"},
			WantsAutoCert: true,
		},
		registry.ServiceEndpoint{
			ID:          "plain",
			Upstream:    "http://127.0.0.1:1",
			HostAliases: []string{"plain.example.com"},
		},
	))

	got, err := e.GetCertificate(&tls.ClientHelloInfo{ServerName: "web.example.com"})
	if err != nil {
		t.Fatalf("GetCertificate() error = %v", err)
	}
	if got != cert {
		t.Error("GetCertificate() returned the wrong certificate")
	}

	if _, err := e.GetCertificate(&tls.ClientHelloInfo{ServerName: "plain.example.com"}); err == nil {
		t.Error("handshake for an HTTP-only host did not fail")
	}
	if _, err := e.GetCertificate(&tls.ClientHelloInfo{ServerName: "stranger.example.com"}); err == nil {
		t.Error("handshake for an unknown host did not fail")
	}
}

func TestEngineBadUpstreamAnswers502(t *testing.T) {
	e := NewEngine(EngineConfig{})
	// Port 1 is never listening.
	e.Apply(buildTestTable(t,
		registry.ServiceEndpoint{ID: "down", Upstream: "http://127.0.0.1:1", HostAliases: []string{"down.example.com"}},
	))

	front := httptest.NewServer(e.HTTPHandler())
	defer front.Close()

	req, _ := http.NewRequest(http.MethodGet, front.URL+"/", nil)
	req.Host = "down.example.com"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	if !strings.Contains(string(body), "bad gateway") {
		t.Errorf("body = %q", body)
	}
}
