package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mercator-hq/janus/pkg/certs"
)

// routeView is the admin JSON shape of one active route.
type routeView struct {
	Host       string `json:"host"`
	Upstream   string `json:"upstream"`
	EndpointID string `json:"endpoint_id"`
	CertName   string `json:"cert_name,omitempty"`
}

// certView is the admin JSON shape of one certificate index entry.
type certView struct {
	Name        string   `json:"name"`
	Domains     []string `json:"domains"`
	State       string   `json:"state"`
	NotAfter    string   `json:"not_after,omitempty"`
	LastAttempt string   `json:"last_attempt,omitempty"`
	ForceRenew  bool     `json:"force_renew,omitempty"`
}

// adminHandler builds the admin surface: health, metrics, and read-only
// views of the route table and certificate index, plus forced renewal.
// The admin listener binds to loopback by default and carries no auth.
func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if s.config.Telemetry.Metrics.Enabled {
		mux.Handle("GET "+s.config.Telemetry.Metrics.Path, promhttp.Handler())
	}

	mux.HandleFunc("GET /api/routes", s.handleRoutes)
	mux.HandleFunc("GET /api/certs", s.handleCertList)
	mux.HandleFunc("POST /api/certs/renew", s.handleCertRenew)

	return mux
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	table := s.engine.Table()
	views := make([]routeView, 0, table.Len())
	for _, entry := range table.Entries() {
		views = append(views, routeView{
			Host:       entry.Host,
			Upstream:   entry.Upstream,
			EndpointID: entry.EndpointID,
			CertName:   entry.CertName,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"built_at": table.BuiltAt().Format(time.RFC3339),
		"routes":   views,
	})
}

func (s *Server) handleCertList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.index.List(r.Context())
	if err != nil {
		http.Error(w, "failed to list certificates", http.StatusInternalServerError)
		return
	}

	views := make([]certView, 0, len(entries))
	for _, e := range entries {
		v := certView{
			Name:       e.Name,
			Domains:    e.Domains,
			State:      string(s.manager.StateOf(e.Name)),
			ForceRenew: e.ForceRenew,
		}
		if !e.NotAfter.IsZero() {
			v.NotAfter = e.NotAfter.Format(time.RFC3339)
		}
		if !e.LastAttempt.IsZero() {
			v.LastAttempt = e.LastAttempt.Format(time.RFC3339)
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"certificates": views})
}

// handleCertRenew flags a certificate for renewal. The order starts
// immediately; the force_renew flag additionally guarantees the next sweep
// picks the name up if the immediate order fails.
func (s *Server) handleCertRenew(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "missing name parameter", http.StatusBadRequest)
		return
	}

	if err := s.index.SetForceRenew(r.Context(), name, true); err != nil {
		if errors.Is(err, certs.ErrRecordNotFound) {
			http.Error(w, "unknown certificate", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to flag certificate", http.StatusInternalServerError)
		return
	}
	if err := s.manager.Renew(r.Context(), name, true); err != nil {
		http.Error(w, "failed to start renewal", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"name":   name,
		"status": "renewal started",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
