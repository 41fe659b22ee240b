// Package server exposes node pool status over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/core/scheduler"
)

// SystemStatus represents the overall health state of the pool or a group.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Registry is the read side of nodes.Registry.
type Registry interface {
	Groups() []domain.GroupID
	HaveActiveNode(group domain.GroupID) bool
	Nodes(group domain.GroupID) []domain.Node
	NodesWithGroups() []domain.NodeWithGroup
}

// Controller is the part of health.Controller the server drives.
type Controller interface {
	HealthCheck()
	CurrentInterval() time.Duration
	Mode() scheduler.Mode
}

// GroupHealth is the status of one group.
type GroupHealth struct {
	Group    domain.GroupID `json:"group"`
	Status   SystemStatus   `json:"status"`
	Active   int            `json:"active"`
	Total    int            `json:"total"`
	Mode     string         `json:"mode,omitempty"`
	Interval string         `json:"interval,omitempty"`
}

// HealthReport contains the full status report.
type HealthReport struct {
	SystemStatus SystemStatus  `json:"system_status"`
	Groups       []GroupHealth `json:"groups"`
}

// NodeView is the JSON shape of a node in /nodes.
type NodeView struct {
	Group     domain.GroupID `json:"group"`
	ID        string         `json:"id"`
	Origin    string         `json:"origin"`
	Service   string         `json:"service,omitempty"`
	Enabled   bool           `json:"enabled"`
	Status    string         `json:"status"`
	Height    *int           `json:"height,omitempty"`
	Version   string         `json:"version,omitempty"`
	PingMs    *int64         `json:"ping_ms,omitempty"`
	WSEnabled bool           `json:"ws_enabled"`
}

// Server provides HTTP endpoints for node pool monitoring.
type Server struct {
	registry    Registry
	controllers map[domain.GroupID]Controller
	server      *http.Server
}

// New creates a status server listening on addr.
func New(registry Registry, controllers map[domain.GroupID]Controller, addr string) *Server {
	s := &Server{
		registry:    registry,
		controllers: controllers,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.HandleFunc("GET /nodes", s.handleNodes)
	mux.HandleFunc("POST /healthcheck", s.handleHealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start starts the HTTP server. It returns nil after Stop.
func (s *Server) Start() error {
	slog.Info("Status server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Report builds the health report of every group.
func (s *Server) Report() HealthReport {
	groups := s.registry.Groups()
	for id := range s.controllers {
		if !slices.Contains(groups, id) {
			groups = append(groups, id)
		}
	}
	slices.Sort(groups)

	report := HealthReport{SystemStatus: StatusHealthy}
	inactive := 0
	for _, id := range groups {
		nodes := s.registry.Nodes(id)
		g := GroupHealth{Group: id, Status: StatusHealthy, Total: len(nodes)}
		for _, n := range nodes {
			if n.IsEnabled && n.Status.State == domain.StateAllowed {
				g.Active++
			}
		}
		if !s.registry.HaveActiveNode(id) {
			g.Status = StatusCritical
			inactive++
		}
		if c, ok := s.controllers[id]; ok {
			g.Mode = string(c.Mode())
			g.Interval = c.CurrentInterval().String()
		}
		report.Groups = append(report.Groups, g)
	}

	switch {
	case len(groups) > 0 && inactive == len(groups):
		report.SystemStatus = StatusCritical
	case inactive > 0:
		report.SystemStatus = StatusDegraded
	}
	return report
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.Report()
	code := http.StatusOK
	if report.SystemStatus != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Report())
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	var pairs []domain.NodeWithGroup
	if g := r.URL.Query().Get("group"); g != "" {
		for _, n := range s.registry.Nodes(domain.GroupID(g)) {
			pairs = append(pairs, domain.NodeWithGroup{Group: domain.GroupID(g), Node: n})
		}
	} else {
		pairs = s.registry.NodesWithGroups()
	}

	views := make([]NodeView, 0, len(pairs))
	for _, p := range pairs {
		views = append(views, View(p))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	g := r.URL.Query().Get("group")
	if g == "" {
		for _, c := range s.controllers {
			c.HealthCheck()
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"groups": len(s.controllers)})
		return
	}

	c, ok := s.controllers[domain.GroupID(g)]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown group " + g})
		return
	}
	c.HealthCheck()
	writeJSON(w, http.StatusAccepted, map[string]int{"groups": 1})
}

// View converts a pair to its JSON shape.
func View(p domain.NodeWithGroup) NodeView {
	n := p.Node
	v := NodeView{
		Group:     p.Group,
		ID:        n.ID,
		Origin:    n.Main.String(),
		Enabled:   n.IsEnabled,
		Status:    n.Status.String(),
		Height:    n.Height,
		Version:   n.Version,
		WSEnabled: n.WSEnabled,
	}
	if n.Service != nil {
		v.Service = n.Service.String()
	}
	if n.Ping != nil {
		v.PingMs = domain.Ptr(n.Ping.Milliseconds())
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}
