package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
)

// Dispatcher is the part of the dispatcher the API reads.
type Dispatcher interface {
	Plugins() []string
	Reports(ctx context.Context) (map[string]string, error)
}

// Admissions lists the admitted chats.
type Admissions interface {
	List() []chat.ChatID
}

// Server provides HTTP API endpoints for the bot
type Server struct {
	dispatcher Dispatcher
	admissions Admissions
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a new API server
func NewServer(d Dispatcher, a Admissions, logger *zap.Logger, port int) *Server {
	s := &Server{
		dispatcher: d,
		admissions: a,
		logger:     logger.Named("api"),
	}

	router := chi.NewRouter()
	router.Get("/", s.handleSitemap)
	router.Get("/health", s.handleHealth)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Route("/api", func(r chi.Router) {
		r.Get("/plugins", s.handlePlugins)
		r.Get("/guard", s.handleGuard)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// PluginStatus is one entry of the plugins endpoint
type PluginStatus struct {
	Name   string `json:"name"`
	Report string `json:"report,omitempty"`
}

// PluginsResponse represents the JSON response for the plugins endpoint
type PluginsResponse struct {
	Plugins []PluginStatus `json:"plugins"`
}

// GuardResponse represents the JSON response for the guard endpoint
type GuardResponse struct {
	Admitted []chat.ChatID `json:"admitted"`
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// handlePlugins lists the plugins in dispatch order with their status line.
// Reports are computed on the dispatch loop.
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	reports, err := s.dispatcher.Reports(ctx)
	if err != nil {
		s.logger.Warn("Failed to collect reports", zap.Error(err))
		http.Error(w, "Dispatcher busy", http.StatusServiceUnavailable)
		return
	}

	response := PluginsResponse{Plugins: []PluginStatus{}}
	for _, name := range s.dispatcher.Plugins() {
		response.Plugins = append(response.Plugins, PluginStatus{Name: name, Report: reports[name]})
	}
	s.writeJSON(w, response)

	s.logger.Debug("Plugins request served",
		zap.String("remote_addr", r.RemoteAddr))
}

// handleGuard returns the admitted chats
func (s *Server) handleGuard(w http.ResponseWriter, r *http.Request) {
	ids := s.admissions.List()
	if ids == nil {
		ids = []chat.ChatID{}
	}
	s.writeJSON(w, GuardResponse{Admitted: ids})
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/api/plugins", Method: "GET", Description: "Plugins in dispatch order with their status line"},
	{Path: "/api/guard", Method: "GET", Description: "Chats admitted by the safety guard"},
	{Path: "/health", Method: "GET", Description: "Health check endpoint - returns {\"status\": \"ok\"}"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<!DOCTYPE html>\n<html>\n<head><title>fondbot API</title></head>\n<body>\n<h1>fondbot API</h1>\n<ul>\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  <li><code>%s</code> <a href=\"%s\">%s</a> - %s</li>\n", ep.Method, ep.Path, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</ul>\n</body>\n</html>\n")
	} else {
		// Plain text format for terminal
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "fondbot API\n")
		fmt.Fprintf(w, "===========\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-10s %-20s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Run serves HTTP requests until ctx is cancelled, then shuts down
// gracefully within 5 seconds.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("Starting HTTP API server", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	return s.Stop()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
