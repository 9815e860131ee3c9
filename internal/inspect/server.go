// Package inspect serves a read-only HTTP view of a running host session:
// registered pages and extensions, shared data, the last load report and
// a live WebSocket stream of session events.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/HerbHall/pilethost/internal/config"
	"github.com/HerbHall/pilethost/internal/datastore"
	"github.com/HerbHall/pilethost/internal/event"
	"github.com/HerbHall/pilethost/internal/loader"
	"github.com/HerbHall/pilethost/internal/registry"
	"github.com/HerbHall/pilethost/internal/slot"
	"github.com/HerbHall/pilethost/internal/version"
	"github.com/HerbHall/pilethost/pkg/pilet"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Registry is the view of the extension registry the inspector reads.
type Registry interface {
	slot.Source
	Pages() []registry.Page
	Slots() []string
	Counts() (pages, extensions int)
}

// DataSource is the view of the data store the inspector reads.
type DataSource interface {
	Snapshot() []datastore.Entry
	Lookup(key string) (datastore.Entry, bool)
}

// EventSource lets the inspector observe every session event.
type EventSource interface {
	SubscribeAll(listener event.Listener) (unsubscribe func())
}

// Sources bundles what the inspector exposes. Report may be nil.
type Sources struct {
	Registry Registry
	Data     DataSource
	Events   EventSource
	Report   func() *loader.Report
}

// Config holds the inspector settings. An empty TokenSecret leaves the API
// open.
type Config struct {
	Addr        string        `mapstructure:"addr"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst"`
	TokenSecret string        `mapstructure:"token_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	Swagger     bool          `mapstructure:"swagger"`
}

// LoadConfig reads the inspect.* settings.
func LoadConfig(r config.Reader) Config {
	return Config{
		Addr:        r.GetString("inspect.addr"),
		RateLimit:   r.GetFloat64("inspect.rate_limit"),
		RateBurst:   r.GetInt("inspect.rate_burst"),
		TokenSecret: r.GetString("inspect.token_secret"),
		TokenTTL:    r.GetDuration("inspect.token_ttl"),
		Swagger:     r.GetBool("inspect.swagger"),
	}
}

// Server is the inspector HTTP server.
type Server struct {
	httpServer  *http.Server
	mux         *http.ServeMux
	src         Sources
	hub         *Hub
	unsubscribe func()
	logger      *zap.Logger
}

// New creates the server and subscribes its event hub to src.Events.
func New(cfg Config, src Sources, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mux:    http.NewServeMux(),
		src:    src,
		hub:    NewHub(logger.Named("ws")),
		logger: logger,
	}
	if src.Events != nil {
		s.unsubscribe = s.hub.Listen(src.Events)
	}
	s.registerRoutes()
	if cfg.Swagger {
		s.mux.Handle("GET /swagger/", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
		logger.Info("swagger UI enabled", zap.String("path", "/swagger/"))
	}

	var tokens *TokenService
	if cfg.TokenSecret != "" {
		tokens, _ = NewTokenService(cfg.TokenSecret, cfg.TokenTTL)
	}

	skip := []string{"/healthz", "/metrics"}
	handler := Chain(routed(s.mux),
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger, skip),
		HeadersMiddleware,
		RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst, skip),
		AuthMiddleware(tokens),
	)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /api/v1/pages", s.handlePages)
	s.mux.HandleFunc("GET /api/v1/extensions", s.handleSlots)
	s.mux.HandleFunc("GET /api/v1/extensions/{slot}", s.handleExtensions)
	s.mux.HandleFunc("GET /api/v1/extensions/{slot}/render", s.handleRender)
	s.mux.HandleFunc("GET /api/v1/data", s.handleData)
	s.mux.HandleFunc("GET /api/v1/data/{key}", s.handleDataKey)
	s.mux.HandleFunc("GET /api/v1/pilets", s.handlePilets)
	s.mux.Handle("GET /api/v1/ws/events", s.hub)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting inspector", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("inspector server error: %w", err)
	}
	return nil
}

// Shutdown stops the event subscription and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down inspector")
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return s.httpServer.Shutdown(ctx)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    map[string]string `json:"version"`
	Pages      int               `json:"pages"`
	Extensions int               `json:"extensions"`
	Clients    int               `json:"ws_clients"`
}

// handleHealthz reports liveness and registry counts.
//
//	@Summary		Health check
//	@Description	Returns liveness, version information and registry counts.
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/healthz [get]
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	pages, exts := s.src.Registry.Counts()
	writeJSON(w, HealthResponse{
		Status:     "alive",
		Version:    version.Map(),
		Pages:      pages,
		Extensions: exts,
		Clients:    s.hub.ClientCount(),
	})
}

// PageResponse describes a registered page.
type PageResponse struct {
	Route     string `json:"route"`
	Component string `json:"component"`
	Owner     string `json:"owner"`
}

// handlePages lists registered pages sorted by route.
//
//	@Summary		List pages
//	@Tags			registry
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{array}		PageResponse
//	@Failure		401	{object}	Problem
//	@Router			/api/v1/pages [get]
func (s *Server) handlePages(w http.ResponseWriter, _ *http.Request) {
	pages := s.src.Registry.Pages()
	out := make([]PageResponse, 0, len(pages))
	for _, p := range pages {
		out = append(out, PageResponse{
			Route:     p.Route,
			Component: pilet.DisplayName(p.Component),
			Owner:     p.Reference.Name,
		})
	}
	writeJSON(w, out)
}

// SlotResponse summarises one extension slot.
type SlotResponse struct {
	Name       string `json:"name"`
	Extensions int    `json:"extensions"`
}

//	@Summary		List extension slots
//	@Tags			registry
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{array}	SlotResponse
//	@Router			/api/v1/extensions [get]
func (s *Server) handleSlots(w http.ResponseWriter, _ *http.Request) {
	slots := s.src.Registry.Slots()
	out := make([]SlotResponse, 0, len(slots))
	for _, name := range slots {
		out = append(out, SlotResponse{Name: name, Extensions: len(s.src.Registry.GetExtensions(name))})
	}
	writeJSON(w, out)
}

// ExtensionResponse describes one contribution to a slot.
type ExtensionResponse struct {
	ID        string       `json:"id"`
	Component string       `json:"component"`
	Owner     string       `json:"owner"`
	Defaults  pilet.Params `json:"defaults,omitempty"`
}

// handleExtensions lists the contributions of a slot in render order. An
// unknown slot is an empty list, not a 404.
//
//	@Summary		List slot contributions
//	@Tags			registry
//	@Produce		json
//	@Security		BearerAuth
//	@Param			slot	path	string	true	"Slot name"
//	@Success		200		{array}	ExtensionResponse
//	@Router			/api/v1/extensions/{slot} [get]
func (s *Server) handleExtensions(w http.ResponseWriter, r *http.Request) {
	exts := s.src.Registry.GetExtensions(r.PathValue("slot"))
	out := make([]ExtensionResponse, 0, len(exts))
	for _, e := range exts {
		out = append(out, ExtensionResponse{
			ID:        e.ID,
			Component: pilet.DisplayName(e.Component),
			Owner:     e.Reference.Name,
			Defaults:  e.Defaults,
		})
	}
	writeJSON(w, out)
}

// handleRender renders a slot as HTML. Query parameters become render
// params.
//
//	@Summary		Render a slot
//	@Tags			registry
//	@Produce		html
//	@Security		BearerAuth
//	@Param			slot	path		string	true	"Slot name"
//	@Success		200		{string}	string	"Rendered slot"
//	@Failure		502		{object}	Problem
//	@Router			/api/v1/extensions/{slot}/render [get]
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("slot")
	params := pilet.Params{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[len(v)-1]
		}
	}

	out, err := slot.RenderString(s.src.Registry, name, pilet.WithParams(params))
	if err != nil {
		s.logger.Warn("slot render failed", zap.String("slot", name), zap.Error(err))
		RenderFailed(w, err.Error(), r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(out))
}

// handleData lists live data entries, optionally filtered by key prefix.
//
//	@Summary		List shared data
//	@Tags			data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			prefix	query	string	false	"Key prefix filter"
//	@Success		200		{array}	datastore.Entry
//	@Router			/api/v1/data [get]
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	entries := s.src.Data.Snapshot()
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if strings.HasPrefix(e.Key, prefix) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	writeJSON(w, entries)
}

//	@Summary		Get a shared data entry
//	@Tags			data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			key	path		string	true	"Data key"
//	@Success		200	{object}	datastore.Entry
//	@Failure		404	{object}	Problem
//	@Router			/api/v1/data/{key} [get]
func (s *Server) handleDataKey(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	e, ok := s.src.Data.Lookup(key)
	if !ok {
		NotFound(w, fmt.Sprintf("no data under key %q", key), r.URL.Path)
		return
	}
	writeJSON(w, e)
}

// AttemptResponse is one entry of GET /api/v1/pilets.
type AttemptResponse struct {
	loader.Candidate
	Outcome loader.Outcome `json:"outcome"`
	Error   string         `json:"error,omitempty"`
}

// handlePilets returns the attempts of the last load.
//
//	@Summary		Last load report
//	@Tags			loader
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{array}	AttemptResponse
//	@Router			/api/v1/pilets [get]
func (s *Server) handlePilets(w http.ResponseWriter, _ *http.Request) {
	var report *loader.Report
	if s.src.Report != nil {
		report = s.src.Report()
	}
	out := []AttemptResponse{}
	if report != nil {
		for _, a := range report.Attempts {
			ar := AttemptResponse{Candidate: a.Candidate, Outcome: a.Outcome}
			if a.Err != nil {
				ar.Error = a.Err.Error()
			}
			out = append(out, ar)
		}
	}
	writeJSON(w, out)
}
