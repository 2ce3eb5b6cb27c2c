// Package server assembles the chi router: the unauthenticated admin
// health check, the gated admin billing/config surface, /metrics, and
// the DID-authenticated LLM proxy group (spec §6 EXTERNAL INTERFACES).
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"ai-gateway/internal/accesslog"
	"ai-gateway/internal/config"
	"ai-gateway/internal/didauth"
	"ai-gateway/internal/logger"
	"ai-gateway/internal/metrics"
	"ai-gateway/internal/middleware"
	"ai-gateway/internal/pricing"
	"ai-gateway/internal/providers"
	"ai-gateway/internal/proxy"
)

// Server holds every process-wide collaborator the HTTP layer needs.
type Server struct {
	cfg       *config.Config
	providers *providers.Registry
	pricing   *pricing.Registry
	pipeline  *proxy.Pipeline
	didauth   *didauth.Middleware
	rateLimit *middleware.RateLimiter
	store     *accesslog.Store

	// adminKeyHash is a bcrypt hash of cfg.AdminAPIKey computed once at
	// startup, so the per-request admin-key check never compares the
	// raw secret with a variable-time string equality.
	adminKeyHash []byte
}

// New wires the full dependency graph and returns a ready-to-mount
// chi.Router. db may be nil, in which case the admin billing endpoints
// report an empty result set rather than failing.
func New(cfg *config.Config, providerRegistry *providers.Registry, pricingRegistry *pricing.Registry, verifier didauth.Verifier, db *gorm.DB) http.Handler {
	var store *accesslog.Store
	if db != nil {
		store = accesslog.NewStore(db)
	}

	var adminKeyHash []byte
	if cfg.AdminAPIKey != "" {
		adminKeyHash, _ = bcrypt.GenerateFromPassword([]byte(cfg.AdminAPIKey), bcrypt.DefaultCost)
	}

	s := &Server{
		cfg:          cfg,
		providers:    providerRegistry,
		pricing:      pricingRegistry,
		pipeline:     proxy.New(providerRegistry, pricingRegistry, logger.Logger),
		didauth:      didauth.NewMiddleware(verifier),
		rateLimit:    middleware.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.PerHour, cfg.RateLimit.PerDay),
		store:        store,
		adminKeyHash: adminKeyHash,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxRequestSize(10 << 20))
	r.Use(middleware.RequestLogger)

	r.Get("/api/v1/admin/health", s.handleHealth)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Group(func(admin chi.Router) {
		admin.Use(s.requireAdminKey)
		admin.Get("/api/v1/admin/billing/summary", s.handleBillingSummary)
		admin.Get("/api/v1/admin/billing/recent", s.handleBillingRecent)
		admin.Post("/api/v1/admin/billing/cleanup", s.handleBillingCleanup)
		admin.Get("/api/v1/admin/config", s.handleAdminConfig)
	})

	r.Group(func(proxyGroup chi.Router) {
		proxyGroup.Use(s.didauth.Handler)
		if cfg.RateLimit.Enabled {
			proxyGroup.Use(s.rateLimit.Middleware)
		}
		proxyGroup.HandleFunc("/api/v1/*", s.handleProxy)
	})

	return r
}

// handleProxy is the single entry point for every non-admin /api/v1/*
// call: it builds the RequestContext, resolves the provider via
// header/path hints, hands off to the pipeline, and finalizes the
// access log exactly once regardless of outcome (spec §4.6/§4.7).
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	clientTxRef := r.Header.Get("X-Client-Tx-Ref")
	requestID := clientTxRef
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)

	rc := accesslog.New(requestID, clientTxRef, r)
	rc.ServerTxRef = uuid.NewString()
	defer func() {
		rc.Finalize(logger.Access)
		if s.store != nil {
			s.store.Record(rc)
		}
	}()

	info, authed := didauth.FromContext(r.Context())
	if !authed {
		rc.StatusCode = http.StatusUnauthorized
		rc.ErrorMsg = "missing or invalid DID authentication"
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	rc.DIDInfo = &info

	body, err := readBody(r)
	if err != nil {
		rc.StatusCode = http.StatusInternalServerError
		rc.ErrorMsg = err.Error()
		http.Error(w, `{"error":"failed reading request body"}`, http.StatusInternalServerError)
		return
	}
	rc.RequestBodySize = int64(len(body))

	model, _ := extractModel(body)
	headerProvider := r.Header.Get("X-LLM-Provider")
	pathProvider := pathProviderHint(r.URL.Path)
	upstreamPath := stripProviderPrefix(r.URL.Path, pathProvider)
	isStream, _ := extractStream(body)

	s.pipeline.Execute(r.Context(), w, upstreamPath, r.Method, body, isStream, rc, model, headerProvider, pathProvider)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"status":            "ok",
		"timestamp":         time.Now().Unix(),
		"paymentKitEnabled": false,
	})
}

func (s *Server) requireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		supplied := r.Header.Get("X-Admin-Key")
		if len(s.adminKeyHash) == 0 || supplied == "" || bcrypt.CompareHashAndPassword(s.adminKeyHash, []byte(supplied)) != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleBillingSummary(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	days := 1
	rows, err := s.store.BillingSummary(time.Now().AddDate(0, 0, -days))
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleBillingRecent(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	rows, err := s.store.RecentRecords(r.URL.Query().Get("did"), 100)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleBillingCleanup(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"deleted": 0})
		return
	}
	n, err := s.store.Cleanup(time.Now().AddDate(0, 0, -30))
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) handleAdminConfig(w http.ResponseWriter, r *http.Request) {
	health := make(map[string]string)
	for _, name := range s.providers.List() {
		_, driver, ok := s.providers.Get(name)
		if !ok {
			continue
		}
		if err := driver.TestConnection(); err != nil {
			health[name] = "unreachable: " + err.Error()
		} else {
			health[name] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"llm_backend":     s.cfg.LLMBackend,
		"providers":       s.providers.List(),
		"provider_health": health,
		"pricing_version": s.pricing.Version(),
		"rate_limiting":   s.cfg.RateLimit.Enabled,
	})
}

func pathProviderHint(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/api/v1/"), "/", 2)
	if len(parts) == 0 {
		return ""
	}
	switch parts[0] {
	case "openai", "claude", "google", "openrouter", "litellm":
		return parts[0]
	}
	return ""
}

func stripProviderPrefix(path, providerHint string) string {
	if providerHint == "" {
		return strings.TrimPrefix(path, "/api/v1")
	}
	return strings.TrimPrefix(path, "/api/v1/"+providerHint)
}
