package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dgellow/authguard/internal/crypto"
	"github.com/dgellow/authguard/internal/idp"
	"github.com/dgellow/authguard/internal/log"
	"github.com/dgellow/authguard/internal/recovery"
	"github.com/dgellow/authguard/internal/session"
)

// Options are the dependencies of the HTTP handler
type Options struct {
	Name           string
	AllowedOrigins []string
	AllowedDomains []string

	Provider    idp.Provider
	Sessions    *session.Manager
	StateSigner *crypto.TokenSigner
	CSRF        *crypto.CSRFProtection

	// Recovery defaults to recovery.New()
	Recovery *recovery.Middleware
	// Metrics defaults to a fresh registry
	Metrics *Metrics
}

// Server is authguard's HTTP handler
type Server struct {
	opts    Options
	rescuer *Rescuer
	handler http.Handler
}

// NewServer wires routes and middleware
func NewServer(opts Options) *Server {
	if opts.Recovery == nil {
		opts.Recovery = recovery.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	s := &Server{opts: opts}
	s.rescuer = &Rescuer{
		Recovery: opts.Recovery,
		Reauth:   s.reauthFor,
		Fallback: RenderError,
		Metrics:  opts.Metrics,
	}

	auth := NewAuthHandlers(opts.Provider, opts.StateSigner, opts.CSRF, opts.AllowedDomains)

	app := http.NewServeMux()
	app.Handle("GET /login", renderErrors(auth.LoginHandler))
	app.Handle("GET "+callbackPath, renderErrors(auth.CallbackHandler))
	app.Handle("POST /logout", renderErrors(CSRFProtect(opts.CSRF, auth.LogoutHandler)))
	app.Handle("GET /csrf", renderErrors(auth.CSRFTokenHandler))
	app.Handle("GET /api/profile", s.rescuer.Wrap(CSRFProtect(opts.CSRF, RequireAuth(auth.ProfileHandler))))

	mux := http.NewServeMux()
	mux.Handle("GET /health", NewHealthHandler())
	mux.Handle("GET /metrics", opts.Metrics.Handler())
	mux.Handle("/", opts.Sessions.Middleware(app))

	s.handler = ChainMiddleware(mux,
		NewCORSMiddleware(opts.AllowedOrigins),
		NewLoggerMiddleware("http", opts.Metrics),
		NewRecoverMiddleware("http"),
	)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Metrics returns the server's collectors
func (s *Server) Metrics() *Metrics {
	return s.opts.Metrics
}

// reauthFor answers API clients with a 401 challenge and redirects browsers
// to the identity provider
func (s *Server) reauthFor(w http.ResponseWriter, r *http.Request) recovery.ReauthTrigger {
	if wantsAPIResponse(r) {
		return &idp.APIReauth{W: w, Realm: s.opts.Name}
	}
	return &idp.BrowserReauth{
		Provider:    s.opts.Provider,
		StateSigner: s.opts.StateSigner,
		ReturnURL:   r.URL.RequestURI(),
		W:           w,
		R:           r,
	}
}

func wantsAPIResponse(r *http.Request) bool {
	if r.Header.Get("Authorization") != "" || r.Header.Get("X-Requested-With") != "" {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

// renderErrors adapts h without authorization recovery
func renderErrors(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			RenderError(w, r, err)
		}
	})
}

// HTTPServer manages the HTTP server lifecycle
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer creates a new HTTP server with the given handler and address
func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// HealthHandler handles health check requests
type HealthHandler struct{}

// NewHealthHandler creates a new health handler
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// ServeHTTP implements http.Handler for health checks
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start serves until Stop is called
func (h *HTTPServer) Start() error {
	log.LogInfoWithFields("http", "HTTP server starting", map[string]any{
		"addr": h.server.Addr,
	})

	if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	log.LogInfoWithFields("http", "HTTP server stopping", map[string]any{
		"addr": h.server.Addr,
	})

	if err := h.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.LogInfoWithFields("http", "HTTP server stopped", map[string]any{
		"addr": h.server.Addr,
	})
	return nil
}
