package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/markcam/internal/api/models"
	"github.com/smazurov/markcam/internal/artifacts"
	"github.com/smazurov/markcam/internal/events"
	"github.com/smazurov/markcam/internal/logging"
	"github.com/smazurov/markcam/internal/media"
	"github.com/smazurov/markcam/internal/streaming"
	"github.com/smazurov/markcam/internal/version"
	"github.com/smazurov/markcam/ui"
)

const authRealm = `Basic realm="markcam"`

// MediaSession is the part of media.Session the API drives.
type MediaSession interface {
	Info() media.SessionInfo
	Capture() (*media.Artifact, error)
	StartRecording() error
	StopRecording(ctx context.Context) (*media.Artifact, error)
	Recording() media.RecordingStatus
	SetWatermarkVisible(on bool) error
	ToggleWatermark() (bool, error)
	SetMirror(on bool) error
	UpdateWatermarks(ctx context.Context, wms []media.Watermark) error
}

// Server represents the markcam HTTP API server
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	session    MediaSession
	store      *artifacts.Store
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger
}

// basicAuthMiddleware creates middleware for HTTP basic authentication
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		// Skip auth for operations without security requirements
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		var credentials string
		if authHeader := ctx.Header("Authorization"); authHeader != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(authHeader, prefix) {
				s.unauthorized(ctx, "Invalid authentication type")
				return
			}
			decoded, err := base64.StdEncoding.DecodeString(authHeader[len(prefix):])
			if err != nil {
				s.unauthorized(ctx, "Invalid credentials format", err)
				return
			}
			credentials = string(decoded)
		} else if queryAuth := ctx.Query("auth"); queryAuth != "" {
			// EventSource cannot set headers, so SSE clients pass credentials in the query
			decoded, err := base64.StdEncoding.DecodeString(queryAuth)
			if err != nil {
				s.unauthorized(ctx, "Invalid credentials format", err)
				return
			}
			credentials = string(decoded)
		}

		if credentials == "" {
			s.unauthorized(ctx, "Authentication required")
			return
		}

		user, pass, ok := strings.Cut(credentials, ":")
		if !ok {
			s.unauthorized(ctx, "Invalid credentials format")
			return
		}
		if user != username || pass != password {
			s.unauthorized(ctx, "Invalid credentials")
			return
		}

		next(ctx)
	}
}

func (s *Server) unauthorized(ctx huma.Context, msg string, errs ...error) {
	ctx.SetHeader("WWW-Authenticate", authRealm)
	_ = huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
}

// Options configures the API server.
type Options struct {
	AuthUsername      string
	AuthPassword      string
	Session           MediaSession
	Store             *artifacts.Store
	EventBus          *events.Bus
	WebRTC            *streaming.WebRTCManager // optional WebRTC preview
	MJPEG             http.Handler             // optional MJPEG preview
	PrometheusHandler http.Handler             // optional Prometheus metrics handler
	StopTimeout       time.Duration            // bound on finalizing a recording
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("markcam API", version.Get().Version)
	config.Info.Description = "Camera watermark compositor: live preview, stills and recordings"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	eventBus := opts.EventBus
	if eventBus == nil {
		eventBus = events.New()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}

	server := &Server{
		api:      api,
		mux:      mux,
		session:  opts.Session,
		store:    opts.Store,
		eventBus: eventBus,
		options:  opts,
		logger:   logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	// Plain handlers bypass huma middleware, so they carry their own auth check
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}
	if opts.MJPEG != nil {
		mux.Handle("GET /preview.mjpeg", server.requireAuth(opts.MJPEG))
	}

	server.registerRoutes()

	// Serve the preview page at root, but only for non-API paths
	if pageHandler, err := ui.Handler(); err == nil {
		mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api") {
				http.NotFound(w, r)
				return
			}
			pageHandler.ServeHTTP(w, r)
		})
	}
	return server
}

// requireAuth applies basic auth, with the same query fallback, to a plain handler.
func (s *Server) requireAuth(h http.Handler) http.Handler {
	username, password := s.options.AuthUsername, s.options.AuthPassword
	if username == "" || password == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			if decoded, err := base64.StdEncoding.DecodeString(r.URL.Query().Get("auth")); err == nil {
				user, pass, ok = strings.Cut(string(decoded), ":")
			}
		}
		if !ok || user != username || pass != password {
			w.Header().Set("WWW-Authenticate", authRealm)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start starts the HTTP server on the specified address
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting markcam API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down without waiting for streaming clients.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		return &models.VersionResponse{Body: version.Get()}, nil
	})

	s.registerSessionRoutes()
	s.registerArtifactRoutes()
	s.registerSSERoutes()
	s.registerMetricsRoutes()
	s.registerLogRoutes()

	if s.options.WebRTC != nil {
		streaming.RegisterWebRTCAPI(s.api, s.options.WebRTC, withAuth())
	}
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
