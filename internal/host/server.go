// Package host serves the dashboard client to the user's browser.
//
// The browser only renders: session state, access decisions, guest token fetches
// and the embed lifecycle all run in this process. The dashboard page polls
// /view/state and renders its mount slot from /slots/:id.
package host

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/dashgate-dev/dashgate/internal/boundary"
	"github.com/dashgate-dev/dashgate/internal/client"
	"github.com/dashgate-dev/dashgate/internal/config"
	"github.com/dashgate-dev/dashgate/internal/dashboard"
	dgembed "github.com/dashgate-dev/dashgate/internal/embed"
	"github.com/dashgate-dev/dashgate/internal/guesttoken"
	"github.com/dashgate-dev/dashgate/internal/session"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

const boundaryResetPath = "/boundary/reset"

// Server represents the HTTP server
type Server struct {
	router    *gin.Engine
	config    *config.Config
	logger    zerolog.Logger
	validator *validator.Validate
	tracker   *session.Tracker
	backend   *client.Client
	fetcher   *guesttoken.Fetcher
	sdk       *SDKLoader
	widget    dgembed.Widget
	slots     *Slots
	boundary  *boundary.Boundary
	templates *template.Template
	version   string

	mu   sync.Mutex
	view *dashboard.View
	slot *Slot
}

// New creates a new server instance. The tracker must already be started.
func New(cfg *config.Config, tracker *session.Tracker, zlog zerolog.Logger, version string) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	backend := client.New(cfg.API.BaseURL, cfg.API.Timeout)
	sdk := NewSDKLoader(cfg.Superset.SDKURL, zlog)

	server := &Server{
		config:    cfg,
		logger:    zlog,
		validator: validator.New(),
		tracker:   tracker,
		backend:   backend,
		fetcher:   guesttoken.NewFetcher(backend, cfg.Superset.FullUserFallback, zlog),
		sdk:       sdk,
		widget:    NewSlotWidget(sdk, zlog),
		slots:     NewSlots(),
		boundary:  boundary.New(boundaryResetPath, zlog),
		templates: tmpl,
		version:   version,
	}

	tracker.OnChange(server.sessionChanged)

	server.setupRouter(tmpl)

	return server, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter(tmpl *template.Template) {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.SetHTMLTemplate(tmpl)

	// Add middleware
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{s.config.Server.PublicURL, s.config.Superset.URL},
		AllowMethods:     []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	static, _ := fs.Sub(staticFS, "static")
	s.router.StaticFS("/static", http.FS(static))

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/assets/embedded-sdk.js", s.embeddedSDK)

	s.router.GET("/login", s.showLogin)
	s.router.POST("/login", s.login)
	s.router.POST("/logout", s.logout)

	// Catch-all so an identity holding an escaped "/" stays one value
	s.router.GET("/dashboard/rls/*manufacturer", s.showRLSDashboard)
	s.router.GET("/dashboard/full", s.showFullDashboard)
	s.router.GET("/", s.landing)
	s.router.NoRoute(s.landing)

	s.router.GET("/view/state", s.viewState)
	s.router.GET("/slots/:id", s.renderSlot)
	s.router.GET("/slots/:id/guest-token", s.slotGuestToken)
	s.router.POST(boundaryResetPath, s.resetBoundary)
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "online",
		"timestamp":  time.Now().UTC(),
		"service":    "dashgate",
		"version":    s.version,
		"sdk_loaded": s.sdk.Loaded(),
	})
}

func (s *Server) newView() *dashboard.View {
	ctrl := dgembed.NewController(s.widget, dgembed.Options{
		DashboardID:    s.config.Superset.DashboardID,
		SupersetDomain: s.config.Superset.URL,
		UI:             dgembed.UIConfig{HideTitle: s.config.Superset.HideTitle},
		Delay:          s.config.Superset.EmbedDelay,
	}, s.logger)
	return dashboard.NewView(s.fetcher, ctrl, s.logger)
}

// openView navigates the active view to route with a fresh mount slot
func (s *Server) openView(route dashboard.Route) (*dashboard.View, *Slot) {
	s.mu.Lock()
	if s.view == nil {
		s.view = s.newView()
	}
	view := s.view
	prev := s.slot
	slot := s.slots.New()
	s.slot = slot
	s.mu.Unlock()

	view.Navigate(route)
	view.AttachMountPoint(slot)
	if prev != nil {
		s.slots.Remove(prev.ID())
	}
	return view, slot
}

// activeView returns the current view, if one is open
func (s *Server) activeView() (*dashboard.View, *Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view, s.slot
}

// closeView tears down the active view and forgets its slot
func (s *Server) closeView(reason string) {
	s.mu.Lock()
	view, slot := s.view, s.slot
	s.view, s.slot = nil, nil
	s.mu.Unlock()

	if view == nil {
		return
	}
	s.logger.Info().Str("reason", reason).Msg("Closing dashboard view")
	view.Close()
	if slot != nil {
		s.slots.Remove(slot.ID())
	}
}

// sessionChanged closes the view when the user it was opened for is gone
func (s *Server) sessionChanged(prev, next session.Session) {
	switch {
	case prev.Authenticated && !next.Authenticated:
		s.closeView("logged_out")
	case prev.Authenticated && (prev.Role != next.Role || prev.Identity != next.Identity):
		s.closeView("session_changed")
	}
}

// Start starts the HTTP server and blocks until ctx is done or a shutdown signal arrives
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              s.config.Server.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       300 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.config.Server.Address).Str("url", s.config.Server.PublicURL).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Preload the SDK so the first embed does not wait on it
	go func() {
		if err := s.sdk.Load(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Superset embedded SDK not loaded, will retry on next embed")
		}
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error().Err(err).Msg("HTTP server error")
			s.closeView("server_error")
			return err
		}
	case <-ctx.Done():
		s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")
	}

	s.closeView("shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	s.logger.Info().Msg("Server shutdown complete")
	return nil
}
