package host

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dashgate-dev/dashgate/internal/client"
	"github.com/dashgate-dev/dashgate/internal/dashboard"
	"github.com/dashgate-dev/dashgate/internal/gate"
	"github.com/dashgate-dev/dashgate/internal/guesttoken"
	"github.com/dashgate-dev/dashgate/internal/session"
)

// LoginForm is posted by the login page
type LoginForm struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
}

type pageData struct {
	PageTitle string
	Session   session.Session
	OwnPath   string

	Username      string
	Error         string
	AdminUsername string
	Manufacturers []string

	View   dashboard.Snapshot
	SlotID string
}

type slotData struct {
	Descriptor *Descriptor
	View       dashboard.Snapshot
}

// currentSession re-reads the store so a decision never uses a stale snapshot
func (s *Server) currentSession(c *gin.Context) session.Session {
	sess, err := s.tracker.Refresh(c.Request.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to refresh session, using last known state")
	}
	return sess
}

func (s *Server) page(sess session.Session, title string) pageData {
	return pageData{
		PageTitle: title,
		Session:   sess,
		OwnPath:   gate.DefaultPath(sess),
	}
}

func (s *Server) redirect(c *gin.Context, d gate.Decision) {
	s.logger.Debug().
		Str("path", c.Request.URL.Path).
		Str("decision", d.Kind.String()).
		Str("target", d.Path).
		Msg("Access decision")
	c.Redirect(http.StatusFound, d.Path)
}

func (s *Server) renderLogin(c *gin.Context, status int, username, message string) {
	data := s.page(session.LoggedOut(), "Dashboard Login")
	data.Username = username
	data.Error = message
	data.AdminUsername = session.AdminIdentity
	data.Manufacturers = session.KnownManufacturers
	c.HTML(status, "login", data)
}

func (s *Server) showLogin(c *gin.Context) {
	sess := s.currentSession(c)
	if sess.Authenticated {
		c.Redirect(http.StatusFound, gate.Landing(sess, gate.DefaultPath))
		return
	}
	s.renderLogin(c, http.StatusOK, "", "")
}

func (s *Server) login(c *gin.Context) {
	var form LoginForm
	if err := c.ShouldBind(&form); err != nil {
		s.renderLogin(c, http.StatusBadRequest, "", "Username and password are required")
		return
	}
	form.Username = strings.TrimSpace(form.Username)
	if err := s.validator.Struct(form); err != nil {
		s.renderLogin(c, http.StatusBadRequest, form.Username, "Username and password are required")
		return
	}

	resp, err := s.backend.Login(c.Request.Context(), form.Username, form.Password)
	if err != nil {
		var authErr *client.AuthError
		message := "An error occurred during login. Is the backend running?"
		status := http.StatusBadGateway
		if errors.As(err, &authErr) {
			message = authErr.Message
			if authErr.StatusCode != 0 {
				status = authErr.StatusCode
			}
		}
		s.logger.Warn().Err(err).Str("username", form.Username).Msg("Login failed")
		s.renderLogin(c, status, form.Username, message)
		return
	}

	role, err := session.ParseRole(resp.UserType)
	if err != nil {
		s.logger.Error().Err(err).Str("username", form.Username).Msg("Backend returned an unknown user type")
		s.renderLogin(c, http.StatusBadGateway, form.Username, "Login failed: unknown user type")
		return
	}

	identity := resp.UserIdentifier
	if identity == "" && role == session.RoleAdmin {
		identity = session.AdminIdentity
	}

	sess, err := s.tracker.Login(c.Request.Context(), role, identity)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist session")
		s.renderLogin(c, http.StatusInternalServerError, form.Username, "Login failed: could not save session")
		return
	}

	s.logger.Info().Str("role", string(sess.Role)).Str("identity", sess.Identity).Msg("Login successful")
	c.Redirect(http.StatusSeeOther, gate.DefaultPath(sess))
}

func (s *Server) logout(c *gin.Context) {
	if err := s.tracker.Logout(c.Request.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear session")
		c.String(http.StatusInternalServerError, "Logout failed")
		return
	}
	s.closeView("logged_out")
	c.Redirect(http.StatusSeeOther, gate.LoginPath)
}

func (s *Server) showRLSDashboard(c *gin.Context) {
	manufacturer := strings.TrimPrefix(c.Param("manufacturer"), "/")
	sess := s.currentSession(c)

	d := gate.DecideScoped(sess, gate.Requirement{RequiredRole: session.RoleManufacturer}, manufacturer, gate.DefaultPath)
	if d.Kind != gate.Allow {
		s.redirect(c, d)
		return
	}
	s.showDashboard(c, sess, dashboard.Route{Mode: guesttoken.ModeRLS, Identity: manufacturer})
}

func (s *Server) showFullDashboard(c *gin.Context) {
	sess := s.currentSession(c)

	d := gate.Decide(sess, gate.Requirement{RequiredRole: session.RoleAdmin}, gate.DefaultPath)
	if d.Kind != gate.Allow {
		s.redirect(c, d)
		return
	}
	s.showDashboard(c, sess, dashboard.Route{Mode: guesttoken.ModeFull, Identity: sess.Identity})
}

func (s *Server) showDashboard(c *gin.Context, sess session.Session, route dashboard.Route) {
	view, slot := s.openView(route)
	snap := view.Snapshot()

	data := s.page(sess, snap.Title)
	data.View = snap
	data.SlotID = slot.ID()
	c.HTML(http.StatusOK, "dashboard", data)
}

func (s *Server) landing(c *gin.Context) {
	sess := s.currentSession(c)
	c.Redirect(http.StatusFound, gate.Landing(sess, gate.DefaultPath))
}

func (s *Server) viewState(c *gin.Context) {
	view, _ := s.activeView()
	if view == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active dashboard view"})
		return
	}
	c.JSON(http.StatusOK, view.Snapshot())
}

func (s *Server) renderSlot(c *gin.Context) {
	slot, ok := s.slots.Get(c.Param("id"))
	if !ok {
		c.String(http.StatusNotFound, "Unknown mount slot")
		return
	}

	data := slotData{}
	if view, active := s.activeView(); view != nil && active == slot {
		data.View = view.Snapshot()
	}
	if d, mounted := slot.Descriptor(); mounted {
		data.Descriptor = &d
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	err := s.boundary.Render(c.Writer, func(w io.Writer) error {
		return s.templates.ExecuteTemplate(w, "slot", data)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("slot", slot.ID()).Msg("Failed to render mount slot")
	}
}

func (s *Server) slotGuestToken(c *gin.Context) {
	slot, ok := s.slots.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Unknown mount slot"})
		return
	}
	token, ok := slot.Token()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No dashboard mounted in slot"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// resetBoundary is the full reload offered by the render failure fallback
func (s *Server) resetBoundary(c *gin.Context) {
	s.boundary.Reset()
	s.closeView("reload")
	c.Redirect(http.StatusSeeOther, gate.Landing(s.currentSession(c), gate.DefaultPath))
}

func (s *Server) embeddedSDK(c *gin.Context) {
	if err := s.sdk.Load(c.Request.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Serving placeholder for missing embedded SDK")
		c.Data(http.StatusServiceUnavailable, "application/javascript", []byte("/* Superset embedded SDK unavailable */\n"))
		return
	}
	script, digest, _ := s.sdk.Script()
	c.Header("ETag", `"`+digest+`"`)
	c.Data(http.StatusOK, "application/javascript", script)
}
