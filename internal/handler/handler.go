// Package handler exposes the attendance service over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"presence/internal/attendance"
	"presence/internal/auth"
	"presence/internal/course"
	"presence/internal/session"
)

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) bool

// Deps are the services the handlers call.
type Deps struct {
	Sessions   *session.Controller
	CheckIns   *attendance.Service
	Reconciler *attendance.Reconciler
	Courses    course.Reader
	Probes     map[string]Probe
	Logger     zerolog.Logger
}

// Handler holds the HTTP handlers.
type Handler struct {
	sessions   *session.Controller
	checkins   *attendance.Service
	reconciler *attendance.Reconciler
	courses    course.Reader
	probes     map[string]Probe
	log        zerolog.Logger
}

// New creates the handlers and registers the request validators.
func New(d Deps) *Handler {
	RegisterValidators()
	return &Handler{
		sessions:   d.Sessions,
		checkins:   d.CheckIns,
		reconciler: d.Reconciler,
		courses:    d.Courses,
		probes:     d.Probes,
		log:        d.Logger,
	}
}

// Register mounts the health check and the authenticated /v1 API on r.
// authn must store an auth.Principal on the context.
func (h *Handler) Register(r gin.IRouter, authn gin.HandlerFunc, extra ...gin.HandlerFunc) {
	r.GET("/healthz", h.health)

	v1 := r.Group("/v1", append([]gin.HandlerFunc{authn}, extra...)...)

	instructors := v1.Group("", auth.RequireRole(auth.RoleProfessor, auth.RoleAdmin))
	instructors.POST("/courses/:course_id/codes", h.activate)
	instructors.GET("/courses/:course_id/codes/current", h.currentCode)
	instructors.GET("/courses/:course_id/codes/current.png", h.currentCodePNG)
	instructors.GET("/courses/:course_id/sessions/:date", h.sessionStatus)
	instructors.DELETE("/courses/:course_id/sessions/:date", h.closeSession)
	instructors.GET("/courses/:course_id/sheets/:date", h.sheet)
	instructors.PUT("/courses/:course_id/sheets/:date/students/:student_id", h.setStatus)
	instructors.POST("/courses/:course_id/sheets/:date/close", h.closeSheet)

	v1.POST("/checkins", auth.RequireRole(auth.RoleStudent), h.checkIn)
	v1.GET("/attendance", h.records)
}

func (h *Handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, probe := range h.probes {
		ok := probe(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func principal(c *gin.Context) auth.Principal {
	p, _ := auth.PrincipalFrom(c)
	return p
}
