package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"presence/internal/attendance"
	"presence/internal/calendar"
	"presence/internal/session"
)

type codeResponse struct {
	CourseID         string    `json:"course_id"`
	Date             string    `json:"date"`
	Code             string    `json:"code"`
	ValidFor         int       `json:"valid_for"`
	ExpiresAt        time.Time `json:"expires_at"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
	Rotations        int       `json:"rotations"`
}

func toCodeResponse(s session.Snapshot) codeResponse {
	return codeResponse{
		CourseID:         s.Key.CourseID,
		Date:             s.Key.Date,
		Code:             s.Code.Value,
		ValidFor:         int(s.Code.ValidFor().Round(time.Second) / time.Second),
		ExpiresAt:        s.Code.ExpiresAt,
		SessionExpiresAt: s.SessionExpiresAt,
		Rotations:        s.Rotations,
	}
}

// todayKey authorizes the caller for the course and returns today's session key.
func (h *Handler) todayKey(c *gin.Context) (session.Key, bool) {
	courseID := c.Param("course_id")
	if _, err := attendance.AuthorizeInstructor(c.Request.Context(), h.courses, principal(c), courseID); err != nil {
		h.fail(c, err)
		return session.Key{}, false
	}
	return session.Key{CourseID: courseID, Date: h.checkins.Today()}, true
}

// activate opens today's session or rotates its code.
func (h *Handler) activate(c *gin.Context) {
	key, ok := h.todayKey(c)
	if !ok {
		return
	}
	snap, err := h.sessions.Activate(c.Request.Context(), key)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCodeResponse(snap))
}

func (h *Handler) currentCode(c *gin.Context) {
	key, ok := h.todayKey(c)
	if !ok {
		return
	}
	snap, err := h.sessions.CurrentCode(c.Request.Context(), key)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, toCodeResponse(snap))
}

// currentCodePNG renders the current code as a QR image for projection.
func (h *Handler) currentCodePNG(c *gin.Context) {
	key, ok := h.todayKey(c)
	if !ok {
		return
	}
	snap, err := h.sessions.CurrentCode(c.Request.Context(), key)
	if err != nil {
		h.fail(c, err)
		return
	}
	var q struct {
		Size int `form:"size" binding:"omitempty,min=64,max=1024"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	if q.Size == 0 {
		q.Size = 256
	}
	png, err := qrcode.Encode(snap.Code.Value, qrcode.Medium, q.Size)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// sessionKey authorizes the caller for the course and returns the session
// key of the :date path parameter.
func (h *Handler) sessionKey(c *gin.Context) (session.Key, bool) {
	courseID := c.Param("course_id")
	date, err := calendar.ParseDate(c.Param("date"))
	if err != nil {
		h.fail(c, attendance.ErrInvalidDate)
		return session.Key{}, false
	}
	if _, err := attendance.AuthorizeInstructor(c.Request.Context(), h.courses, principal(c), courseID); err != nil {
		h.fail(c, err)
		return session.Key{}, false
	}
	return session.Key{CourseID: courseID, Date: date}, true
}

type statusResponse struct {
	CourseID         string     `json:"course_id"`
	Date             string     `json:"date"`
	State            string     `json:"state"`
	RemainingSeconds int        `json:"remaining_seconds"`
	SessionExpiresAt *time.Time `json:"session_expires_at,omitempty"`
}

// sessionStatus reports the session state and how long it stays open.
func (h *Handler) sessionStatus(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	st, err := h.sessions.Status(c.Request.Context(), key)
	if err != nil {
		h.fail(c, err)
		return
	}
	res := statusResponse{
		CourseID:         key.CourseID,
		Date:             key.Date,
		State:            string(st.State),
		RemainingSeconds: int(st.Remaining / time.Second),
	}
	if !st.SessionExpiresAt.IsZero() {
		res.SessionExpiresAt = &st.SessionExpiresAt
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, res)
}

func (h *Handler) closeSession(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	if err := h.sessions.Close(c.Request.Context(), key); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
