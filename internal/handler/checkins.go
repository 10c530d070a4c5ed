package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"presence/internal/attendance"
)

type checkInRequest struct {
	CourseID string   `json:"course_id" binding:"required"`
	Code     string   `json:"code" binding:"required,max=32"`
	Lat      *float64 `json:"lat" binding:"required,latitude"`
	Lon      *float64 `json:"lon" binding:"required,longitude"`
}

func (h *Handler) checkIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	p := principal(c)
	rec, err := h.checkins.CheckIn(c.Request.Context(), p.UserID, attendance.CheckInRequest{
		CourseID: req.CourseID,
		Code:     req.Code,
		Lat:      *req.Lat,
		Lon:      *req.Lon,
	})
	if errors.Is(err, attendance.ErrStudentNotEnrolled) {
		h.failWithStatus(c, http.StatusForbidden, err)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "attendance recorded",
		"record":  rec,
	})
}
