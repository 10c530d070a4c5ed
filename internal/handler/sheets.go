package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"presence/internal/attendance"
)

func (h *Handler) sheet(c *gin.Context) {
	courseID, date := c.Param("course_id"), c.Param("date")
	entries, err := h.reconciler.ListSheet(c.Request.Context(), principal(c), courseID, date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"course_id": courseID,
		"date":      date,
		"entries":   entries,
	})
}

type setStatusRequest struct {
	Status string `json:"status" binding:"required,settable_status"`
}

func (h *Handler) setStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if details := validationDetails(err); details["Status"] == "settable_status" {
			h.fail(c, fmt.Errorf("%w: %q", attendance.ErrInvalidStatus, req.Status))
			return
		}
		badRequest(c, err)
		return
	}

	rec, err := h.reconciler.SetStatus(c.Request.Context(), principal(c),
		c.Param("course_id"), c.Param("date"), c.Param("student_id"), attendance.Status(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) closeSheet(c *gin.Context) {
	changed, err := h.reconciler.BatchMarkAbsent(c.Request.Context(), principal(c), c.Param("course_id"), c.Param("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       fmt.Sprintf("marked %d students absent", changed),
		"changed_count": changed,
	})
}

type recordsQuery struct {
	CourseID string `form:"course_id"`
	Date     string `form:"date"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset   int    `form:"offset" binding:"omitempty,min=0"`
}

func (h *Handler) records(c *gin.Context) {
	var q recordsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	records, err := h.reconciler.ListRecords(c.Request.Context(), principal(c), attendance.RecordFilter{
		CourseID: q.CourseID,
		Date:     q.Date,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
