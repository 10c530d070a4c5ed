package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"presence/internal/attendance"
	"presence/internal/session"
)

type apiError struct {
	status int
	code   string
}

var errorTable = []struct {
	err error
	apiError
}{
	{session.ErrNoActiveSession, apiError{http.StatusNotFound, "NoActiveSession"}},
	{session.ErrSessionExpired, apiError{http.StatusGone, "SessionExpired"}},
	{attendance.ErrNoSuchCourse, apiError{http.StatusNotFound, "NoSuchCourse"}},
	{attendance.ErrNotInstructorOfCourse, apiError{http.StatusForbidden, "NotInstructorOfCourse"}},
	{attendance.ErrCodeInvalidOrExpired, apiError{http.StatusBadRequest, "CodeInvalidOrExpired"}},
	{attendance.ErrLocationOutOfRange, apiError{http.StatusBadRequest, "LocationOutOfRange"}},
	{attendance.ErrCourseLocationUnset, apiError{http.StatusUnprocessableEntity, "CourseLocationUnset"}},
	{attendance.ErrAlreadyCheckedIn, apiError{http.StatusConflict, "AlreadyCheckedIn"}},
	{attendance.ErrStudentNotEnrolled, apiError{http.StatusNotFound, "StudentNotEnrolled"}},
	{attendance.ErrInvalidStatus, apiError{http.StatusBadRequest, "InvalidStatus"}},
	{attendance.ErrInvalidCoordinates, apiError{http.StatusBadRequest, "InvalidCoordinates"}},
	{attendance.ErrInvalidDate, apiError{http.StatusBadRequest, "InvalidDate"}},
}

func classify(err error) (apiError, bool) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.apiError, true
		}
	}
	return apiError{}, false
}

// fail writes err as the JSON error body. Unknown errors become 500 and
// are logged; their text never reaches the client.
func (h *Handler) fail(c *gin.Context, err error) {
	ae, ok := classify(err)
	if !ok {
		_ = c.Error(err)
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "internal error"})
		return
	}
	c.AbortWithStatusJSON(ae.status, gin.H{"error": ae.code, "message": err.Error()})
}

func (h *Handler) failWithStatus(c *gin.Context, status int, err error) {
	ae, _ := classify(err)
	c.AbortWithStatusJSON(status, gin.H{"error": ae.code, "message": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	body := gin.H{"error": "InvalidRequest", "message": err.Error()}
	if details := validationDetails(err); details != nil {
		body["message"] = "validation failed"
		body["fields"] = details
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}
