package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/attendance-station/internal/backend"
	"github.com/example/attendance-station/internal/capture"
	"github.com/example/attendance-station/internal/workflow"
)

// statusFor maps a workflow error to the bridge response status.
func statusFor(err error) int {
	var (
		validation *workflow.ValidationError
		server     *backend.ServerError
		transport  *backend.TransportError
		captureErr *capture.CaptureError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrNotConfirmed):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrUnknownClassroom):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrPermissionDenied), errors.Is(err, capture.ErrPermissionUndetermined):
		return http.StatusForbidden
	case errors.Is(err, workflow.ErrConcurrentSubmission),
		errors.Is(err, capture.ErrCameraInactive),
		errors.Is(err, capture.ErrSetFull):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrClosed), errors.Is(err, workflow.ErrDiscarded):
		return http.StatusGone
	case errors.As(err, &server):
		if server.IsNotFound() {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case errors.As(err, &transport):
		return http.StatusBadGateway
	case errors.As(err, &captureErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error) string {
	switch {
	case errors.Is(err, workflow.ErrNotConfirmed):
		return "confirmation required: repeat with confirm=true"
	case errors.Is(err, capture.ErrPermissionDenied):
		return "Camera permission denied"
	case errors.Is(err, capture.ErrPermissionUndetermined):
		return "Camera permission has not been requested"
	case errors.Is(err, workflow.ErrUnknownClassroom):
		return "classroom not found"
	}
	return backend.Message(err)
}

func (b *bridge) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		b.logger.Warn("bridge request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": messageFor(err)})
}
