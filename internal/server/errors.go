package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kakigoori/internal/models"
)

// statusFor maps the error taxonomy to an HTTP status and a public message.
// Internal detail stays in the logs.
func statusFor(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "Upload too large"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, models.ErrVariantNotAvailable):
		return http.StatusNotFound, "Image version not available"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "Image not found"
	case errors.Is(err, models.ErrBadRequest):
		return http.StatusBadRequest, "Bad request"
	case errors.Is(err, models.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, "Uploaded file should be JPEG or PNG"
	case errors.Is(err, models.ErrTransientStorage):
		return http.StatusServiceUnavailable, "Storage temporarily unavailable"
	case errors.Is(err, models.ErrDataIntegrity):
		return http.StatusInternalServerError, "Image data is inconsistent"
	}
	return http.StatusInternalServerError, "Internal server error"
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	switch {
	case status >= 500:
		s.log.Error("request failed", "path", c.Request.URL.Path, "status", status, "error", err)
	case status != http.StatusNotFound && status != http.StatusForbidden:
		s.log.Info("request rejected", "path", c.Request.URL.Path, "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}
