package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainerrors "chain-relay.backend/internal/domain/errors"
)

// Success sends a success response
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// Error maps a domain error to its HTTP shape
func Error(c *gin.Context, err error) {
	var appErr *domainerrors.AppError
	if !errors.As(err, &appErr) {
		appErr = fromSentinel(err)
	}

	c.JSON(appErr.Code, gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
		"error":   appErr.Message,
	})
}

func fromSentinel(err error) *domainerrors.AppError {
	switch {
	case errors.Is(err, domainerrors.ErrNotFound):
		return domainerrors.NotFound("resource not found")
	case errors.Is(err, domainerrors.ErrInvalidInput),
		errors.Is(err, domainerrors.ErrUnsupportedChain),
		errors.Is(err, domainerrors.ErrBackfillRangeTooBig):
		return domainerrors.BadRequest(err.Error())
	case errors.Is(err, domainerrors.ErrCancelConflict),
		errors.Is(err, domainerrors.ErrAlreadyExists),
		errors.Is(err, domainerrors.ErrInvalidTransition):
		return domainerrors.Conflict(err.Error())
	default:
		return domainerrors.InternalError(err)
	}
}

// ErrorWithError sends an error response with a specific status and message
func ErrorWithError(c *gin.Context, status int, code string, message string) {
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}

// NotFound is a shorthand for a 404 body
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"error": message})
}
