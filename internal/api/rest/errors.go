package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "github.com/feral-file/ff-layer-indexer/internal/api/shared/errors"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
)

// respondBadRequest responds with a bad request error
func respondBadRequest(c *gin.Context, message string, details ...string) {
	c.JSON(http.StatusBadRequest, apierrors.NewBadRequestError(message, details...))
}

// respondNotFound responds with a not found error
func respondNotFound(c *gin.Context, message string, details ...string) {
	c.JSON(http.StatusNotFound, apierrors.NewNotFoundError(message, details...))
}

// respondValidationError responds with a validation error
func respondValidationError(c *gin.Context, message string) {
	c.JSON(http.StatusUnprocessableEntity, apierrors.NewValidationError(message))
}

// respondError responds with the executor's error, logging anything that is not a client error
func respondError(c *gin.Context, err error, message string) {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode() >= http.StatusInternalServerError {
			logger.ErrorCtx(c.Request.Context(), err, zap.String("message", message))
		}
		c.JSON(apiErr.StatusCode(), apiErr)
		return
	}

	logger.ErrorCtx(c.Request.Context(), err, zap.String("message", message))
	c.JSON(http.StatusInternalServerError, apierrors.NewInternalError(message))
}
