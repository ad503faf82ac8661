package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feral-file/ff-layer-indexer/internal/api/shared/dto"
	"github.com/feral-file/ff-layer-indexer/internal/api/shared/executor"
	"github.com/feral-file/ff-layer-indexer/internal/domain"
)

// Handler defines the interface for REST API handlers
// This interface allows for easy mocking and testing
//
//go:generate mockgen -source=handler.go -destination=../../mocks/api_handler.go -package=mocks -mock_names=Handler=MockAPIHandler
type Handler interface {
	// GetEntity retrieves a single entity record
	// GET /api/v1/entities/:kind/:id
	GetEntity(c *gin.Context)

	// GetLinks retrieves an entity's relationship list in append order
	// GET /api/v1/entities/:kind/:id/links/:relation?limit=<limit>&offset=<offset>
	GetLinks(c *gin.Context)

	// GetRun retrieves the projection run state and cursor
	// GET /api/v1/run
	GetRun(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	executor executor.Executor
}

// NewHandler creates a new REST API handler using the shared executor
func NewHandler(exec executor.Executor) Handler {
	return &handler{
		executor: exec,
	}
}

// GetEntity retrieves a single entity by kind and id
func (h *handler) GetEntity(c *gin.Context) {
	kind, id, ok := entityParams(c)
	if !ok {
		return
	}

	entity, err := h.executor.GetEntity(c.Request.Context(), kind, id)
	if err != nil {
		respondError(c, err, "Failed to get entity")
		return
	}

	if entity == nil {
		respondNotFound(c, "Entity not found")
		return
	}

	c.JSON(http.StatusOK, entity)
}

// GetLinks retrieves a page of a relationship list
func (h *handler) GetLinks(c *gin.Context) {
	kind, id, ok := entityParams(c)
	if !ok {
		return
	}

	relation := domain.Relation(c.Param("relation"))
	if !domain.IsValidRelation(kind, relation) {
		respondBadRequest(c, "Invalid relation", string(relation))
		return
	}

	queryParams, err := ParseGetLinksQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}
	if err := queryParams.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	links, err := h.executor.GetLinks(c.Request.Context(), kind, id, relation, queryParams.Limit, queryParams.Offset)
	if err != nil {
		respondError(c, err, "Failed to get links")
		return
	}

	if links == nil {
		respondNotFound(c, "Entity not found")
		return
	}

	c.JSON(http.StatusOK, links)
}

// GetRun retrieves the projection run state
func (h *handler) GetRun(c *gin.Context) {
	run, err := h.executor.GetRun(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get run state")
		return
	}

	c.JSON(http.StatusOK, run)
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:  "ok",
		Service: "ff-layer-indexer-api",
	})
}

func entityParams(c *gin.Context) (domain.EntityKind, string, bool) {
	kind := domain.EntityKind(c.Param("kind"))
	if !domain.IsValidEntityKind(kind) {
		respondBadRequest(c, "Invalid entity kind", string(kind))
		return "", "", false
	}

	id := c.Param("id")
	if id == "" {
		respondBadRequest(c, "Entity id is required")
		return "", "", false
	}

	return kind, id, true
}
