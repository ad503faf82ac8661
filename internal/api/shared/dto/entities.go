package dto

import (
	"encoding/json"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/store"
)

// EntityResponse wraps a stored entity record. Data is the record exactly as
// the engine committed it.
type EntityResponse struct {
	Kind domain.EntityKind `json:"kind"`
	ID   string            `json:"id"`
	Data json.RawMessage   `json:"data"`
}

// LinksResponse is a page of a relationship list, in the order the targets were appended
type LinksResponse struct {
	Kind     domain.EntityKind `json:"kind"`
	ID       string            `json:"id"`
	Relation domain.Relation   `json:"relation"`
	Targets  []string          `json:"targets"`
	Total    int               `json:"total"`
	Offset   int               `json:"offset"`
	Limit    int               `json:"limit"`
}

// RunResponse reports the projection run state and how far it has applied
type RunResponse struct {
	Run    *store.RunState  `json:"run,omitempty"`
	Cursor *domain.Position `json:"cursor,omitempty"`
}

// HealthResponse is returned by the health check
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
