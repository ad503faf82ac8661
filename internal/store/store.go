package store

import (
	"context"
	"time"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
)

// Record is the serialized body of one entity
type Record struct {
	Kind domain.EntityKind
	ID   string
	Body []byte
}

// Link appends Target to the ordered relationship list owned by (Kind, ID)
type Link struct {
	Kind     domain.EntityKind
	ID       string
	Relation domain.Relation
	Target   string
}

// CursorUpdate advances a named projection cursor
type CursorUpdate struct {
	Name     string
	Position domain.Position
}

// ChangeSet is everything one event writes. It is committed as a whole or not at all.
type ChangeSet struct {
	Upserts []Record
	Appends []Link
	Cursor  *CursorUpdate
}

// Empty reports whether the change set writes nothing
func (c ChangeSet) Empty() bool {
	return len(c.Upserts) == 0 && len(c.Appends) == 0 && c.Cursor == nil
}

// RunStatus is the state of a projection run
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusHalted  RunStatus = "halted"
	RunStatusStopped RunStatus = "stopped"
)

// RunState describes the latest projection run. A halted run carries the
// position and error of the event it stopped at.
type RunState struct {
	RunID     string           `json:"run_id"`
	Status    RunStatus        `json:"status"`
	Position  *domain.Position `json:"position,omitempty"`
	Kind      domain.EventKind `json:"kind,omitempty"`
	Error     string           `json:"error,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Store defines the interface for entity graph persistence
//
//go:generate mockgen -source=store.go -destination=../mocks/store.go -package=mocks -mock_names=Store=MockStore
type Store interface {
	CursorStore

	// GetEntity loads an entity body by kind and id. It returns nil when the entity is absent.
	GetEntity(ctx context.Context, kind domain.EntityKind, id string) ([]byte, error)
	// GetLinks returns the targets of a relationship list in append order
	GetLinks(ctx context.Context, kind domain.EntityKind, id string, relation domain.Relation) ([]string, error)
	// Commit applies a change set atomically
	Commit(ctx context.Context, changes ChangeSet) error

	// GetProjectionCursor returns the position of the last committed event, or nil before the first one
	GetProjectionCursor(ctx context.Context, name string) (*domain.Position, error)

	// GetRunState retrieves the state of the named projection run
	GetRunState(ctx context.Context, name string) (*RunState, error)
	// SetRunState stores the state of the named projection run
	SetRunState(ctx context.Context, name string, state *RunState) error

	// GetKeyValue retrieves a value by key, returning an empty string when absent
	GetKeyValue(ctx context.Context, key string) (string, error)
	// SetKeyValue sets a key-value pair
	SetKeyValue(ctx context.Context, key string, value string) error
}
