package executor

import (
	"context"
	"fmt"

	"github.com/feral-file/ff-layer-indexer/internal/api/shared/dto"
	apierrors "github.com/feral-file/ff-layer-indexer/internal/api/shared/errors"
	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/store"
)

// Executor is the interface for the API executor
//
//go:generate mockgen -source=executor.go -destination=../../../mocks/mock_api_executor.go -package=mocks -mock_names=Executor=MockAPIExecutor
type Executor interface {
	// GetEntity retrieves a single entity by kind and id
	GetEntity(ctx context.Context, kind domain.EntityKind, id string) (*dto.EntityResponse, error)

	// GetLinks retrieves a page of an entity's relationship list
	GetLinks(ctx context.Context, kind domain.EntityKind, id string, relation domain.Relation, limit, offset int) (*dto.LinksResponse, error)

	// GetRun retrieves the projection run state and cursor
	GetRun(ctx context.Context) (*dto.RunResponse, error)
}

type executor struct {
	store      store.Store
	cursorName string
}

func NewExecutor(store store.Store, cursorName string) Executor {
	return &executor{store: store, cursorName: cursorName}
}

func (e *executor) GetEntity(ctx context.Context, kind domain.EntityKind, id string) (*dto.EntityResponse, error) {
	data, err := e.store.GetEntity(ctx, kind, id)
	if err != nil {
		return nil, apierrors.NewDatabaseError(fmt.Sprintf("Failed to get entity: %v", err))
	}

	if data == nil {
		return nil, nil
	}

	return &dto.EntityResponse{Kind: kind, ID: id, Data: data}, nil
}

func (e *executor) GetLinks(ctx context.Context, kind domain.EntityKind, id string, relation domain.Relation, limit, offset int) (*dto.LinksResponse, error) {
	data, err := e.store.GetEntity(ctx, kind, id)
	if err != nil {
		return nil, apierrors.NewDatabaseError(fmt.Sprintf("Failed to get entity: %v", err))
	}
	if data == nil {
		return nil, nil
	}

	targets, err := e.store.GetLinks(ctx, kind, id, relation)
	if err != nil {
		return nil, apierrors.NewDatabaseError(fmt.Sprintf("Failed to get links: %v", err))
	}

	total := len(targets)
	start := min(offset, total)
	end := min(start+limit, total)

	page := make([]string, end-start)
	copy(page, targets[start:end])

	return &dto.LinksResponse{
		Kind:     kind,
		ID:       id,
		Relation: relation,
		Targets:  page,
		Total:    total,
		Offset:   offset,
		Limit:    limit,
	}, nil
}

func (e *executor) GetRun(ctx context.Context) (*dto.RunResponse, error) {
	run, err := e.store.GetRunState(ctx, e.cursorName)
	if err != nil {
		return nil, apierrors.NewDatabaseError(fmt.Sprintf("Failed to get run state: %v", err))
	}

	cursor, err := e.store.GetProjectionCursor(ctx, e.cursorName)
	if err != nil {
		return nil, apierrors.NewDatabaseError(fmt.Sprintf("Failed to get projection cursor: %v", err))
	}

	return &dto.RunResponse{Run: run, Cursor: cursor}, nil
}
