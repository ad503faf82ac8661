package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/feral-file/ff-layer-indexer/internal/adapter"
	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
	"github.com/feral-file/ff-layer-indexer/internal/metrics"
	"github.com/feral-file/ff-layer-indexer/internal/source"
	"github.com/feral-file/ff-layer-indexer/internal/store"
)

// DefaultCursorName is the projection cursor advanced by the engine
const DefaultCursorName = "layer_projection"

// Config holds engine configuration
type Config struct {
	// CursorName names the projection cursor committed with every event
	CursorName string
}

// Result summarizes the writes of one applied event
type Result struct {
	// Skipped is set when the event was at or before the cursor and nothing was written
	Skipped bool
	Upserts int
	Appends int
}

// Engine projects contract events onto the entity graph. It is not safe for
// concurrent use: events must be applied one at a time, in position order.
type Engine struct {
	store   store.Store
	querier source.Querier
	codec   adapter.Codec
	clock   adapter.Clock
	metrics *metrics.Metrics
	config  Config
}

// New creates a new engine
func New(cfg Config, s store.Store, querier source.Querier, codec adapter.Codec, clock adapter.Clock, m *metrics.Metrics) *Engine {
	if cfg.CursorName == "" {
		cfg.CursorName = DefaultCursorName
	}
	return &Engine{
		store:   s,
		querier: querier,
		codec:   codec,
		clock:   clock,
		metrics: m,
		config:  cfg,
	}
}

// Apply applies one event. Its writes land together with the advanced cursor
// in a single commit, or not at all when an error is returned.
//
// Events at or before the cursor are skipped. Errors satisfying
// domain.IsConsistencyError must stop the projection at this event.
func (e *Engine) Apply(ctx context.Context, event *domain.Event) (*Result, error) {
	start := e.clock.Now()
	info := eventInfo(event)
	ctx = logger.WithEvent(ctx, info)

	if err := event.Validate(); err != nil {
		e.metrics.ObserveFailed(string(event.Kind), "consistency")
		return nil, domain.NewConsistencyError(event, err)
	}

	cursor, err := e.store.GetProjectionCursor(ctx, e.config.CursorName)
	if err != nil {
		e.metrics.ObserveFailed(string(event.Kind), "store")
		return nil, fmt.Errorf("failed to read projection cursor: %w", err)
	}
	if cursor != nil && !event.Position.After(*cursor) {
		logger.InfoEvent(ctx, info, "Skipping event at or before the projection cursor",
			zap.Stringer("cursor", cursor))
		e.metrics.ObserveSkipped(string(event.Kind), "redelivery")
		return &Result{Skipped: true}, nil
	}

	u := newUnitOfWork(e.store, e.codec)
	if err := e.dispatch(ctx, u, event); err != nil {
		e.metrics.ObserveFailed(string(event.Kind), errorClass(err))
		return nil, err
	}

	changes := u.changeSet()
	changes.Cursor = &store.CursorUpdate{Name: e.config.CursorName, Position: event.Position}
	if err := e.store.Commit(ctx, changes); err != nil {
		e.metrics.ObserveFailed(string(event.Kind), "store")
		return nil, fmt.Errorf("failed to commit event %s: %w", event.Position, err)
	}

	result := &Result{Upserts: len(changes.Upserts), Appends: len(changes.Appends)}
	e.metrics.ObserveApplied(string(event.Kind), event.BlockNumber, result.Upserts, result.Appends, e.clock.Since(start))
	logger.DebugCtx(ctx, "Applied event",
		append(info.Fields(), zap.Int("upserts", result.Upserts), zap.Int("appends", result.Appends))...)

	return result, nil
}

// Reconcile recomputes the derived linkage of the artwork the token belongs
// to and commits only the records that changed
func (e *Engine) Reconcile(ctx context.Context, tokenID string) (*Result, error) {
	u := newUnitOfWork(e.store, e.codec)
	if err := e.reconcile(ctx, u, tokenID); err != nil {
		return nil, err
	}

	changes := u.changeSet()
	if err := e.store.Commit(ctx, changes); err != nil {
		return nil, fmt.Errorf("failed to commit reconciliation of token %s: %w", tokenID, err)
	}

	return &Result{Upserts: len(changes.Upserts), Appends: len(changes.Appends)}, nil
}

func (e *Engine) dispatch(ctx context.Context, u *unitOfWork, event *domain.Event) error {
	switch p := event.Payload.(type) {
	case *domain.ArtworkMinted:
		return e.handleArtworkMinted(ctx, u, event, p)
	case *domain.PlatformAddressUpdated:
		return e.handlePlatformAddressUpdated(ctx, u, event, p)
	case *domain.DefaultPlatformSalePercentageUpdated:
		return e.handleDefaultPlatformSalePercentageUpdated(ctx, u, event, p)
	case *domain.ArtistSecondSalePercentageUpdated:
		return e.handleArtistSecondSalePercentageUpdated(ctx, u, event, p)
	case *domain.PlatformSalePercentageUpdated:
		return e.handlePlatformSalePercentageUpdated(ctx, u, event, p)
	case *domain.CreatorWhitelisted:
		return e.handleCreatorWhitelisted(ctx, u, event, p)
	case *domain.BuyPriceSet:
		return e.handleBuyPriceSet(ctx, u, event, p)
	case *domain.BidProposed:
		return e.handleBidProposed(ctx, u, event, p)
	case *domain.BidWithdrawn:
		return e.handleBidWithdrawn(ctx, u, event, p)
	case *domain.TokenSale:
		return e.handleTokenSale(ctx, u, event, p)
	case *domain.Transfer:
		return e.handleTransfer(ctx, u, event, p)
	case *domain.PermissionUpdated:
		return e.handlePermissionUpdated(ctx, u, event, p)
	case *domain.ControlLeverUpdated:
		return e.handleControlLeverUpdated(ctx, u, event, p)
	default:
		return domain.NewConsistencyError(event, fmt.Errorf("%w: %s", domain.ErrUnknownEventKind, event.Kind))
	}
}

// requireToken loads a token that an earlier event must have created
func (e *Engine) requireToken(ctx context.Context, u *unitOfWork, event *domain.Event, tokenID string) (*domain.Token, error) {
	token, err := loadEntity[domain.Token](ctx, u, domain.EntityToken, tokenID)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, domain.NewConsistencyError(event, fmt.Errorf("%w: %s", domain.ErrTokenNotFound, tokenID))
	}
	return token, nil
}

func eventInfo(event *domain.Event) logger.EventInfo {
	return logger.EventInfo{
		Kind:        string(event.Kind),
		BlockNumber: event.BlockNumber,
		LogIndex:    event.LogIndex,
		TxHash:      event.TxHash,
	}
}

func errorClass(err error) string {
	switch {
	case domain.IsConsistencyError(err):
		return "consistency"
	case domain.IsRetryable(err):
		return "upstream"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "store"
	}
}
