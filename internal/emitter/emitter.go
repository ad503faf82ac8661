package emitter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-layer-indexer/internal/adapter"
	"github.com/feral-file/ff-layer-indexer/internal/block"
	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
	"github.com/feral-file/ff-layer-indexer/internal/messaging"
	"github.com/feral-file/ff-layer-indexer/internal/metrics"
	"github.com/feral-file/ff-layer-indexer/internal/store"
)

// Config holds the configuration for the event emitter
type Config struct {
	ChainID    domain.Chain
	StartBlock uint64 // used when no cursor has been saved yet
	// Confirmations is how far behind the head the emitter stays. Zero means
	// the emitter follows the head through a live subscription.
	Confirmations   uint64
	BatchSize       uint64        // blocks per backfill request
	CursorSaveFreq  uint64        // Save cursor every N blocks
	CursorSaveDelay time.Duration // Or save cursor every N seconds
	PollInterval    time.Duration // head polling interval when Confirmations > 0
}

// Emitter defines the interface for the event emitter
//
//go:generate mockgen -source=emitter.go -destination=../mocks/emitter.go -package=mocks -mock_names=Emitter=MockEmitter
type Emitter interface {
	// Run starts the event emitter
	Run(ctx context.Context) error
	// Close closes the emitter and cleans up resources
	Close()
}

// emitter reads contract events from the chain and publishes them to NATS
// in (block, log index) order
type emitter struct {
	subscriber messaging.Subscriber
	publisher  messaging.Publisher
	cursors    store.CursorStore
	blocks     block.BlockProvider
	config     Config
	clock      adapter.Clock
	metrics    *metrics.Metrics

	lastPublished *domain.Position
}

// NewEmitter creates a new event emitter
func NewEmitter(
	sub messaging.Subscriber,
	pub messaging.Publisher,
	cursors store.CursorStore,
	blocks block.BlockProvider,
	cfg Config,
	clock adapter.Clock,
	m *metrics.Metrics,
) Emitter {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 12 * time.Second
	}

	return &emitter{
		subscriber: sub,
		publisher:  pub,
		cursors:    cursors,
		blocks:     blocks,
		config:     cfg,
		clock:      clock,
		metrics:    m,
	}
}

// Run starts the event emitter
func (e *emitter) Run(ctx context.Context) error {
	startBlock, err := e.resolveStartBlock(ctx)
	if err != nil {
		return err
	}

	if e.config.Confirmations > 0 {
		return e.poll(ctx, startBlock)
	}
	return e.follow(ctx, startBlock)
}

func (e *emitter) resolveStartBlock(ctx context.Context) (uint64, error) {
	chain := string(e.config.ChainID)

	lastBlock, err := e.cursors.GetBlockCursor(ctx, chain)
	if err != nil {
		return 0, fmt.Errorf("failed to get block cursor: %w", err)
	}
	if lastBlock > 0 {
		logger.InfoCtx(ctx, "Resuming from last processed block", zap.String("chain", chain), zap.Uint64("block", lastBlock+1))
		return lastBlock + 1, nil
	}

	if e.config.StartBlock > 0 {
		logger.InfoCtx(ctx, "Starting from configured block", zap.String("chain", chain), zap.Uint64("block", e.config.StartBlock))
		return e.config.StartBlock, nil
	}

	latestBlock, err := e.blocks.GetLatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	logger.InfoCtx(ctx, "Starting from latest block", zap.String("chain", chain), zap.Uint64("block", latestBlock))
	return latestBlock, nil
}

// poll keeps the emitter a fixed number of confirmations behind the head
func (e *emitter) poll(ctx context.Context, next uint64) error {
	logger.InfoCtx(ctx, "Polling for confirmed blocks",
		zap.Uint64("from", next),
		zap.Uint64("confirmations", e.config.Confirmations))

	for {
		safe, err := e.blocks.GetSafeBlock(ctx, e.config.Confirmations)
		if err != nil {
			return fmt.Errorf("failed to get safe block: %w", err)
		}

		if safe >= next {
			next, err = e.catchUp(ctx, next, safe)
			if err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(e.config.PollInterval):
		}
	}
}

// follow backfills up to the head then switches to a live subscription
func (e *emitter) follow(ctx context.Context, next uint64) error {
	head, err := e.blocks.GetLatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest block number: %w", err)
	}
	if head >= next {
		next, err = e.catchUp(ctx, next, head)
		if err != nil {
			return err
		}
	}

	logger.InfoCtx(ctx, "Starting event subscription",
		zap.String("chain", string(e.config.ChainID)),
		zap.Uint64("from", next))

	var lastSavedBlock uint64
	if next > 0 {
		lastSavedBlock = next - 1
	}
	lastSaveTime := e.clock.Now()

	handler := func(event *domain.Event) error {
		if e.lastPublished != nil && !event.Position.After(*e.lastPublished) {
			logger.DebugCtx(ctx, "Skipping event already published", zap.Stringer("position", event.Position))
			return nil
		}

		if err := e.publish(ctx, event); err != nil {
			return err
		}

		// Every log of blocks before this one has been published. Later logs
		// of the current block may still be in flight.
		if event.BlockNumber == 0 {
			return nil
		}
		complete := event.BlockNumber - 1
		if complete <= lastSavedBlock {
			return nil
		}

		shouldSave := complete-lastSavedBlock >= e.config.CursorSaveFreq ||
			e.clock.Since(lastSaveTime) >= e.config.CursorSaveDelay
		if !shouldSave {
			return nil
		}

		if err := e.cursors.SetBlockCursor(ctx, string(e.config.ChainID), complete); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("message", "Failed to save block cursor"), zap.Uint64("block", complete))
			return nil
		}
		lastSavedBlock = complete
		lastSaveTime = e.clock.Now()
		return nil
	}

	return e.subscriber.SubscribeEvents(ctx, next, handler)
}

// catchUp publishes every event in [from, to] batch by batch and saves the
// cursor after each batch. It returns the next block to read.
func (e *emitter) catchUp(ctx context.Context, from, to uint64) (uint64, error) {
	for from <= to {
		end := min(from+e.config.BatchSize-1, to)

		events, err := e.subscriber.FetchEvents(ctx, from, end)
		if err != nil {
			return from, fmt.Errorf("failed to fetch events %d-%d: %w", from, end, err)
		}

		for _, event := range events {
			if err := e.publish(ctx, event); err != nil {
				return from, err
			}
		}

		if err := e.cursors.SetBlockCursor(ctx, string(e.config.ChainID), end); err != nil {
			return from, fmt.Errorf("failed to save block cursor: %w", err)
		}

		logger.InfoCtx(ctx, "Published block range",
			zap.Uint64("from", from),
			zap.Uint64("to", end),
			zap.Int("events", len(events)))

		from = end + 1
	}

	return from, nil
}

func (e *emitter) publish(ctx context.Context, event *domain.Event) error {
	if err := e.publisher.PublishEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Position, err)
	}

	position := event.Position
	e.lastPublished = &position
	e.metrics.ObservePublished(string(event.Kind), event.BlockNumber)
	return nil
}

// Close closes the emitter and cleans up resources
func (e *emitter) Close() {
	e.subscriber.Close()
	e.publisher.Close()
}
