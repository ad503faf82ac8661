package projector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/feral-file/ff-layer-indexer/internal/adapter"
	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/engine"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
	"github.com/feral-file/ff-layer-indexer/internal/messaging"
	natsprovider "github.com/feral-file/ff-layer-indexer/internal/providers/jetstream"
	"github.com/feral-file/ff-layer-indexer/internal/store"
)

// ErrHalted is returned by Run when an event could not be projected and the
// projection stopped at it
var ErrHalted = errors.New("projection halted")

// Config holds the configuration for the projector
type Config struct {
	URL            string
	StreamName     string
	ConsumerName   string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
	AckWaitTimeout time.Duration
	// MaxDeliver bounds redeliveries of a failing event. -1 keeps retrying forever.
	MaxDeliver int
	// NakDelay is how long a retryable failure waits before redelivery
	NakDelay time.Duration
	// CursorName names the projection cursor and the run state
	CursorName string
}

// Applier applies a single event to the entity graph
type Applier interface {
	Apply(ctx context.Context, event *domain.Event) (*engine.Result, error)
}

// Projector defines the interface for the event projector
type Projector interface {
	// Run consumes events until the context is done or the projection halts
	Run(ctx context.Context) error
	// Close closes the projector and cleans up resources
	Close()
}

type projector struct {
	nc      adapter.NatsConn
	js      adapter.JetStream
	store   store.Store
	applier Applier
	codec   adapter.Codec
	clock   adapter.Clock
	config  Config

	run *store.RunState
}

// NewProjector connects to NATS and creates a new projector
func NewProjector(
	cfg Config,
	natsJS adapter.NatsJetStream,
	st store.Store,
	applier Applier,
	codec adapter.Codec,
	clock adapter.Clock,
) (Projector, error) {
	if cfg.CursorName == "" {
		cfg.CursorName = engine.DefaultCursorName
	}

	nc, js, err := natsJS.Connect(cfg.URL, natsprovider.ConnectOptions(cfg.ConnectionName, cfg.MaxReconnects, cfg.ReconnectWait)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	return &projector{
		nc:      nc,
		js:      js,
		store:   st,
		applier: applier,
		codec:   codec,
		clock:   clock,
		config:  cfg,
	}, nil
}

// Run starts consuming events. Messages are handled one at a time in stream
// order; the consumer keeps a single message in flight.
func (p *projector) Run(ctx context.Context) error {
	logger.InfoCtx(ctx, "Starting projector", zap.String("stream", p.config.StreamName), zap.String("consumer", p.config.ConsumerName))

	if err := p.startRun(ctx); err != nil {
		return err
	}

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       p.config.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       p.config.AckWaitTimeout,
		MaxDeliver:    p.config.MaxDeliver,
		MaxAckPending: 1,
		FilterSubject: messaging.SubjectFilter,
	}

	consumer, err := p.js.CreateOrUpdateConsumer(ctx, p.config.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	consumerInfo, err := consumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.InfoCtx(ctx, "Consumer created/retrieved",
		zap.String("consumer", consumerInfo.Name),
		zap.Uint64("pending", consumerInfo.NumPending))

	msgChan := make(chan adapter.Message)
	sub, err := consumer.Consume(func(msg adapter.Message) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
		}
	}, jetstream.PullMaxMessages(1))
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	logger.InfoCtx(ctx, "Started consuming messages")

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Shutting down projector")
			p.stopRun(ctx)
			return ctx.Err()
		case msg := <-msgChan:
			if err := p.handleMessage(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// handleMessage projects a single NATS message. A non-nil error means the
// projection halted and the message was left unacknowledged.
func (p *projector) handleMessage(ctx context.Context, msg adapter.Message) error {
	var delivered uint64
	if metadata, err := msg.Metadata(); err == nil && metadata != nil {
		delivered = metadata.NumDelivered
	}

	var event domain.Event
	if err := p.codec.Unmarshal(msg.Data(), &event); err != nil {
		return p.halt(ctx, nil, fmt.Errorf("failed to unmarshal event: %w", err))
	}

	info := logger.EventInfo{
		Kind:        string(event.Kind),
		BlockNumber: event.BlockNumber,
		LogIndex:    event.LogIndex,
		TxHash:      event.TxHash,
	}

	result, err := p.applier.Apply(ctx, &event)
	switch {
	case err == nil:
	case domain.IsConsistencyError(err):
		return p.halt(ctx, &event, err)
	default:
		logger.ErrorEvent(ctx, info, err,
			zap.String("message", "Failed to apply event, will retry"),
			zap.Bool("retryable", domain.IsRetryable(err)),
			zap.Uint64("deliveryCount", delivered))
		if err := msg.NakWithDelay(p.config.NakDelay); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("message", "Failed to NAK message"))
		}
		return nil
	}

	if err := msg.Ack(); err != nil {
		// The cursor already covers the event, so the redelivery is skipped
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to ACK message"))
	}

	if result.Skipped {
		logger.InfoEvent(ctx, info, "Acknowledged redelivered event", zap.Uint64("deliveryCount", delivered))
	}
	return nil
}

// halt records the failing event in the run state and stops the projection
func (p *projector) halt(ctx context.Context, event *domain.Event, cause error) error {
	now := p.clock.Now()
	p.run.Status = store.RunStatusHalted
	p.run.Error = cause.Error()
	p.run.UpdatedAt = now
	if event != nil {
		position := event.Position
		p.run.Position = &position
		p.run.Kind = event.Kind
	}

	logger.ErrorCtx(ctx, cause,
		zap.String("message", "Projection halted"),
		zap.String("runID", p.run.RunID))

	if err := p.store.SetRunState(ctx, p.config.CursorName, p.run); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to record halted run state"))
	}

	return fmt.Errorf("%w: %w", ErrHalted, cause)
}

func (p *projector) startRun(ctx context.Context) error {
	now := p.clock.Now()
	p.run = &store.RunState{
		RunID:     ulid.MustNewDefault(now).String(),
		Status:    store.RunStatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	}

	if err := p.store.SetRunState(ctx, p.config.CursorName, p.run); err != nil {
		return fmt.Errorf("failed to record run state: %w", err)
	}
	logger.InfoCtx(ctx, "Projection run started", zap.String("runID", p.run.RunID))
	return nil
}

func (p *projector) stopRun(ctx context.Context) {
	p.run.Status = store.RunStatusStopped
	p.run.UpdatedAt = p.clock.Now()

	// The run context is already done
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := p.store.SetRunState(ctx, p.config.CursorName, p.run); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to record stopped run state"))
	}
}

// Close closes the NATS connection
func (p *projector) Close() {
	if p.nc == nil {
		return
	}

	p.nc.Close()
}
