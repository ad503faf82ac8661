package jetstream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/feral-file/ff-layer-indexer/internal/adapter"
	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
	"github.com/feral-file/ff-layer-indexer/internal/messaging"
)

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	StreamName     string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
	// DuplicateWindow is how long the stream remembers message ids. Events
	// republished within it after an emitter restart are dropped by the server.
	DuplicateWindow time.Duration
}

type publisher struct {
	nc         adapter.NatsConn
	js         adapter.JetStream
	streamName string
	codec      adapter.Codec
}

// ConnectOptions returns the NATS options shared by the publisher and the projector
func ConnectOptions(name string, maxReconnects int, reconnectWait time.Duration) []nats.Option {
	return []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}
}

// NewPublisher connects to NATS and makes sure the event stream exists
func NewPublisher(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream, codec adapter.Codec) (messaging.Publisher, error) {
	nc, js, err := natsJS.Connect(cfg.URL, ConnectOptions(cfg.ConnectionName, cfg.MaxReconnects, cfg.ReconnectWait)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	info, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   []string{messaging.SubjectFilter},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: cfg.DuplicateWindow,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create or update stream %s: %w", cfg.StreamName, err)
	}
	logger.Info("Event stream ready",
		zap.String("stream", info.Config.Name),
		zap.Uint64("messages", info.State.Msgs))

	return &publisher{
		nc:         nc,
		js:         js,
		streamName: cfg.StreamName,
		codec:      codec,
	}, nil
}

// PublishEvent publishes a contract event to NATS JetStream. The message id is
// derived from the transaction hash and log index so republishing is idempotent.
func (p *publisher) PublishEvent(ctx context.Context, event *domain.Event) error {
	data, err := p.codec.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := p.js.Publish(ctx, messaging.Subject(event.Kind), data, jetstream.WithMsgID(event.MessageID()))
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Position, err)
	}

	if ack != nil && ack.Duplicate {
		logger.DebugCtx(ctx, "Event already in stream",
			zap.String("kind", string(event.Kind)),
			zap.Stringer("position", event.Position))
		return nil
	}

	logger.DebugCtx(ctx, "Published event",
		zap.String("kind", string(event.Kind)),
		zap.Stringer("position", event.Position),
		zap.String("stream", p.streamName))
	return nil
}

// Close closes the NATS connection
func (p *publisher) Close() {
	if p.nc == nil {
		return
	}

	p.nc.Close()
}
