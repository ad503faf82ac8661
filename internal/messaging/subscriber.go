package messaging

import (
	"context"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
)

// EventHandler is called when a new contract event is received
type EventHandler func(event *domain.Event) error

// Subscriber defines the interface for reading the artwork contract's events
//
//go:generate mockgen -source=subscriber.go -destination=../mocks/subscriber.go -package=mocks -mock_names=Subscriber=MockSubscriber
type Subscriber interface {
	// SubscribeEvents streams live events starting at fromBlock (0 for latest).
	// It returns when the context is done or the subscription fails.
	SubscribeEvents(ctx context.Context, fromBlock uint64, handler EventHandler) error

	// FetchEvents returns the events of an inclusive block range in (block, log index) order
	FetchEvents(ctx context.Context, fromBlock, toBlock uint64) ([]*domain.Event, error)

	// GetLatestBlock returns the latest block number
	GetLatestBlock(ctx context.Context) (uint64, error)

	// Close closes the connection and cleans up resources
	Close()
}
