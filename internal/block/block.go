package block

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-layer-indexer/internal/adapter"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
)

// HeadInfo is the cached chain head
type HeadInfo struct {
	Number    uint64
	FetchedAt time.Time
}

// BlockProvider provides cached access to the chain head and to block timestamps.
// Many logs share a block, so the event parser asks for the same timestamp
// repeatedly; the emitter polls the head to bound backfill ranges.
//
//go:generate mockgen -source=block.go -destination=../mocks/block_provider.go -package=mocks -mock_names=BlockProvider=MockBlockProvider
type BlockProvider interface {
	// GetLatestBlock returns the latest block number, potentially from cache
	GetLatestBlock(ctx context.Context) (uint64, error)

	// GetSafeBlock returns the latest block buried under the given number of confirmations
	GetSafeBlock(ctx context.Context, confirmations uint64) (uint64, error)

	// GetBlockTimestamp returns the timestamp for a given block number, potentially from cache
	GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// BlockFetcher is the interface for fetching block information from the chain
//
//go:generate mockgen -source=block.go -destination=../mocks/block_provider.go -package=mocks -mock_names=BlockFetcher=MockBlockFetcher
type BlockFetcher interface {
	// FetchLatestBlock fetches the latest block number
	FetchLatestBlock(ctx context.Context) (uint64, error)

	// FetchBlockTimestamp fetches the timestamp for a given block number
	FetchBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// Config holds configuration for the BlockProvider
type Config struct {
	// TTL is how long to cache the head block number
	TTL time.Duration

	// StaleWindow is how long a stale head may be served when fetching fails
	StaleWindow time.Duration

	// MaxCachedTimestamps bounds the timestamp cache. The lowest blocks are
	// evicted first. Zero means unbounded.
	MaxCachedTimestamps int
}

type blockProvider struct {
	fetcher BlockFetcher
	config  Config
	clock   adapter.Clock

	mu         sync.RWMutex
	head       *HeadInfo
	timestamps map[uint64]time.Time
}

// NewBlockProvider creates a new BlockProvider with caching
func NewBlockProvider(fetcher BlockFetcher, config Config, clock adapter.Clock) BlockProvider {
	return &blockProvider{
		fetcher:    fetcher,
		config:     config,
		clock:      clock,
		timestamps: make(map[uint64]time.Time),
	}
}

// GetLatestBlock returns the latest block number, using cache if valid
func (p *blockProvider) GetLatestBlock(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	cached := p.head
	p.mu.RUnlock()

	now := p.clock.Now()

	if cached != nil && now.Sub(cached.FetchedAt) < p.config.TTL {
		logger.DebugCtx(ctx, "Using cached head block", zap.Uint64("block_number", cached.Number))
		return cached.Number, nil
	}

	logger.DebugCtx(ctx, "Fetching head block from chain")
	blockNumber, err := p.fetcher.FetchLatestBlock(ctx)
	if err != nil {
		if cached != nil && now.Sub(cached.FetchedAt) < p.config.StaleWindow {
			logger.WarnCtx(ctx, "Using stale head block", zap.Uint64("block_number", cached.Number), zap.Error(err))
			return cached.Number, nil
		}
		return 0, fmt.Errorf("failed to fetch latest block and no valid cache available: %w", err)
	}

	p.mu.Lock()
	// A lagging node may briefly report a lower head; never move backwards
	if p.head == nil || blockNumber >= p.head.Number {
		p.head = &HeadInfo{Number: blockNumber, FetchedAt: now}
	} else {
		p.head.FetchedAt = now
		blockNumber = p.head.Number
	}
	p.mu.Unlock()

	return blockNumber, nil
}

// GetSafeBlock returns head - confirmations, or 0 when the chain is shorter than that
func (p *blockProvider) GetSafeBlock(ctx context.Context, confirmations uint64) (uint64, error) {
	head, err := p.GetLatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	if head < confirmations {
		return 0, nil
	}
	return head - confirmations, nil
}

// GetBlockTimestamp returns the timestamp for a given block number. Timestamps
// of mined blocks never change, so cached entries do not expire.
func (p *blockProvider) GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	p.mu.RLock()
	cached, ok := p.timestamps[blockNumber]
	p.mu.RUnlock()
	if ok {
		return cached, nil
	}

	logger.DebugCtx(ctx, "Fetching block timestamp from chain", zap.Uint64("block_number", blockNumber))
	timestamp, err := p.fetcher.FetchBlockTimestamp(ctx, blockNumber)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch block timestamp for block %d: %w", blockNumber, err)
	}
	timestamp = timestamp.UTC()

	p.mu.Lock()
	p.timestamps[blockNumber] = timestamp
	p.evictLocked()
	p.mu.Unlock()

	return timestamp, nil
}

// evictLocked drops the lowest blocks until the cache fits. Events arrive in
// block order, so the lowest blocks are the least likely to be asked for again.
func (p *blockProvider) evictLocked() {
	limit := p.config.MaxCachedTimestamps
	if limit <= 0 || len(p.timestamps) <= limit {
		return
	}

	blocks := make([]uint64, 0, len(p.timestamps))
	for n := range p.timestamps {
		blocks = append(blocks, n)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	for _, n := range blocks[:len(blocks)-limit] {
		delete(p.timestamps, n)
	}
}
