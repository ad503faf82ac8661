package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
	"github.com/feral-file/ff-layer-indexer/internal/messaging"
)

// Config holds the configuration for Ethereum subscription
type Config struct {
	ContractAddress string // artwork contract emitting the events
	ChainID         domain.Chain
	// FetchConcurrency bounds the header and receipt reads of a backfill
	FetchConcurrency int
}

type ethSubscriber struct {
	client   Client
	contract common.Address
	chainID  domain.Chain
	pool     pond.ResultPool[*domain.Event]
}

// NewSubscriber creates a new subscriber for the artwork contract's events
func NewSubscriber(cfg Config, ethereumClient Client) messaging.Subscriber {
	concurrency := cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &ethSubscriber{
		client:   ethereumClient,
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  cfg.ChainID,
		pool:     pond.NewResultPool[*domain.Event](concurrency),
	}
}

func (s *ethSubscriber) query(fromBlock, toBlock *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{eventTopics()},
	}
}

// SubscribeEvents streams live contract events. A handler error ends the
// subscription so that the caller can resume from its last saved cursor.
func (s *ethSubscriber) SubscribeEvents(ctx context.Context, fromBlock uint64, handler messaging.EventHandler) error {
	var from *big.Int
	if fromBlock > 0 {
		from = new(big.Int).SetUint64(fromBlock)
	}

	logs := make(chan types.Log)
	sub, err := s.client.SubscribeFilterLogs(ctx, s.query(from, nil), logs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to filter logs: %w", err)
	}
	defer func() {
		logger.InfoCtx(ctx, "Unsubscribing from contract logs")
		sub.Unsubscribe()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("subscription error: %w", err)
		case vLog := <-logs:
			event, err := s.client.ParseEventLog(ctx, vLog)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				return fmt.Errorf("failed to parse log %s:%d: %w", vLog.TxHash.Hex(), vLog.Index, err)
			}
			if event == nil {
				continue
			}

			if err := handler(event); err != nil {
				return fmt.Errorf("failed to handle event %s: %w", event.Position, err)
			}
		}
	}
}

// FetchEvents returns the events of an inclusive block range in (block, log index) order.
// Logs are decoded concurrently; the result order does not depend on completion order.
func (s *ethSubscriber) FetchEvents(ctx context.Context, fromBlock, toBlock uint64) ([]*domain.Event, error) {
	if fromBlock > toBlock {
		return nil, nil
	}

	logs, err := s.client.FilterLogs(ctx, s.query(new(big.Int).SetUint64(fromBlock), new(big.Int).SetUint64(toBlock)))
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs %d-%d: %w", fromBlock, toBlock, err)
	}
	if len(logs) == 0 {
		return nil, nil
	}

	group := s.pool.NewGroupContext(ctx)
	for _, vLog := range logs {
		vLog := vLog
		group.SubmitErr(func() (*domain.Event, error) {
			return s.client.ParseEventLog(ctx, vLog)
		})
	}

	parsed, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to parse logs %d-%d: %w", fromBlock, toBlock, err)
	}

	events := make([]*domain.Event, 0, len(parsed))
	for _, event := range parsed {
		if event != nil {
			events = append(events, event)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[j].Position.After(events[i].Position)
	})

	logger.DebugCtx(ctx, "Fetched contract events",
		zap.Uint64("fromBlock", fromBlock),
		zap.Uint64("toBlock", toBlock),
		zap.Int("logs", len(logs)),
		zap.Int("events", len(events)))

	return events, nil
}

// GetLatestBlock returns the latest block number
func (s *ethSubscriber) GetLatestBlock(ctx context.Context) (uint64, error) {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return header.Number.Uint64(), nil
}

// Close stops the fetch pool and closes the connection
func (s *ethSubscriber) Close() {
	s.pool.StopAndWait()

	if s.client == nil {
		return
	}
	s.client.Close()
	logger.Info("Ethereum connection closed", zap.String("chain", string(s.chainID)))
}
