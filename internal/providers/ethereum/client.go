package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/feral-file/ff-layer-indexer/internal/adapter"
	"github.com/feral-file/ff-layer-indexer/internal/block"
	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
)

// maxCachedReceipts bounds the receipt cache. Logs of one transaction are
// adjacent, so a small cache is enough.
const maxCachedReceipts = 256

// ErrUnsupportedLog is returned for logs that are not events of the artwork contract
var ErrUnsupportedLog = errors.New("unsupported log")

// Client reads and decodes the artwork contract's logs
//
//go:generate mockgen -source=client.go -destination=../../mocks/ethereum_client.go -package=mocks -mock_names=Client=MockEthereumClient
type Client interface {
	// ParseEventLog decodes a contract log into a domain event with its
	// transaction metadata. It returns nil for logs that should be skipped.
	ParseEventLog(ctx context.Context, vLog types.Log) (*domain.Event, error)

	// SubscribeFilterLogs subscribes to filter logs
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)

	// FilterLogs retrieves logs that match the filter query, splitting large ranges
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// HeaderByNumber returns a header by number
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	// Close closes the connection
	Close()
}

type ethereumClient struct {
	contract      common.Address
	client        adapter.EthClient
	blockProvider block.BlockProvider

	mu       sync.Mutex
	receipts map[common.Hash]*types.Receipt
}

// NewClient creates a client for the artwork contract at contractAddress
func NewClient(contractAddress string, client adapter.EthClient, blockProvider block.BlockProvider) Client {
	return &ethereumClient{
		contract:      common.HexToAddress(contractAddress),
		client:        client,
		blockProvider: blockProvider,
		receipts:      make(map[common.Hash]*types.Receipt),
	}
}

// SubscribeFilterLogs subscribes to filter logs
func (c *ethereumClient) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return c.client.SubscribeFilterLogs(ctx, query, ch)
}

// HeaderByNumber returns a header by number
func (c *ethereumClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.client.HeaderByNumber(ctx, number)
}

// FilterLogs retrieves logs in ranges small enough for the provider's result limit
func (c *ethereumClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if query.BlockHash != nil {
		return c.client.FilterLogs(timeoutCtx, query)
	}

	fromBlock := big.NewInt(0)
	if query.FromBlock != nil {
		fromBlock = query.FromBlock
	}

	toBlock := query.ToBlock
	if toBlock == nil {
		latest, err := c.client.HeaderByNumber(timeoutCtx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest block: %w", err)
		}
		toBlock = latest.Number
	}

	rangeQuery := query
	rangeQuery.FromBlock = new(big.Int).Set(fromBlock)
	rangeQuery.ToBlock = new(big.Int).Set(toBlock)

	return c.getLogsWithRetry(timeoutCtx, rangeQuery, 100_000)
}

// getLogsWithRetry processes the range from query.FromBlock to query.ToBlock in
// chunks, halving the chunk size whenever the provider rejects a chunk as too large
func (c *ethereumClient) getLogsWithRetry(ctx context.Context, query ethereum.FilterQuery, stepSize uint64) ([]types.Log, error) {
	currentStepSize := stepSize

	var allLogs []types.Log
	currentFrom := new(big.Int).Set(query.FromBlock)

	for currentFrom.Cmp(query.ToBlock) <= 0 {
		currentTo := new(big.Int).Add(currentFrom, new(big.Int).SetUint64(currentStepSize-1))
		if currentTo.Cmp(query.ToBlock) > 0 {
			currentTo.Set(query.ToBlock)
		}

		chunk := query
		chunk.FromBlock = new(big.Int).Set(currentFrom)
		chunk.ToBlock = new(big.Int).Set(currentTo)

		logs, err := c.client.FilterLogs(ctx, chunk)
		if err == nil {
			allLogs = append(allLogs, logs...)
			currentFrom.SetUint64(currentTo.Uint64() + 1)
			continue
		}

		if !isTooManyResultsError(err) || currentStepSize == 1 {
			return nil, fmt.Errorf("failed to get logs for range %d-%d: %w", currentFrom.Uint64(), currentTo.Uint64(), err)
		}

		currentStepSize = currentStepSize / 2

		logger.WarnCtx(ctx, "Too many results, reducing step size",
			zap.Uint64("oldStepSize", currentStepSize*2),
			zap.Uint64("newStepSize", currentStepSize),
			zap.Uint64("fromBlock", currentFrom.Uint64()),
			zap.Uint64("toBlock", currentTo.Uint64()))
	}

	return allLogs, nil
}

// isTooManyResultsError checks if the error is related to too many results
func isTooManyResultsError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "query returned more than 10000 results") ||
		strings.Contains(errStr, "query timeout exceeded") ||
		strings.Contains(errStr, "too many results") ||
		strings.Contains(errStr, "exceeded maximum") ||
		strings.Contains(errStr, "block range")
}

// ParseEventLog decodes a contract log into a domain event
func (c *ethereumClient) ParseEventLog(ctx context.Context, vLog types.Log) (*domain.Event, error) {
	if vLog.Removed {
		logger.WarnCtx(ctx, "Skipping log removed by a reorg",
			zap.String("txHash", vLog.TxHash.Hex()),
			zap.Uint64("block", vLog.BlockNumber),
			zap.Uint("logIndex", vLog.Index))
		return nil, nil
	}

	if vLog.Address != c.contract {
		logger.DebugCtx(ctx, "Skipping log from another contract", zap.String("contract", vLog.Address.Hex()))
		return nil, nil
	}

	kind, payload, err := decodeLog(vLog)
	if errors.Is(err, ErrUnsupportedLog) {
		logger.DebugCtx(ctx, "Skipping unsupported log", zap.String("txHash", vLog.TxHash.Hex()), zap.Error(err))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode log %s:%d: %w", vLog.TxHash.Hex(), vLog.Index, err)
	}

	timestamp, err := c.blockProvider.GetBlockTimestamp(ctx, vLog.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get block timestamp: %w", err)
	}

	receipt, err := c.receipt(ctx, vLog.TxHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
	}

	return &domain.Event{
		Kind: kind,
		Position: domain.Position{
			BlockNumber: vLog.BlockNumber,
			LogIndex:    uint64(vLog.Index),
		},
		TxHash:    vLog.TxHash.Hex(),
		Timestamp: timestamp,
		GasPrice:  domain.NewAmount(receipt.EffectiveGasPrice),
		GasUsed:   domain.AmountFromUint64(receipt.GasUsed),
		Contract:  vLog.Address.Hex(),
		Payload:   payload,
	}, nil
}

// receipt returns the receipt of a transaction, caching recent ones
func (c *ethereumClient) receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	cached, ok := c.receipts[txHash]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	receipt, err := c.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.receipts) >= maxCachedReceipts {
		c.receipts = make(map[common.Hash]*types.Receipt)
	}
	c.receipts[txHash] = receipt
	c.mu.Unlock()

	return receipt, nil
}

// decodeLog unpacks the indexed and data arguments of a contract log
func decodeLog(vLog types.Log) (domain.EventKind, domain.EventPayload, error) {
	if len(vLog.Topics) == 0 {
		return "", nil, fmt.Errorf("%w: no topics", ErrUnsupportedLog)
	}

	event, err := layerContractABI.EventByID(vLog.Topics[0])
	if err != nil {
		return "", nil, fmt.Errorf("%w: unknown event signature %s", ErrUnsupportedLog, vLog.Topics[0].Hex())
	}
	kind, ok := eventKinds[event.Name]
	if !ok {
		return "", nil, fmt.Errorf("%w: event %s", ErrUnsupportedLog, event.Name)
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	// ERC20-style transfers share the Transfer signature with fewer indexed topics
	if len(vLog.Topics)-1 != len(indexed) {
		return "", nil, fmt.Errorf("%w: %s expects %d indexed topics, got %d",
			ErrUnsupportedLog, event.Name, len(indexed), len(vLog.Topics)-1)
	}

	args := eventArgs{}
	if err := abi.ParseTopicsIntoMap(args, indexed, vLog.Topics[1:]); err != nil {
		return "", nil, fmt.Errorf("failed to parse topics of %s: %w", event.Name, err)
	}
	if err := event.Inputs.UnpackIntoMap(args, vLog.Data); err != nil {
		return "", nil, fmt.Errorf("failed to unpack data of %s: %w", event.Name, err)
	}

	payload, err := decodePayload(kind, args)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode %s: %w", event.Name, err)
	}
	return kind, payload, nil
}

// Close closes the connection
func (c *ethereumClient) Close() {
	c.client.Close()
}
