package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/store/schema"
)

// CursorStore defines the interface for storing and retrieving block cursors
//
//go:generate mockgen -source=cursor_store.go -destination=../mocks/cursor_store.go -package=mocks -mock_names=CursorStore=MockCursorStore
type CursorStore interface {
	// GetBlockCursor retrieves the last processed block number for a chain
	GetBlockCursor(ctx context.Context, chain string) (uint64, error)
	// SetBlockCursor stores the last processed block number for a chain
	SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error
}

type cursorStore struct {
	db *gorm.DB
}

// NewCursorStore creates a new cursor store
func NewCursorStore(db *gorm.DB) CursorStore {
	return &cursorStore{db: db}
}

// GetBlockCursor retrieves the last processed block number for a chain
func (s *cursorStore) GetBlockCursor(ctx context.Context, chain string) (uint64, error) {
	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", blockCursorKey(chain)).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil // Return 0 if no cursor exists
		}
		return 0, fmt.Errorf("failed to get block cursor: %w", err)
	}

	blockNumber, err := strconv.ParseUint(kv.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block cursor: %w", err)
	}

	return blockNumber, nil
}

// SetBlockCursor stores the last processed block number for a chain
func (s *cursorStore) SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error {
	kv := schema.KeyValueStore{
		Key:   blockCursorKey(chain),
		Value: strconv.FormatUint(blockNumber, 10),
	}

	err := s.db.WithContext(ctx).Save(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set block cursor: %w", err)
	}

	return nil
}

func blockCursorKey(chain string) string {
	return fmt.Sprintf("block_cursor:%s", chain)
}

func projectionCursorKey(name string) string {
	return fmt.Sprintf("projection_cursor:%s", name)
}

func runStateKey(name string) string {
	return fmt.Sprintf("run_state:%s", name)
}

// formatPosition encodes a position as "<block>:<log index>"
func formatPosition(p domain.Position) string {
	return fmt.Sprintf("%d:%d", p.BlockNumber, p.LogIndex)
}

func parsePosition(value string) (*domain.Position, error) {
	block, logIndex, ok := strings.Cut(value, ":")
	if !ok {
		return nil, fmt.Errorf("malformed position: %q", value)
	}
	b, err := strconv.ParseUint(block, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed block number in position %q: %w", value, err)
	}
	l, err := strconv.ParseUint(logIndex, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed log index in position %q: %w", value, err)
	}
	return &domain.Position{BlockNumber: b, LogIndex: l}, nil
}
