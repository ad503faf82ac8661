package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/store/schema"
)

type pgStore struct {
	CursorStore
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{
		CursorStore: NewCursorStore(db),
		db:          db,
	}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM database connection.
// If any of the pool settings are 0, the defaults of NormalizeConnectionPoolSettings are used.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings into safe values.
//
// Defaults (when zero):
//   - MaxOpenConns: 10
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	if maxOpenConns == 0 {
		maxOpenConns = 10
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	// Ensure MaxIdleConns doesn't exceed MaxOpenConns
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// calculateSafeBatchSize computes a batch size that keeps a bulk insert under
// PostgreSQL's limit of 65535 parameters per statement.
func calculateSafeBatchSize(totalRecords int, fieldsPerRecord int) int {
	const maxParams = 65535
	const totalHeadroom = 1000

	availableParams := maxParams - totalHeadroom
	safeBatchSize := max(availableParams/fieldsPerRecord, 1)

	if safeBatchSize > totalRecords {
		return totalRecords
	}

	return safeBatchSize
}

// GetEntity loads an entity body by kind and id
func (s *pgStore) GetEntity(ctx context.Context, kind domain.EntityKind, id string) ([]byte, error) {
	var entity schema.Entity
	err := s.db.WithContext(ctx).
		Where("kind = ? AND id = ?", kind, id).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}

	return entity.Body, nil
}

// GetLinks returns the targets of a relationship list in append order
func (s *pgStore) GetLinks(ctx context.Context, kind domain.EntityKind, id string, relation domain.Relation) ([]string, error) {
	var targets []string
	err := s.db.WithContext(ctx).
		Model(&schema.EntityLink{}).
		Where("kind = ? AND entity_id = ? AND relation = ?", kind, id, relation).
		Order("seq ASC").
		Pluck("target", &targets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get %s links of %s %s: %w", relation, kind, id, err)
	}

	return targets, nil
}

// Commit applies a change set in a single transaction
func (s *pgStore) Commit(ctx context.Context, changes ChangeSet) error {
	if changes.Empty() {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(changes.Upserts) > 0 {
			now := time.Now()
			entities := make([]schema.Entity, 0, len(changes.Upserts))
			for _, r := range changes.Upserts {
				entities = append(entities, schema.Entity{
					Kind:      r.Kind,
					ID:        r.ID,
					Body:      datatypes.JSON(r.Body),
					CreatedAt: now,
					UpdatedAt: now,
				})
			}

			batchSize := calculateSafeBatchSize(len(entities), 5)
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "kind"}, {Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
			}).CreateInBatches(&entities, batchSize).Error
			if err != nil {
				return fmt.Errorf("failed to upsert entities: %w", err)
			}
		}

		if len(changes.Appends) > 0 {
			links := make([]schema.EntityLink, 0, len(changes.Appends))
			for _, l := range changes.Appends {
				links = append(links, schema.EntityLink{
					Kind:     l.Kind,
					EntityID: l.ID,
					Relation: l.Relation,
					Target:   l.Target,
				})
			}

			// Inserted in slice order so seq follows append order
			batchSize := calculateSafeBatchSize(len(links), 5)
			if err := tx.CreateInBatches(&links, batchSize).Error; err != nil {
				return fmt.Errorf("failed to append entity links: %w", err)
			}
		}

		if changes.Cursor != nil {
			kv := schema.KeyValueStore{
				Key:   projectionCursorKey(changes.Cursor.Name),
				Value: formatPosition(changes.Cursor.Position),
			}
			if err := tx.Save(&kv).Error; err != nil {
				return fmt.Errorf("failed to advance projection cursor: %w", err)
			}
		}

		return nil
	})
}

// GetProjectionCursor returns the position of the last committed event
func (s *pgStore) GetProjectionCursor(ctx context.Context, name string) (*domain.Position, error) {
	value, err := s.GetKeyValue(ctx, projectionCursorKey(name))
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}

	return parsePosition(value)
}

// GetRunState retrieves the state of the named projection run
func (s *pgStore) GetRunState(ctx context.Context, name string) (*RunState, error) {
	value, err := s.GetKeyValue(ctx, runStateKey(name))
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}

	var state RunState
	if err := json.Unmarshal([]byte(value), &state); err != nil {
		return nil, fmt.Errorf("failed to decode run state: %w", err)
	}

	return &state, nil
}

// SetRunState stores the state of the named projection run
func (s *pgStore) SetRunState(ctx context.Context, name string, state *RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode run state: %w", err)
	}

	return s.SetKeyValue(ctx, runStateKey(name), string(data))
}

// SetKeyValue sets a key-value pair in the key-value store
func (s *pgStore) SetKeyValue(ctx context.Context, key string, value string) error {
	kv := schema.KeyValueStore{
		Key:   key,
		Value: value,
	}

	err := s.db.WithContext(ctx).Save(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set key-value: %w", err)
	}

	return nil
}

// GetKeyValue retrieves a value by key from the key-value store
func (s *pgStore) GetKeyValue(ctx context.Context, key string) (string, error) {
	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get key-value: %w", err)
	}

	return kv.Value, nil
}
