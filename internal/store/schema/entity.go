package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
)

// Entity represents the entities table - one row per projected record, keyed by kind and id
type Entity struct {
	// Kind is the entity type (Token, Bid, Sale, ...)
	Kind domain.EntityKind `gorm:"column:kind;primaryKey;type:text"`
	// ID is the deterministic key of the entity within its kind
	ID string `gorm:"column:id;primaryKey;type:text"`
	// Body is the JSON encoding of the entity
	Body datatypes.JSON `gorm:"column:body;not null;type:jsonb"`
	// CreatedAt is the timestamp when this record was first written
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this record was last written
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Entity model
func (Entity) TableName() string {
	return "entities"
}

// EntityLink represents the entity_links table - ordered, append-only relationship lists
type EntityLink struct {
	// Seq orders appends; lists are read back in ascending seq
	Seq uint64 `gorm:"column:seq;primaryKey;autoIncrement"`
	// Kind is the kind of the entity owning the list
	Kind domain.EntityKind `gorm:"column:kind;not null;type:text;index:idx_entity_links_owner,priority:1"`
	// EntityID is the id of the entity owning the list
	EntityID string `gorm:"column:entity_id;not null;type:text;index:idx_entity_links_owner,priority:2"`
	// Relation names the list (pastBids, purchases, ...)
	Relation domain.Relation `gorm:"column:relation;not null;type:text;index:idx_entity_links_owner,priority:3"`
	// Target is the id of the referenced entity
	Target string `gorm:"column:target;not null;type:text"`
	// CreatedAt is the timestamp when this link was appended
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the EntityLink model
func (EntityLink) TableName() string {
	return "entity_links"
}
