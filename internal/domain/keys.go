package domain

import "fmt"

// EntityKind names a record type in the entity store
type EntityKind string

const (
	EntityGlobalConfig      EntityKind = "GlobalConfig"
	EntityUser              EntityKind = "User"
	EntityToken             EntityKind = "Token"
	EntityTokenController   EntityKind = "TokenController"
	EntityTokenControlLever EntityKind = "TokenControlLever"
	EntityLayerUpdate       EntityKind = "LayerUpdate"
	EntityBid               EntityKind = "Bid"
	EntitySale              EntityKind = "Sale"
	EntityTokenTransfer     EntityKind = "TokenTransfer"
)

// EntityKinds lists every kind the engine writes
var EntityKinds = []EntityKind{
	EntityGlobalConfig,
	EntityUser,
	EntityToken,
	EntityTokenController,
	EntityTokenControlLever,
	EntityLayerUpdate,
	EntityBid,
	EntitySale,
	EntityTokenTransfer,
}

// IsValidEntityKind checks if a kind is one the engine writes
func IsValidEntityKind(kind EntityKind) bool {
	for _, k := range EntityKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Relation names an ordered, append-only relationship list owned by an entity
type Relation string

const (
	// Token relations
	RelationPastBids   Relation = "pastBids"
	RelationPastOwners Relation = "pastOwners"
	RelationTransfers  Relation = "transfers"
	RelationSales      Relation = "sales"

	// User relations
	RelationBids             Relation = "bids"
	RelationPurchases        Relation = "purchases"
	RelationSoldItems        Relation = "soldItems"
	RelationOwnedMasters     Relation = "ownedMasters"
	RelationOwnedControllers Relation = "ownedControllers"

	// TokenController relations
	RelationUpdates Relation = "updates"
)

// entityRelations lists the relationship lists each kind owns
var entityRelations = map[EntityKind][]Relation{
	EntityToken:           {RelationPastBids, RelationPastOwners, RelationTransfers, RelationSales},
	EntityUser:            {RelationBids, RelationPurchases, RelationSoldItems, RelationOwnedMasters, RelationOwnedControllers},
	EntityTokenController: {RelationUpdates},
}

// IsValidRelation checks if the relation is a list owned by the given kind
func IsValidRelation(kind EntityKind, relation Relation) bool {
	for _, r := range entityRelations[kind] {
		if r == relation {
			return true
		}
	}
	return false
}

// ControllerKey returns the key of a child token's controller
func ControllerKey(tokenID string) string {
	return fmt.Sprintf("%s-%s", tokenID, CONTROLLER_KEY_SUFFIX)
}

// LeverKey returns the key of a lever on a child token
func LeverKey(tokenID, leverID string) string {
	return fmt.Sprintf("%s-%s", tokenID, leverID)
}

// LayerUpdateKey returns the key of the n-th layer update of a child token
func LayerUpdateKey(tokenID string, updateNumber uint64) string {
	return fmt.Sprintf("%s-%d", tokenID, updateNumber)
}

// BidKey returns the key of a bid placed in the given transaction
func BidKey(tokenID, txHash string) string {
	return fmt.Sprintf("%s-%s", tokenID, txHash)
}

// SaleKey returns the key of the n-th sale of a token
func SaleKey(tokenID string, saleNumber uint64) string {
	return fmt.Sprintf("%s-%d", tokenID, saleNumber)
}

// TransferKey returns the key of a transfer recorded in the given transaction
func TransferKey(tokenID, txHash string) string {
	return fmt.Sprintf("%s-%s", tokenID, txHash)
}
