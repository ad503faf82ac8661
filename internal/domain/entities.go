package domain

import "time"

// GlobalConfig is the process-wide configuration singleton
type GlobalConfig struct {
	ID                           string  `json:"id"`
	ArtistSecondSalePercentage   Amount  `json:"artist_second_sale_percentage"`
	PlatformFirstSalePercentage  Amount  `json:"platform_first_sale_percentage"`
	PlatformSecondSalePercentage Amount  `json:"platform_second_sale_percentage"`
	PlatformAddress              *string `json:"platform_address"`
	LatestMasterTokenID          *string `json:"latest_master_token_id"`
	ExpectedTotalSupply          Amount  `json:"expected_total_supply"`
	TotalSaleAmount              Amount  `json:"total_sale_amount"`
	RefreshedAtBlock             uint64  `json:"refreshed_at_block"`
}

// User is an actor address seen in the event stream.
// Its relationship lists (bids, purchases, soldItems, ownedMasters,
// ownedControllers) live in the store's link table.
type User struct {
	ID             string    `json:"id"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	FirstSeenBlock uint64    `json:"first_seen_block"`
}

// Token is either a master artwork or one of its controller (layer) tokens
type Token struct {
	ID       string `json:"id"`
	IsMaster bool   `json:"is_master"`

	Creator             string  `json:"creator"`
	Owner               string  `json:"owner"`
	BuyPrice            Amount  `json:"buy_price"`
	CurrentBid          *string `json:"current_bid"`
	PermissionedAddress *string `json:"permissioned_address"`
	NumberOfSales       uint64  `json:"number_of_sales"`
	HasHadFirstSale     bool    `json:"has_had_first_sale"`
	LastSalePrice       Amount  `json:"last_sale_price"`

	PlatformFirstSalePercentage  Amount `json:"platform_first_sale_percentage"`
	PlatformSecondSalePercentage Amount `json:"platform_second_sale_percentage"`

	// Master-only linkage and rollups, maintained by the reconciler
	ControllerCount         int      `json:"controller_count"`
	ControllerIDs           []string `json:"controller_ids"`
	ControllersForSale      int      `json:"controllers_for_sale"`
	ControllersWithBids     int      `json:"controllers_with_bids"`
	AllControllersAtDefault bool     `json:"all_controllers_at_default"`

	// Child-only linkage, maintained by the reconciler
	MasterID        *string `json:"master_id"`
	Controller      *string `json:"controller"`
	LeversAtDefault bool    `json:"levers_at_default"`

	CreatedAt      time.Time `json:"created_at"`
	CreatedAtBlock uint64    `json:"created_at_block"`
}

// TokenController tracks the update history of a child token's levers
type TokenController struct {
	ID                       string   `json:"id"`
	TokenID                  string   `json:"token_id"`
	LeverIDs                 []string `json:"lever_ids"`
	NumberOfUpdates          uint64   `json:"number_of_updates"`
	NumberOfRemainingUpdates Amount   `json:"number_of_remaining_updates"`
	AverageUpdateCost        Amount   `json:"average_update_cost"`
	TotalUpdateCost          Amount   `json:"total_update_cost"`
	LastUpdate               *string  `json:"last_update"`
}

// TokenControlLever is one controllable parameter of a child token
type TokenControlLever struct {
	ID              string  `json:"id"`
	TokenID         string  `json:"token_id"`
	LeverID         string  `json:"lever_id"`
	MinValue        Amount  `json:"min_value"`
	MaxValue        Amount  `json:"max_value"`
	StartValue      Amount  `json:"start_value"`
	PreviousValue   Amount  `json:"previous_value"`
	CurrentValue    Amount  `json:"current_value"`
	NumberOfUpdates uint64  `json:"number_of_updates"`
	LatestUpdate    *string `json:"latest_update"`
}

// AtDefault reports whether the lever still holds its start value
func (l *TokenControlLever) AtDefault() bool {
	return l.CurrentValue.Equal(l.StartValue)
}

// LayerUpdate is one batch of lever changes applied in a single transaction
type LayerUpdate struct {
	ID           string    `json:"id"`
	TokenID      string    `json:"token_id"`
	Controller   string    `json:"controller"`
	UpdateNumber uint64    `json:"update_number"`
	GasPrice     Amount    `json:"gas_price"`
	GasUsed      Amount    `json:"gas_used"`
	Cost         Amount    `json:"cost"`
	PriorityTip  Amount    `json:"priority_tip"`
	Levers       []string  `json:"levers"`
	TxHash       string    `json:"tx_hash"`
	BlockNumber  uint64    `json:"block_number"`
	Timestamp    time.Time `json:"timestamp"`
}

// Bid is a standing offer to buy a token
type Bid struct {
	ID          string     `json:"id"`
	TokenID     string     `json:"token_id"`
	Bidder      string     `json:"bidder"`
	Amount      Amount     `json:"amount"`
	Timestamp   time.Time  `json:"timestamp"`
	Active      bool       `json:"active"`
	Accepted    bool       `json:"accepted"`
	WithdrawnAt *time.Time `json:"withdrawn_at"`
	TxHash      string     `json:"tx_hash"`
}

// Sale records a completed purchase of a token
type Sale struct {
	ID              string    `json:"id"`
	TokenID         string    `json:"token_id"`
	Buyer           string    `json:"buyer"`
	Seller          string    `json:"seller"`
	Price           Amount    `json:"price"`
	Timestamp       time.Time `json:"timestamp"`
	TokenSaleNumber uint64    `json:"token_sale_number"`
	IsBidSale       bool      `json:"is_bid_sale"`
	IsFirstSale     bool      `json:"is_first_sale"`
	Bid             *string   `json:"bid"`
	TxHash          string    `json:"tx_hash"`
}

// TokenTransfer is an ownership-change audit record
type TokenTransfer struct {
	ID          string    `json:"id"`
	TokenID     string    `json:"token_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Timestamp   time.Time `json:"timestamp"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	// ArchivedBid is the bid this transfer took off the token, settled by a
	// sale later in the same transaction
	ArchivedBid *string `json:"archived_bid,omitempty"`
}
