package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind represents the type of contract event consumed by the engine
type EventKind string

const (
	EventKindArtworkMinted                        EventKind = "artwork_minted"
	EventKindPlatformAddressUpdated               EventKind = "platform_address_updated"
	EventKindDefaultPlatformSalePercentageUpdated EventKind = "default_platform_sale_percentage_updated"
	EventKindArtistSecondSalePercentageUpdated    EventKind = "artist_second_sale_percentage_updated"
	EventKindPlatformSalePercentageUpdated        EventKind = "platform_sale_percentage_updated"
	EventKindCreatorWhitelisted                   EventKind = "creator_whitelisted"
	EventKindBuyPriceSet                          EventKind = "buy_price_set"
	EventKindBidProposed                          EventKind = "bid_proposed"
	EventKindBidWithdrawn                         EventKind = "bid_withdrawn"
	EventKindTokenSale                            EventKind = "token_sale"
	EventKindTransfer                             EventKind = "transfer"
	EventKindPermissionUpdated                    EventKind = "permission_updated"
	EventKindControlLeverUpdated                  EventKind = "control_lever_updated"
)

// Position orders events: block number first, then the log index inside the block
type Position struct {
	BlockNumber uint64 `json:"block_number"`
	LogIndex    uint64 `json:"log_index"`
}

// After reports whether p comes strictly after o
func (p Position) After(o Position) bool {
	if p.BlockNumber != o.BlockNumber {
		return p.BlockNumber > o.BlockNumber
	}
	return p.LogIndex > o.LogIndex
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.BlockNumber, p.LogIndex)
}

// EventPayload is the kind-specific body of an event
type EventPayload interface {
	Kind() EventKind
	Validate() error
}

// Event is a normalized contract event with its transaction metadata.
// This is the format published to NATS and consumed by the projector.
type Event struct {
	Kind      EventKind    `json:"kind"`
	Position               // block number and log index
	TxHash    string       `json:"tx_hash"`
	Timestamp time.Time    `json:"timestamp"`
	GasPrice  Amount       `json:"gas_price"`
	GasUsed   Amount       `json:"gas_used"`
	Contract  string       `json:"contract"`
	Payload   EventPayload `json:"payload"`
}

// Validate checks the envelope and the payload
func (e *Event) Validate() error {
	if e.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	}
	if e.Payload.Kind() != e.Kind {
		return fmt.Errorf("%w: payload kind %s does not match event kind %s", ErrInvalidEvent, e.Payload.Kind(), e.Kind)
	}
	if e.TxHash == "" {
		return fmt.Errorf("%w: missing tx hash", ErrInvalidEvent)
	}
	if e.GasPrice != "" && !e.GasPrice.Valid() {
		return fmt.Errorf("%w: invalid gas price %q", ErrInvalidEvent, e.GasPrice)
	}
	if e.GasUsed != "" && !e.GasUsed.Valid() {
		return fmt.Errorf("%w: invalid gas used %q", ErrInvalidEvent, e.GasUsed)
	}
	return e.Payload.Validate()
}

// MessageID returns a deterministic id for broker-side deduplication
func (e *Event) MessageID() string {
	return fmt.Sprintf("%s-%d", e.TxHash, e.LogIndex)
}

// UnmarshalJSON decodes the payload according to the event kind
func (e *Event) UnmarshalJSON(data []byte) error {
	type envelope Event
	var raw struct {
		envelope
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	payload, err := NewPayload(raw.Kind)
	if err != nil {
		return err
	}
	if len(raw.Payload) > 0 && string(raw.Payload) != "null" {
		if err := json.Unmarshal(raw.Payload, payload); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", raw.Kind, err)
		}
	}

	*e = Event(raw.envelope)
	e.Payload = payload
	return nil
}

// NewPayload returns an empty payload for the given kind
func NewPayload(kind EventKind) (EventPayload, error) {
	switch kind {
	case EventKindArtworkMinted:
		return &ArtworkMinted{}, nil
	case EventKindPlatformAddressUpdated:
		return &PlatformAddressUpdated{}, nil
	case EventKindDefaultPlatformSalePercentageUpdated:
		return &DefaultPlatformSalePercentageUpdated{}, nil
	case EventKindArtistSecondSalePercentageUpdated:
		return &ArtistSecondSalePercentageUpdated{}, nil
	case EventKindPlatformSalePercentageUpdated:
		return &PlatformSalePercentageUpdated{}, nil
	case EventKindCreatorWhitelisted:
		return &CreatorWhitelisted{}, nil
	case EventKindBuyPriceSet:
		return &BuyPriceSet{}, nil
	case EventKindBidProposed:
		return &BidProposed{}, nil
	case EventKindBidWithdrawn:
		return &BidWithdrawn{}, nil
	case EventKindTokenSale:
		return &TokenSale{}, nil
	case EventKindTransfer:
		return &Transfer{}, nil
	case EventKindPermissionUpdated:
		return &PermissionUpdated{}, nil
	case EventKindControlLeverUpdated:
		return &ControlLeverUpdated{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventKind, kind)
	}
}

// ControllerSetup describes one controller token created with its master
type ControllerSetup struct {
	Artist            string   `json:"artist"`
	LeverIDs          []string `json:"lever_ids"`
	MinValues         []Amount `json:"min_values"`
	MaxValues         []Amount `json:"max_values"`
	StartValues       []Amount `json:"start_values"`
	NumAllowedUpdates Amount   `json:"num_allowed_updates"`
}

// ArtworkMinted creates a master token and its controller tokens
type ArtworkMinted struct {
	MasterTokenID   string            `json:"master_token_id"`
	Creator         string            `json:"creator"`
	ControllerCount int               `json:"controller_count"`
	Controllers     []ControllerSetup `json:"controllers"`
}

func (ArtworkMinted) Kind() EventKind { return EventKindArtworkMinted }

func (p *ArtworkMinted) Validate() error {
	if !ValidTokenID(p.MasterTokenID) {
		return fmt.Errorf("%w: invalid master token id %q", ErrInvalidEvent, p.MasterTokenID)
	}
	if !ValidAddress(p.Creator) {
		return fmt.Errorf("%w: invalid creator %q", ErrInvalidEvent, p.Creator)
	}
	if p.ControllerCount < 0 || p.ControllerCount != len(p.Controllers) {
		return fmt.Errorf("%w: controller count %d does not match %d controller setups", ErrInvalidEvent, p.ControllerCount, len(p.Controllers))
	}
	for i, c := range p.Controllers {
		n := len(c.LeverIDs)
		if len(c.MinValues) != n || len(c.MaxValues) != n || len(c.StartValues) != n {
			return fmt.Errorf("%w: controller %d lever arrays have different lengths", ErrInvalidEvent, i)
		}
		seen := make(map[string]struct{}, n)
		for _, id := range c.LeverIDs {
			if id == "" {
				return fmt.Errorf("%w: controller %d has an empty lever id", ErrInvalidEvent, i)
			}
			if _, ok := seen[id]; ok {
				return fmt.Errorf("%w: controller %d repeats lever id %s", ErrInvalidEvent, i, id)
			}
			seen[id] = struct{}{}
		}
		if c.Artist != "" && !ValidAddress(c.Artist) {
			return fmt.Errorf("%w: controller %d has invalid artist %q", ErrInvalidEvent, i, c.Artist)
		}
	}
	return nil
}

// PlatformAddressUpdated replaces the platform payout address
type PlatformAddressUpdated struct {
	PlatformAddress string `json:"platform_address"`
}

func (PlatformAddressUpdated) Kind() EventKind { return EventKindPlatformAddressUpdated }

func (p *PlatformAddressUpdated) Validate() error {
	if !ValidAddress(p.PlatformAddress) {
		return fmt.Errorf("%w: invalid platform address %q", ErrInvalidEvent, p.PlatformAddress)
	}
	return nil
}

// DefaultPlatformSalePercentageUpdated replaces the default platform fee percentages
type DefaultPlatformSalePercentageUpdated struct {
	FirstSalePercentage  Amount `json:"first_sale_percentage"`
	SecondSalePercentage Amount `json:"second_sale_percentage"`
}

func (DefaultPlatformSalePercentageUpdated) Kind() EventKind {
	return EventKindDefaultPlatformSalePercentageUpdated
}

func (p *DefaultPlatformSalePercentageUpdated) Validate() error {
	return validateAmounts(p.FirstSalePercentage, p.SecondSalePercentage)
}

// ArtistSecondSalePercentageUpdated replaces the artist's secondary sale percentage
type ArtistSecondSalePercentageUpdated struct {
	Percentage Amount `json:"percentage"`
}

func (ArtistSecondSalePercentageUpdated) Kind() EventKind {
	return EventKindArtistSecondSalePercentageUpdated
}

func (p *ArtistSecondSalePercentageUpdated) Validate() error {
	return validateAmounts(p.Percentage)
}

// PlatformSalePercentageUpdated replaces the platform fee percentages of one token
type PlatformSalePercentageUpdated struct {
	TokenID              string `json:"token_id"`
	FirstSalePercentage  Amount `json:"first_sale_percentage"`
	SecondSalePercentage Amount `json:"second_sale_percentage"`
}

func (PlatformSalePercentageUpdated) Kind() EventKind { return EventKindPlatformSalePercentageUpdated }

func (p *PlatformSalePercentageUpdated) Validate() error {
	if err := validateTokenID(p.TokenID); err != nil {
		return err
	}
	return validateAmounts(p.FirstSalePercentage, p.SecondSalePercentage)
}

// CreatorWhitelisted reserves a master token id and its layer count for a creator
type CreatorWhitelisted struct {
	Creator       string `json:"creator"`
	MasterTokenID string `json:"master_token_id"`
	LayerCount    Amount `json:"layer_count"`
}

func (CreatorWhitelisted) Kind() EventKind { return EventKindCreatorWhitelisted }

func (p *CreatorWhitelisted) Validate() error {
	if !ValidAddress(p.Creator) {
		return fmt.Errorf("%w: invalid creator %q", ErrInvalidEvent, p.Creator)
	}
	if err := validateTokenID(p.MasterTokenID); err != nil {
		return err
	}
	return validateAmounts(p.LayerCount)
}

// BuyPriceSet sets the buy-now price of a token
type BuyPriceSet struct {
	TokenID string `json:"token_id"`
	Price   Amount `json:"price"`
}

func (BuyPriceSet) Kind() EventKind { return EventKindBuyPriceSet }

func (p *BuyPriceSet) Validate() error {
	if err := validateTokenID(p.TokenID); err != nil {
		return err
	}
	return validateAmounts(p.Price)
}

// BidProposed places a new bid on a token
type BidProposed struct {
	TokenID string `json:"token_id"`
	Bidder  string `json:"bidder"`
	Amount  Amount `json:"amount"`
}

func (BidProposed) Kind() EventKind { return EventKindBidProposed }

func (p *BidProposed) Validate() error {
	if err := validateTokenID(p.TokenID); err != nil {
		return err
	}
	if !ValidAddress(p.Bidder) {
		return fmt.Errorf("%w: invalid bidder %q", ErrInvalidEvent, p.Bidder)
	}
	return validateAmounts(p.Amount)
}

// BidWithdrawn withdraws the current bid on a token
type BidWithdrawn struct {
	TokenID string `json:"token_id"`
}

func (BidWithdrawn) Kind() EventKind { return EventKindBidWithdrawn }

func (p *BidWithdrawn) Validate() error {
	return validateTokenID(p.TokenID)
}

// TokenSale records a purchase, either buy-now or an accepted bid
type TokenSale struct {
	TokenID string `json:"token_id"`
	Buyer   string `json:"buyer"`
	Price   Amount `json:"price"`
}

func (TokenSale) Kind() EventKind { return EventKindTokenSale }

func (p *TokenSale) Validate() error {
	if err := validateTokenID(p.TokenID); err != nil {
		return err
	}
	if !ValidAddress(p.Buyer) {
		return fmt.Errorf("%w: invalid buyer %q", ErrInvalidEvent, p.Buyer)
	}
	return validateAmounts(p.Price)
}

// Transfer moves a token between addresses
type Transfer struct {
	TokenID string `json:"token_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

func (Transfer) Kind() EventKind { return EventKindTransfer }

func (p *Transfer) Validate() error {
	if err := validateTokenID(p.TokenID); err != nil {
		return err
	}
	if !ValidAddress(p.From) || !ValidAddress(p.To) {
		return fmt.Errorf("%w: invalid transfer addresses %q -> %q", ErrInvalidEvent, p.From, p.To)
	}
	return nil
}

// IsMint reports whether the transfer originates from the zero address
func (p *Transfer) IsMint() bool {
	return IsZeroAddress(p.From)
}

// PermissionUpdated grants (or revokes, with the zero address) lever control to an address
type PermissionUpdated struct {
	TokenID      string `json:"token_id"`
	Owner        string `json:"owner"`
	Permissioned string `json:"permissioned"`
}

func (PermissionUpdated) Kind() EventKind { return EventKindPermissionUpdated }

func (p *PermissionUpdated) Validate() error {
	if err := validateTokenID(p.TokenID); err != nil {
		return err
	}
	if !ValidAddress(p.Owner) || !ValidAddress(p.Permissioned) {
		return fmt.Errorf("%w: invalid permission addresses %q / %q", ErrInvalidEvent, p.Owner, p.Permissioned)
	}
	return nil
}

// ControlLeverUpdated applies one batch of lever changes to a controller token
type ControlLeverUpdated struct {
	TokenID             string   `json:"token_id"`
	PriorityTip         Amount   `json:"priority_tip"`
	NumRemainingUpdates Amount   `json:"num_remaining_updates"`
	LeverIDs            []string `json:"lever_ids"`
	PreviousValues      []Amount `json:"previous_values"`
	UpdatedValues       []Amount `json:"updated_values"`
}

func (ControlLeverUpdated) Kind() EventKind { return EventKindControlLeverUpdated }

func (p *ControlLeverUpdated) Validate() error {
	if err := validateTokenID(p.TokenID); err != nil {
		return err
	}
	if len(p.LeverIDs) == 0 {
		return fmt.Errorf("%w: no levers in update", ErrInvalidEvent)
	}
	if len(p.PreviousValues) != len(p.LeverIDs) || len(p.UpdatedValues) != len(p.LeverIDs) {
		return fmt.Errorf("%w: lever arrays have different lengths (%d ids, %d previous, %d updated)",
			ErrInvalidEvent, len(p.LeverIDs), len(p.PreviousValues), len(p.UpdatedValues))
	}
	if err := validateAmounts(p.PreviousValues...); err != nil {
		return err
	}
	if err := validateAmounts(p.UpdatedValues...); err != nil {
		return err
	}
	if p.PriorityTip != "" && !p.PriorityTip.Valid() {
		return fmt.Errorf("%w: invalid priority tip %q", ErrInvalidEvent, p.PriorityTip)
	}
	return nil
}

func validateTokenID(tokenID string) error {
	if !ValidTokenID(tokenID) {
		return fmt.Errorf("%w: invalid token id %q", ErrInvalidEvent, tokenID)
	}
	return nil
}

func validateAmounts(amounts ...Amount) error {
	for _, a := range amounts {
		if !a.Valid() {
			return fmt.Errorf("%w: invalid amount %q", ErrInvalidEvent, a)
		}
	}
	return nil
}
