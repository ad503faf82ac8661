package ethereum

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
)

//go:embed layer_contract.abi.json
var layerContractABIJSON string

// layerContractABI holds the events and read-only functions of the artwork contract
var layerContractABI = mustParseABI(layerContractABIJSON)

// eventKinds maps contract event names to the kinds the engine consumes
var eventKinds = map[string]domain.EventKind{
	"ArtworkMinted":                        domain.EventKindArtworkMinted,
	"PlatformAddressUpdated":               domain.EventKindPlatformAddressUpdated,
	"DefaultPlatformSalePercentageUpdated": domain.EventKindDefaultPlatformSalePercentageUpdated,
	"ArtistSecondSalePercentageUpdated":    domain.EventKindArtistSecondSalePercentageUpdated,
	"PlatformSalePercentageUpdated":        domain.EventKindPlatformSalePercentageUpdated,
	"CreatorWhitelisted":                   domain.EventKindCreatorWhitelisted,
	"BuyPriceSet":                          domain.EventKindBuyPriceSet,
	"BidProposed":                          domain.EventKindBidProposed,
	"BidWithdrawn":                         domain.EventKindBidWithdrawn,
	"TokenSale":                            domain.EventKindTokenSale,
	"Transfer":                             domain.EventKindTransfer,
	"PermissionUpdated":                    domain.EventKindPermissionUpdated,
	"ControlLeverUpdated":                  domain.EventKindControlLeverUpdated,
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid layer contract ABI: %v", err))
	}
	return parsed
}

// eventTopics returns the topic0 hashes of every event the engine consumes
func eventTopics() []common.Hash {
	topics := make([]common.Hash, 0, len(eventKinds))
	for name := range eventKinds {
		topics = append(topics, layerContractABI.Events[name].ID)
	}
	return topics
}

// eventArgs holds the decoded indexed and non-indexed arguments of a log
type eventArgs map[string]interface{}

func (a eventArgs) big(name string) (*big.Int, error) {
	v, ok := a[name].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("argument %s: expected uint256, got %T", name, a[name])
	}
	return v, nil
}

func (a eventArgs) amount(name string) (domain.Amount, error) {
	v, err := a.big(name)
	if err != nil {
		return "", err
	}
	return domain.NewAmount(v), nil
}

func (a eventArgs) tokenID(name string) (string, error) {
	v, err := a.big(name)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (a eventArgs) address(name string) (string, error) {
	v, ok := a[name].(common.Address)
	if !ok {
		return "", fmt.Errorf("argument %s: expected address, got %T", name, a[name])
	}
	return v.Hex(), nil
}

func (a eventArgs) addresses(name string) ([]string, error) {
	v, ok := a[name].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("argument %s: expected address[], got %T", name, a[name])
	}
	out := make([]string, len(v))
	for i, addr := range v {
		out[i] = addr.Hex()
	}
	return out, nil
}

func (a eventArgs) amounts(name string) ([]domain.Amount, error) {
	v, ok := a[name].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("argument %s: expected integer array, got %T", name, a[name])
	}
	return toAmounts(v), nil
}

func (a eventArgs) amountMatrix(name string) ([][]domain.Amount, error) {
	v, ok := a[name].([][]*big.Int)
	if !ok {
		return nil, fmt.Errorf("argument %s: expected nested integer array, got %T", name, a[name])
	}
	out := make([][]domain.Amount, len(v))
	for i, row := range v {
		out[i] = toAmounts(row)
	}
	return out, nil
}

func toAmounts(values []*big.Int) []domain.Amount {
	out := make([]domain.Amount, len(values))
	for i, v := range values {
		out[i] = domain.NewAmount(v)
	}
	return out
}

func toStrings(values []domain.Amount) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}
