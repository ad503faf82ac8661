package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/feral-file/ff-layer-indexer/internal/adapter"
	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/source"
)

type contractQuerier struct {
	contract common.Address
	client   adapter.EthClient
}

// NewQuerier creates a source querier that reads the artwork contract's
// state at the block of the triggering event
func NewQuerier(contractAddress string, client adapter.EthClient) source.Querier {
	return &contractQuerier{
		contract: common.HexToAddress(contractAddress),
		client:   client,
	}
}

// CurrentPermission returns the address the owner allowed to control the token
func (q *contractQuerier) CurrentPermission(ctx context.Context, tokenID string, owner string, blockNumber uint64) (*string, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id: %s", tokenID)
	}

	var permissioned common.Address
	if err := q.call(ctx, blockNumber, &permissioned, "permissionedAddress", id, common.HexToAddress(owner)); err != nil {
		return nil, err
	}

	return domain.OptionalAddress(permissioned.Hex()), nil
}

// GlobalConfig reads the contract-wide fee percentages, platform address and expected supply
func (q *contractQuerier) GlobalConfig(ctx context.Context, blockNumber uint64) (*source.GlobalSnapshot, error) {
	var artistSecond, platformFirst, platformSecond, expectedSupply *big.Int
	var platform common.Address

	reads := []struct {
		method string
		out    interface{}
	}{
		{"artistSecondSalePercentage", &artistSecond},
		{"platformFirstSalePercentage", &platformFirst},
		{"platformSecondSalePercentage", &platformSecond},
		{"platformAddress", &platform},
		{"expectedTotalSupply", &expectedSupply},
	}
	for _, r := range reads {
		if err := q.call(ctx, blockNumber, r.out, r.method); err != nil {
			return nil, err
		}
	}

	return &source.GlobalSnapshot{
		ArtistSecondSalePercentage:   domain.NewAmount(artistSecond),
		PlatformFirstSalePercentage:  domain.NewAmount(platformFirst),
		PlatformSecondSalePercentage: domain.NewAmount(platformSecond),
		PlatformAddress:              platform.Hex(),
		ExpectedTotalSupply:          domain.NewAmount(expectedSupply),
	}, nil
}

// call invokes a view function at blockNumber and unpacks its single result into out
func (q *contractQuerier) call(ctx context.Context, blockNumber uint64, out interface{}, method string, args ...interface{}) error {
	data, err := layerContractABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", method, err)
	}

	result, err := q.client.CallContract(ctx, ethereum.CallMsg{
		To:   &q.contract,
		Data: data,
	}, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return fmt.Errorf("failed to call %s at block %d: %w", method, blockNumber, err)
	}

	if err := layerContractABI.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return nil
}
