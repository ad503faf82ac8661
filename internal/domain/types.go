package domain

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Chain represents the blockchain network identifier using CAIP-2 format
type Chain string

const (
	ChainEthereumMainnet Chain = "eip155:1"
	ChainEthereumSepolia Chain = "eip155:11155111"
)

// IsValidChain checks if a chain is valid
func IsValidChain(chain Chain) bool {
	return chain == ChainEthereumMainnet || chain == ChainEthereumSepolia
}

var tokenIDPattern = regexp.MustCompile(`^[0-9]+$`)

// ValidTokenID checks that a token id is a non-empty decimal number
func ValidTokenID(tokenID string) bool {
	return tokenIDPattern.MatchString(tokenID)
}

// TokenIDOffset returns the id of the token `offset` positions after tokenID.
// Controller tokens of a master occupy the contiguous range after the master id.
func TokenIDOffset(tokenID string, offset int) (string, error) {
	v, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return "", fmt.Errorf("invalid token id: %s", tokenID)
	}
	return v.Add(v, big.NewInt(int64(offset))).String(), nil
}

// ControllerTokenIDs returns the ids of the n controller tokens owned by a master
func ControllerTokenIDs(masterID string, n int) ([]string, error) {
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id, err := TokenIDOffset(masterID, i)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// NormalizeAddress normalizes an address to its checksummed form
func NormalizeAddress(address string) string {
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return common.HexToAddress(address).Hex()
	}
	return address
}

// IsZeroAddress reports whether an address is empty or the zero address
func IsZeroAddress(address string) bool {
	return address == "" || NormalizeAddress(address) == ETHEREUM_ZERO_ADDRESS
}

// ValidAddress checks if a string is a valid hex address
func ValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// OptionalAddress returns nil for the zero address and the normalized address otherwise
func OptionalAddress(address string) *string {
	if IsZeroAddress(address) {
		return nil
	}
	normalized := NormalizeAddress(address)
	return &normalized
}
