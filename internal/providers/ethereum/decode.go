package ethereum

import (
	"fmt"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
)

// decodePayload builds the typed payload of an event kind from its arguments
func decodePayload(kind domain.EventKind, args eventArgs) (domain.EventPayload, error) {
	switch kind {
	case domain.EventKindArtworkMinted:
		return decodeArtworkMinted(args)

	case domain.EventKindPlatformAddressUpdated:
		platform, err := args.address("platformAddress")
		if err != nil {
			return nil, err
		}
		return &domain.PlatformAddressUpdated{PlatformAddress: platform}, nil

	case domain.EventKindDefaultPlatformSalePercentageUpdated:
		first, err := args.amount("firstSalePercentage")
		if err != nil {
			return nil, err
		}
		second, err := args.amount("secondSalePercentage")
		if err != nil {
			return nil, err
		}
		return &domain.DefaultPlatformSalePercentageUpdated{FirstSalePercentage: first, SecondSalePercentage: second}, nil

	case domain.EventKindArtistSecondSalePercentageUpdated:
		percentage, err := args.amount("percentage")
		if err != nil {
			return nil, err
		}
		return &domain.ArtistSecondSalePercentageUpdated{Percentage: percentage}, nil

	case domain.EventKindPlatformSalePercentageUpdated:
		tokenID, err := args.tokenID("tokenId")
		if err != nil {
			return nil, err
		}
		first, err := args.amount("firstSalePercentage")
		if err != nil {
			return nil, err
		}
		second, err := args.amount("secondSalePercentage")
		if err != nil {
			return nil, err
		}
		return &domain.PlatformSalePercentageUpdated{TokenID: tokenID, FirstSalePercentage: first, SecondSalePercentage: second}, nil

	case domain.EventKindCreatorWhitelisted:
		creator, err := args.address("creator")
		if err != nil {
			return nil, err
		}
		masterID, err := args.tokenID("masterTokenId")
		if err != nil {
			return nil, err
		}
		layerCount, err := args.amount("layerCount")
		if err != nil {
			return nil, err
		}
		return &domain.CreatorWhitelisted{Creator: creator, MasterTokenID: masterID, LayerCount: layerCount}, nil

	case domain.EventKindBuyPriceSet:
		tokenID, err := args.tokenID("tokenId")
		if err != nil {
			return nil, err
		}
		price, err := args.amount("price")
		if err != nil {
			return nil, err
		}
		return &domain.BuyPriceSet{TokenID: tokenID, Price: price}, nil

	case domain.EventKindBidProposed:
		tokenID, err := args.tokenID("tokenId")
		if err != nil {
			return nil, err
		}
		bidder, err := args.address("bidder")
		if err != nil {
			return nil, err
		}
		amount, err := args.amount("amount")
		if err != nil {
			return nil, err
		}
		return &domain.BidProposed{TokenID: tokenID, Bidder: bidder, Amount: amount}, nil

	case domain.EventKindBidWithdrawn:
		tokenID, err := args.tokenID("tokenId")
		if err != nil {
			return nil, err
		}
		return &domain.BidWithdrawn{TokenID: tokenID}, nil

	case domain.EventKindTokenSale:
		tokenID, err := args.tokenID("tokenId")
		if err != nil {
			return nil, err
		}
		buyer, err := args.address("buyer")
		if err != nil {
			return nil, err
		}
		price, err := args.amount("price")
		if err != nil {
			return nil, err
		}
		return &domain.TokenSale{TokenID: tokenID, Buyer: buyer, Price: price}, nil

	case domain.EventKindTransfer:
		tokenID, err := args.tokenID("tokenId")
		if err != nil {
			return nil, err
		}
		from, err := args.address("from")
		if err != nil {
			return nil, err
		}
		to, err := args.address("to")
		if err != nil {
			return nil, err
		}
		return &domain.Transfer{TokenID: tokenID, From: from, To: to}, nil

	case domain.EventKindPermissionUpdated:
		tokenID, err := args.tokenID("tokenId")
		if err != nil {
			return nil, err
		}
		owner, err := args.address("owner")
		if err != nil {
			return nil, err
		}
		permissioned, err := args.address("permissioned")
		if err != nil {
			return nil, err
		}
		return &domain.PermissionUpdated{TokenID: tokenID, Owner: owner, Permissioned: permissioned}, nil

	case domain.EventKindControlLeverUpdated:
		return decodeControlLeverUpdated(args)

	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEventKind, kind)
	}
}

func decodeArtworkMinted(args eventArgs) (domain.EventPayload, error) {
	masterID, err := args.tokenID("masterTokenId")
	if err != nil {
		return nil, err
	}
	creator, err := args.address("creator")
	if err != nil {
		return nil, err
	}
	artists, err := args.addresses("artists")
	if err != nil {
		return nil, err
	}
	leverIDs, err := args.amountMatrix("leverIds")
	if err != nil {
		return nil, err
	}
	minValues, err := args.amountMatrix("minValues")
	if err != nil {
		return nil, err
	}
	maxValues, err := args.amountMatrix("maxValues")
	if err != nil {
		return nil, err
	}
	startValues, err := args.amountMatrix("startValues")
	if err != nil {
		return nil, err
	}
	allowedUpdates, err := args.amounts("numAllowedUpdates")
	if err != nil {
		return nil, err
	}

	n := len(artists)
	if len(leverIDs) != n || len(minValues) != n || len(maxValues) != n || len(startValues) != n || len(allowedUpdates) != n {
		return nil, fmt.Errorf("%w: controller setup arrays have different lengths", domain.ErrInvalidEvent)
	}

	controllers := make([]domain.ControllerSetup, n)
	for i := range artists {
		controllers[i] = domain.ControllerSetup{
			Artist:            artists[i],
			LeverIDs:          toStrings(leverIDs[i]),
			MinValues:         minValues[i],
			MaxValues:         maxValues[i],
			StartValues:       startValues[i],
			NumAllowedUpdates: allowedUpdates[i],
		}
	}

	return &domain.ArtworkMinted{
		MasterTokenID:   masterID,
		Creator:         creator,
		ControllerCount: n,
		Controllers:     controllers,
	}, nil
}

func decodeControlLeverUpdated(args eventArgs) (domain.EventPayload, error) {
	tokenID, err := args.tokenID("tokenId")
	if err != nil {
		return nil, err
	}
	priorityTip, err := args.amount("priorityTip")
	if err != nil {
		return nil, err
	}
	remaining, err := args.amount("numRemainingUpdates")
	if err != nil {
		return nil, err
	}
	leverIDs, err := args.amounts("leverIds")
	if err != nil {
		return nil, err
	}
	previous, err := args.amounts("previousValues")
	if err != nil {
		return nil, err
	}
	updated, err := args.amounts("updatedValues")
	if err != nil {
		return nil, err
	}

	return &domain.ControlLeverUpdated{
		TokenID:             tokenID,
		PriorityTip:         priorityTip,
		NumRemainingUpdates: remaining,
		LeverIDs:            toStrings(leverIDs),
		PreviousValues:      previous,
		UpdatedValues:       updated,
	}, nil
}
