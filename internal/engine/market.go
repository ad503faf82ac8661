package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
)

// handleBidProposed supersedes the current bid, if any, and attaches the new one
func (e *Engine) handleBidProposed(ctx context.Context, u *unitOfWork, event *domain.Event, p *domain.BidProposed) error {
	token, err := e.requireToken(ctx, u, event, p.TokenID)
	if err != nil {
		return err
	}

	bidder, err := e.resolveUser(ctx, u, event, p.Bidder)
	if err != nil {
		return err
	}

	// The superseded bid is archived before the new one is attached
	if _, err := e.archiveCurrentBid(ctx, u, event, token); err != nil {
		return err
	}

	bid := &domain.Bid{
		ID:        domain.BidKey(token.ID, event.TxHash),
		TokenID:   token.ID,
		Bidder:    bidder.ID,
		Amount:    p.Amount.Normalize(),
		Timestamp: event.Timestamp.UTC(),
		Active:    true,
		TxHash:    event.TxHash,
	}
	if err := u.save(domain.EntityBid, bid.ID, bid); err != nil {
		return err
	}
	u.appendLink(domain.EntityUser, bidder.ID, domain.RelationBids, bid.ID)

	bidID := bid.ID
	token.CurrentBid = &bidID
	if err := u.save(domain.EntityToken, token.ID, token); err != nil {
		return err
	}

	return e.reconcile(ctx, u, token.ID)
}

// handleBidWithdrawn deactivates the current bid. Withdrawing when no bid is
// active is logged and otherwise ignored.
func (e *Engine) handleBidWithdrawn(ctx context.Context, u *unitOfWork, event *domain.Event, p *domain.BidWithdrawn) error {
	token, err := e.requireToken(ctx, u, event, p.TokenID)
	if err != nil {
		return err
	}

	if token.CurrentBid == nil {
		logger.ErrorEvent(ctx, eventInfo(event), fmt.Errorf("bid withdrawn on token %s without an active bid", token.ID))
		return nil
	}

	bid, err := e.requireBid(ctx, u, event, *token.CurrentBid)
	if err != nil {
		return err
	}

	withdrawnAt := event.Timestamp.UTC()
	bid.Active = false
	bid.WithdrawnAt = &withdrawnAt
	if err := u.save(domain.EntityBid, bid.ID, bid); err != nil {
		return err
	}
	u.appendLink(domain.EntityToken, token.ID, domain.RelationPastBids, bid.ID)

	token.CurrentBid = nil
	if err := u.save(domain.EntityToken, token.ID, token); err != nil {
		return err
	}

	return e.reconcile(ctx, u, token.ID)
}

// handleTokenSale records a sale. It is a bid sale only when the current bid
// matches both the sale price and the buyer; any other bid is archived unaccepted.
// A bid already archived by the Transfer of the same transaction is settled the same way.
func (e *Engine) handleTokenSale(ctx context.Context, u *unitOfWork, event *domain.Event, p *domain.TokenSale) error {
	token, err := e.requireToken(ctx, u, event, p.TokenID)
	if err != nil {
		return err
	}

	cfg, err := e.getOrInitConfig(ctx, u, event)
	if err != nil {
		return err
	}

	buyer, err := e.resolveUser(ctx, u, event, p.Buyer)
	if err != nil {
		return err
	}

	// The contract emits the Transfer of a sale before the TokenSale, so by now
	// the owner may already be the buyer. The seller is then the sender of that transfer.
	seller := token.Owner
	transfer, err := loadEntity[domain.TokenTransfer](ctx, u, domain.EntityTokenTransfer, domain.TransferKey(token.ID, event.TxHash))
	if err != nil {
		return err
	}
	if transfer != nil && transfer.To == buyer.ID {
		seller = transfer.From
	} else {
		transfer = nil
	}
	if !domain.IsZeroAddress(seller) {
		if _, err := e.resolveUser(ctx, u, event, seller); err != nil {
			return err
		}
	}

	price := p.Price.Normalize()
	token.NumberOfSales++
	sale := &domain.Sale{
		ID:              domain.SaleKey(token.ID, token.NumberOfSales),
		TokenID:         token.ID,
		Buyer:           buyer.ID,
		Seller:          seller,
		Price:           price,
		Timestamp:       event.Timestamp.UTC(),
		TokenSaleNumber: token.NumberOfSales,
		IsFirstSale:     !token.HasHadFirstSale,
		TxHash:          event.TxHash,
	}

	switch {
	case token.CurrentBid != nil:
		bid, err := e.requireBid(ctx, u, event, *token.CurrentBid)
		if err != nil {
			return err
		}
		settleBid(sale, bid, price, buyer.ID)

		bid.Active = false
		if err := u.save(domain.EntityBid, bid.ID, bid); err != nil {
			return err
		}
		u.appendLink(domain.EntityToken, token.ID, domain.RelationPastBids, bid.ID)
		token.CurrentBid = nil
	case transfer != nil && transfer.ArchivedBid != nil:
		// Already archived by the transfer; only acceptance is left to decide
		bid, err := e.requireBid(ctx, u, event, *transfer.ArchivedBid)
		if err != nil {
			return err
		}
		if settleBid(sale, bid, price, buyer.ID) {
			if err := u.save(domain.EntityBid, bid.ID, bid); err != nil {
				return err
			}
		}
	default:
		logger.DebugCtx(ctx, "Sale without a standing bid", zap.String("token_id", token.ID))
	}

	if err := u.save(domain.EntitySale, sale.ID, sale); err != nil {
		return err
	}
	u.appendLink(domain.EntityToken, token.ID, domain.RelationSales, sale.ID)
	u.appendLink(domain.EntityUser, buyer.ID, domain.RelationPurchases, sale.ID)
	if !domain.IsZeroAddress(seller) {
		u.appendLink(domain.EntityUser, seller, domain.RelationSoldItems, sale.ID)
	}

	if token.Owner != buyer.ID {
		if err := e.changeOwner(ctx, u, event, token, buyer.ID); err != nil {
			return err
		}
	}
	token.BuyPrice = domain.ZeroAmount
	token.HasHadFirstSale = true
	token.LastSalePrice = price

	// A buyback can keep an earlier grant, so ask the source instead of clearing it
	permissioned, err := e.querier.CurrentPermission(ctx, token.ID, buyer.ID, event.BlockNumber)
	if err != nil {
		if domain.IsRetryable(err) {
			return err
		}
		return domain.NewUpstreamError("currentPermission", err)
	}
	token.PermissionedAddress = nil
	if permissioned != nil {
		token.PermissionedAddress = domain.OptionalAddress(*permissioned)
	}

	if err := u.save(domain.EntityToken, token.ID, token); err != nil {
		return err
	}

	cfg.TotalSaleAmount = cfg.TotalSaleAmount.Add(price)
	if err := u.save(domain.EntityGlobalConfig, cfg.ID, cfg); err != nil {
		return err
	}

	return e.reconcile(ctx, u, token.ID)
}

// settleBid accepts the bid when it matches both the sale price and the buyer
func settleBid(sale *domain.Sale, bid *domain.Bid, price domain.Amount, buyer string) bool {
	if !bid.Amount.Equal(price) || bid.Bidder != buyer {
		return false
	}
	bid.Accepted = true
	sale.IsBidSale = true
	bidID := bid.ID
	sale.Bid = &bidID
	return true
}

// archiveCurrentBid deactivates the current bid without accepting it and clears
// the reference. It returns the id of the archived bid, or nil when there was none.
func (e *Engine) archiveCurrentBid(ctx context.Context, u *unitOfWork, event *domain.Event, token *domain.Token) (*string, error) {
	if token.CurrentBid == nil {
		return nil, nil
	}

	bid, err := e.requireBid(ctx, u, event, *token.CurrentBid)
	if err != nil {
		return nil, err
	}

	bid.Active = false
	if err := u.save(domain.EntityBid, bid.ID, bid); err != nil {
		return nil, err
	}
	u.appendLink(domain.EntityToken, token.ID, domain.RelationPastBids, bid.ID)
	token.CurrentBid = nil

	bidID := bid.ID
	return &bidID, nil
}

// requireBid loads a bid referenced by a token. A dangling reference means an
// earlier write was lost.
func (e *Engine) requireBid(ctx context.Context, u *unitOfWork, event *domain.Event, bidID string) (*domain.Bid, error) {
	bid, err := loadEntity[domain.Bid](ctx, u, domain.EntityBid, bidID)
	if err != nil {
		return nil, err
	}
	if bid == nil {
		return nil, domain.NewConsistencyError(event, fmt.Errorf("current bid %s not found", bidID))
	}
	return bid, nil
}
