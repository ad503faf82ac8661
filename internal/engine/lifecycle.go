package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
)

// handleArtworkMinted creates the master token, its controller tokens and
// their controllers and levers. Controller ids follow the master id.
func (e *Engine) handleArtworkMinted(ctx context.Context, u *unitOfWork, event *domain.Event, p *domain.ArtworkMinted) error {
	cfg, err := e.getOrInitConfig(ctx, u, event)
	if err != nil {
		return err
	}

	childIDs, err := domain.ControllerTokenIDs(p.MasterTokenID, p.ControllerCount)
	if err != nil {
		return domain.NewConsistencyError(event, err)
	}

	existing, err := loadEntity[domain.Token](ctx, u, domain.EntityToken, p.MasterTokenID)
	if err != nil {
		return err
	}
	if existing != nil {
		logger.WarnEvent(ctx, eventInfo(event), "Master token already exists, overwriting",
			zap.String("token_id", p.MasterTokenID))
	}

	creator, err := e.resolveUser(ctx, u, event, p.Creator)
	if err != nil {
		return err
	}

	timestamp := event.Timestamp.UTC()
	master := &domain.Token{
		ID:                           p.MasterTokenID,
		IsMaster:                     true,
		Creator:                      creator.ID,
		Owner:                        creator.ID,
		BuyPrice:                     domain.ZeroAmount,
		LastSalePrice:                domain.ZeroAmount,
		PlatformFirstSalePercentage:  cfg.PlatformFirstSalePercentage,
		PlatformSecondSalePercentage: cfg.PlatformSecondSalePercentage,
		ControllerCount:              p.ControllerCount,
		ControllerIDs:                childIDs,
		AllControllersAtDefault:      true,
		CreatedAt:                    timestamp,
		CreatedAtBlock:               event.BlockNumber,
	}
	if err := u.save(domain.EntityToken, master.ID, master); err != nil {
		return err
	}
	u.appendLink(domain.EntityUser, creator.ID, domain.RelationOwnedMasters, master.ID)

	for i, childID := range childIDs {
		if err := e.createControllerToken(ctx, u, event, cfg, master, childID, p.Controllers[i]); err != nil {
			return err
		}
	}

	masterID := master.ID
	cfg.LatestMasterTokenID = &masterID
	if err := u.save(domain.EntityGlobalConfig, cfg.ID, cfg); err != nil {
		return err
	}

	return e.reconcile(ctx, u, master.ID)
}

func (e *Engine) createControllerToken(ctx context.Context, u *unitOfWork, event *domain.Event, cfg *domain.GlobalConfig, master *domain.Token, tokenID string, setup domain.ControllerSetup) error {
	artistAddress := setup.Artist
	if artistAddress == "" || domain.IsZeroAddress(artistAddress) {
		artistAddress = master.Creator
	}
	artist, err := e.resolveUser(ctx, u, event, artistAddress)
	if err != nil {
		return err
	}

	masterID := master.ID
	controllerKey := domain.ControllerKey(tokenID)
	child := &domain.Token{
		ID:                           tokenID,
		IsMaster:                     false,
		Creator:                      artist.ID,
		Owner:                        artist.ID,
		BuyPrice:                     domain.ZeroAmount,
		LastSalePrice:                domain.ZeroAmount,
		PlatformFirstSalePercentage:  cfg.PlatformFirstSalePercentage,
		PlatformSecondSalePercentage: cfg.PlatformSecondSalePercentage,
		MasterID:                     &masterID,
		Controller:                   &controllerKey,
		LeversAtDefault:              true,
		CreatedAt:                    event.Timestamp.UTC(),
		CreatedAtBlock:               event.BlockNumber,
	}
	if err := u.save(domain.EntityToken, child.ID, child); err != nil {
		return err
	}
	u.appendLink(domain.EntityUser, artist.ID, domain.RelationOwnedControllers, child.ID)

	controller := &domain.TokenController{
		ID:                       controllerKey,
		TokenID:                  tokenID,
		LeverIDs:                 append([]string{}, setup.LeverIDs...),
		NumberOfRemainingUpdates: setup.NumAllowedUpdates.Normalize(),
		AverageUpdateCost:        domain.ZeroAmount,
		TotalUpdateCost:          domain.ZeroAmount,
	}
	if err := u.save(domain.EntityTokenController, controller.ID, controller); err != nil {
		return err
	}

	for i, leverID := range setup.LeverIDs {
		start := setup.StartValues[i].Normalize()
		lever := &domain.TokenControlLever{
			ID:            domain.LeverKey(tokenID, leverID),
			TokenID:       tokenID,
			LeverID:       leverID,
			MinValue:      setup.MinValues[i].Normalize(),
			MaxValue:      setup.MaxValues[i].Normalize(),
			StartValue:    start,
			PreviousValue: start,
			CurrentValue:  start,
		}
		if err := u.save(domain.EntityTokenControlLever, lever.ID, lever); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) handleBuyPriceSet(ctx context.Context, u *unitOfWork, event *domain.Event, p *domain.BuyPriceSet) error {
	token, err := e.requireToken(ctx, u, event, p.TokenID)
	if err != nil {
		return err
	}

	token.BuyPrice = p.Price.Normalize()
	if err := u.save(domain.EntityToken, token.ID, token); err != nil {
		return err
	}

	return e.reconcile(ctx, u, token.ID)
}

func (e *Engine) handlePlatformSalePercentageUpdated(ctx context.Context, u *unitOfWork, event *domain.Event, p *domain.PlatformSalePercentageUpdated) error {
	token, err := e.requireToken(ctx, u, event, p.TokenID)
	if err != nil {
		return err
	}

	token.PlatformFirstSalePercentage = p.FirstSalePercentage.Normalize()
	token.PlatformSecondSalePercentage = p.SecondSalePercentage.Normalize()
	return u.save(domain.EntityToken, token.ID, token)
}

// handlePermissionUpdated records the address the owner allowed to move the
// token's levers. The zero address revokes the grant.
func (e *Engine) handlePermissionUpdated(ctx context.Context, u *unitOfWork, event *domain.Event, p *domain.PermissionUpdated) error {
	token, err := e.requireToken(ctx, u, event, p.TokenID)
	if err != nil {
		return err
	}

	if owner := domain.NormalizeAddress(p.Owner); owner != token.Owner {
		logger.WarnEvent(ctx, eventInfo(event), "Permission granted by an address that is not the recorded owner",
			zap.String("token_id", token.ID),
			zap.String("granter", owner),
			zap.String("owner", token.Owner))
	}

	token.PermissionedAddress = domain.OptionalAddress(p.Permissioned)
	return u.save(domain.EntityToken, token.ID, token)
}

// handleTransfer records the transfer, moves ownership when it changes, resets
// the buy price and archives the current bid
func (e *Engine) handleTransfer(ctx context.Context, u *unitOfWork, event *domain.Event, p *domain.Transfer) error {
	token, err := loadEntity[domain.Token](ctx, u, domain.EntityToken, p.TokenID)
	if err != nil {
		return err
	}
	if token == nil {
		if p.IsMint() {
			// Mint transfers are emitted before the creation event
			logger.InfoEvent(ctx, eventInfo(event), "Skipping mint transfer of a token not created yet",
				zap.String("token_id", p.TokenID))
			return nil
		}
		return domain.NewConsistencyError(event, fmt.Errorf("%w: %s", domain.ErrTokenNotFound, p.TokenID))
	}

	from := domain.NormalizeAddress(p.From)
	to := domain.NormalizeAddress(p.To)
	if !domain.IsZeroAddress(from) {
		if _, err := e.resolveUser(ctx, u, event, from); err != nil {
			return err
		}
	}

	transfer := &domain.TokenTransfer{
		ID:          domain.TransferKey(token.ID, event.TxHash),
		TokenID:     token.ID,
		From:        from,
		To:          to,
		Timestamp:   event.Timestamp.UTC(),
		TxHash:      event.TxHash,
		BlockNumber: event.BlockNumber,
	}
	u.appendLink(domain.EntityToken, token.ID, domain.RelationTransfers, transfer.ID)

	if token.Owner != to {
		if err := e.changeOwner(ctx, u, event, token, to); err != nil {
			return err
		}
	}

	token.BuyPrice = domain.ZeroAmount
	transfer.ArchivedBid, err = e.archiveCurrentBid(ctx, u, event, token)
	if err != nil {
		return err
	}
	if err := u.save(domain.EntityTokenTransfer, transfer.ID, transfer); err != nil {
		return err
	}

	if err := u.save(domain.EntityToken, token.ID, token); err != nil {
		return err
	}

	return e.reconcile(ctx, u, token.ID)
}

// changeOwner moves the token to a new owner and records the previous one
func (e *Engine) changeOwner(ctx context.Context, u *unitOfWork, event *domain.Event, token *domain.Token, newOwner string) error {
	if token.Owner != "" {
		u.appendLink(domain.EntityToken, token.ID, domain.RelationPastOwners, token.Owner)
	}
	token.Owner = newOwner

	if domain.IsZeroAddress(newOwner) {
		return nil
	}

	owner, err := e.resolveUser(ctx, u, event, newOwner)
	if err != nil {
		return err
	}
	u.appendLink(domain.EntityUser, owner.ID, ownedRelation(token), token.ID)
	return nil
}

func ownedRelation(token *domain.Token) domain.Relation {
	if token.IsMaster {
		return domain.RelationOwnedMasters
	}
	return domain.RelationOwnedControllers
}
