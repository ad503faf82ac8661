package engine

import (
	"context"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
)

// resolveUser returns the user for an address, creating it on first sight
func (e *Engine) resolveUser(ctx context.Context, u *unitOfWork, event *domain.Event, address string) (*domain.User, error) {
	id := domain.NormalizeAddress(address)

	user, err := loadEntity[domain.User](ctx, u, domain.EntityUser, id)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	user = &domain.User{
		ID:             id,
		FirstSeenAt:    event.Timestamp.UTC(),
		FirstSeenBlock: event.BlockNumber,
	}
	if err := u.save(domain.EntityUser, id, user); err != nil {
		return nil, err
	}
	return user, nil
}
