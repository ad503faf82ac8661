package rest

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/feral-file/ff-layer-indexer/internal/api/shared/constants"
)

// GetLinksQueryParams holds query parameters for GET /entities/:kind/:id/links/:relation
type GetLinksQueryParams struct {
	Limit  int `form:"limit,default=50"`
	Offset int `form:"offset,default=0"`
}

// Validate checks the pagination bounds
func (p *GetLinksQueryParams) Validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", p.Limit)
	}
	if p.Offset < 0 {
		return fmt.Errorf("offset must not be negative, got %d", p.Offset)
	}
	return nil
}

// ParseGetLinksQuery parses query parameters for GET /entities/:kind/:id/links/:relation
func ParseGetLinksQuery(c *gin.Context) (*GetLinksQueryParams, error) {
	params := GetLinksQueryParams{
		Limit:  constants.DEFAULT_LINKS_LIMIT,
		Offset: constants.DEFAULT_OFFSET,
	}
	if err := c.ShouldBindQuery(&params); err != nil {
		return nil, err
	}

	// Cap limits
	if params.Limit > constants.MAX_LINKS_LIMIT {
		params.Limit = constants.MAX_LINKS_LIMIT
	}

	return &params, nil
}
