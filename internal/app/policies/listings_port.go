package policies

import (
	"context"
	"errors"
)

var ErrListingNotFound = errors.New("policies: listing not found")

// ListingSummary is what the listing collaborator exposes for display and
// the existence check.
type ListingSummary struct {
	ID      string
	OwnerID string
	Title   string
	Slug    string
}

// ListingsPort resolves a listing. Returns ErrListingNotFound when the
// listing was deleted; message creation against such a listing is rejected.
type ListingsPort interface {
	ByID(ctx context.Context, listingID string) (ListingSummary, error)
}
