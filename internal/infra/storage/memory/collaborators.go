package memory

import (
	"context"
	"sync"

	"marketchat/internal/app/policies"
)

// ListingDirectory is an in-memory listing collaborator, used for local
// runs and tests in place of the real listing service.
type ListingDirectory struct {
	mu    sync.RWMutex
	items map[string]policies.ListingSummary
}

func NewListingDirectory() *ListingDirectory {
	return &ListingDirectory{items: make(map[string]policies.ListingSummary)}
}

func (d *ListingDirectory) Put(listing policies.ListingSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[listing.ID] = listing
}

func (d *ListingDirectory) Remove(listingID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, listingID)
}

func (d *ListingDirectory) ByID(ctx context.Context, listingID string) (policies.ListingSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	listing, ok := d.items[listingID]
	if !ok {
		return policies.ListingSummary{}, policies.ErrListingNotFound
	}
	return listing, nil
}

// ProfileDirectory is an in-memory profile collaborator.
type ProfileDirectory struct {
	mu    sync.RWMutex
	items map[string]policies.CounterpartProfile
}

func NewProfileDirectory() *ProfileDirectory {
	return &ProfileDirectory{items: make(map[string]policies.CounterpartProfile)}
}

func (d *ProfileDirectory) Put(profile policies.CounterpartProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[profile.ID] = profile
}

func (d *ProfileDirectory) Batch(ctx context.Context, userIDs []string) (map[string]policies.CounterpartProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]policies.CounterpartProfile, len(userIDs))
	for _, id := range userIDs {
		if profile, ok := d.items[id]; ok {
			out[id] = profile
		}
	}
	return out, nil
}

var _ policies.ListingsPort = (*ListingDirectory)(nil)
var _ policies.ProfilesPort = (*ProfileDirectory)(nil)
