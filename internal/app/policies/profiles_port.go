package policies

import "context"

// CounterpartProfile is the display identity of the other participant.
// Placeholder marks a row the lookup could not resolve; the conversation
// list still renders it instead of failing the whole page.
type CounterpartProfile struct {
	ID          string
	DisplayName string
	AvatarURL   string
	Placeholder bool
}

// ProfilesPort is the external identity collaborator. Batch fetches every
// profile for a page of conversations in one call.
type ProfilesPort interface {
	Batch(ctx context.Context, userIDs []string) (map[string]CounterpartProfile, error)
}

// PlaceholderProfile stands in when the lookup failed or returned nothing.
func PlaceholderProfile(userID string) CounterpartProfile {
	return CounterpartProfile{
		ID:          userID,
		DisplayName: "Unavailable user",
		Placeholder: true,
	}
}
