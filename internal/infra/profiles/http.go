package profiles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"marketchat/internal/app/policies"
)

// HTTPClient resolves counterpart identities from the external profile
// service. Failures bubble up to the aggregator, which degrades the
// affected rows to placeholders instead of failing the list.
type HTTPClient struct {
	Client   *http.Client
	Endpoint string
	Logger   *slog.Logger
}

type batchRequest struct {
	UserIDs []string `json:"user_ids"`
}

type batchResponse struct {
	Profiles []profilePayload `json:"profiles"`
}

type profilePayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

func (c *HTTPClient) Batch(ctx context.Context, userIDs []string) (map[string]policies.CounterpartProfile, error) {
	if c == nil || c.Client == nil {
		return nil, errors.New("profiles: http client not configured")
	}
	if c.Endpoint == "" {
		return nil, errors.New("profiles: endpoint not configured")
	}
	if len(userIDs) == 0 {
		return map[string]policies.CounterpartProfile{}, nil
	}
	body, err := json.Marshal(batchRequest{UserIDs: userIDs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profiles: unexpected status %d", resp.StatusCode)
	}
	var payload batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	out := make(map[string]policies.CounterpartProfile, len(payload.Profiles))
	for _, p := range payload.Profiles {
		if p.ID == "" {
			continue
		}
		out[p.ID] = policies.CounterpartProfile{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
		}
	}
	return out, nil
}
