package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/starford/convsync/internal/apperr"
	"github.com/starford/convsync/internal/models"
)

const (
	guidesPath        = "/api/platform-guides"
	guidesHashPath    = "/api/platform-guides/hash"
	agentProfilesPath = "/api/agent-configs"
)

type hashResponse struct {
	Hash *string `json:"hash"`
}

// FetchSharedGuides returns the platform guide set. A 404 means the
// deployment has no guides and yields an empty list.
func (c *Client) FetchSharedGuides(ctx context.Context) ([]models.SharedGuide, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: guidesPath})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	guides, _, err := decodeList[models.SharedGuide](body)
	return guides, err
}

// FetchSharedGuidesHash returns the fingerprint of the platform guide set.
// A malformed or blank hash is an error: freshness detection is anchored on it.
func (c *Client) FetchSharedGuidesHash(ctx context.Context) (string, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: guidesHashPath})
	if err != nil {
		return "", err
	}
	resp, err := decodeObject[hashResponse](body)
	if err != nil {
		return "", fmt.Errorf("platform guides hash: %w", err)
	}
	if resp.Hash == nil || strings.TrimSpace(*resp.Hash) == "" {
		return "", fmt.Errorf("platform guides hash: malformed response: missing hash")
	}
	return *resp.Hash, nil
}

// FetchAgentProfiles lists registered agent profiles.
func (c *Client) FetchAgentProfiles(ctx context.Context) ([]models.AgentProfile, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: agentProfilesPath})
	if err != nil {
		return nil, err
	}
	profiles, _, err := decodeList[models.AgentProfile](body)
	return profiles, err
}
