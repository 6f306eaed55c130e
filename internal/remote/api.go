package remote

import (
	"context"

	"github.com/starford/convsync/internal/models"
)

// API is the set of remote operations the sync and mutation engines depend
// on. Consumers should depend on this interface rather than *Client so tests
// can substitute a fake.
type API interface {
	FetchAll(ctx context.Context, pageSize int) ([]models.Convention, error)
	FetchBody(ctx context.Context, id string) (string, error)
	FetchDetail(ctx context.Context, id string) (models.Convention, error)
	FetchSharedGuides(ctx context.Context) ([]models.SharedGuide, error)
	FetchSharedGuidesHash(ctx context.Context) (string, error)
	FetchAgentProfiles(ctx context.Context) ([]models.AgentProfile, error)
	Create(ctx context.Context, req CreateRequest) (models.Convention, error)
	Update(ctx context.Context, id string, req UpdateRequest) (models.Convention, error)
	Delete(ctx context.Context, id string) error
}

// Verify *Client satisfies API at compile time.
var _ API = (*Client)(nil)
