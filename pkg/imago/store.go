package imago

import (
	"context"

	"github.com/sre-norns/imago/pkg/wyrd"
)

type Store interface {
	Create(ctx context.Context, value any) error
	Get(ctx context.Context, dest any, id wyrd.ResourceID) (bool, error)

	// Update replaces value if stored version matches the given one
	Update(ctx context.Context, value any, id wyrd.VersionedResourceId) (bool, error)
	Delete(ctx context.Context, model any, id wyrd.VersionedResourceId) (bool, error)

	FindResources(ctx context.Context, dest any, searchQuery SearchQuery) error
}
