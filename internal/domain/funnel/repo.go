package funnel

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a funnel, or the manifest for a slug, does
// not exist.
var ErrNotFound = errors.New("funnel: not found")

// Repository provides catalog reads over funnel definitions.
type Repository interface {
	GetBySlug(ctx context.Context, slug string) (*Funnel, error)
	List(ctx context.Context, limit, offset int) ([]*Funnel, int, error)
}

// ManifestLoader resolves the current manifest for a catalog funnel by slug.
// Load fails with ErrNotFound when no manifest exists and with a validation
// error when the stored document does not satisfy the manifest schema.
type ManifestLoader interface {
	Load(ctx context.Context, slug string) (*Manifest, error)
}

// LegacyRepository reads the fixed relational step/question schema of a
// legacy funnel and returns it in manifest order.
type LegacyRepository interface {
	Steps(ctx context.Context, funnelID uuid.UUID) ([]Step, error)
}
