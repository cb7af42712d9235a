package funnel

import (
	"context"
)

// Service exposes catalog reads for the funnel content surface.
type Service struct {
	funnels   Repository
	manifests ManifestLoader
	legacy    LegacyRepository
}

func NewService(funnels Repository, manifests ManifestLoader, legacy LegacyRepository) *Service {
	return &Service{funnels: funnels, manifests: manifests, legacy: legacy}
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Funnel, int, error) {
	return s.funnels.List(ctx, limit, offset)
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (*Funnel, error) {
	return s.funnels.GetBySlug(ctx, slug)
}

// Manifest resolves the step/question layout for a funnel regardless of its
// sourcing mode: catalog funnels load their manifest document, legacy
// funnels have one assembled from the relational schema.
func (s *Service) Manifest(ctx context.Context, slug string) (*Manifest, error) {
	f, err := s.funnels.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !f.Legacy {
		return s.manifests.Load(ctx, slug)
	}
	steps, err := s.legacy.Steps(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	return &Manifest{Slug: slug, Version: 1, Steps: steps}, nil
}
