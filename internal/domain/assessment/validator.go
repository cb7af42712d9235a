package assessment

import (
	"bytes"
	"context"
	"fmt"

	"github.com/assessly/assessly/internal/domain/funnel"
)

// MissingQuestion identifies one unanswered required question. OrderIndex is
// the question's zero-based position in the full step/question traversal,
// counted across all steps, so consumers can render "question 7 of 23"
// without re-deriving position.
type MissingQuestion struct {
	QuestionID    string `json:"questionId"`
	QuestionKey   string `json:"questionKey"`
	QuestionLabel string `json:"questionLabel"`
	OrderIndex    int    `json:"orderIndex"`
}

// ValidationResult is the shared output contract of both validator
// strategies.
type ValidationResult struct {
	IsValid          bool              `json:"isValid"`
	MissingQuestions []MissingQuestion `json:"missingQuestions"`
}

// Validator checks that every required question of the assessment's funnel
// has an answer. Implementations are pure functions of the funnel layout
// and the answered-id set, safe to call repeatedly.
type Validator interface {
	Validate(ctx context.Context, ref FunnelRef, answered map[string]struct{}) (*ValidationResult, error)
}

// CatalogValidator validates against the funnel's manifest document. A
// missing or malformed manifest fails the call outright; it is never
// treated as "no required questions".
type CatalogValidator struct {
	manifests funnel.ManifestLoader
}

func NewCatalogValidator(manifests funnel.ManifestLoader) *CatalogValidator {
	return &CatalogValidator{manifests: manifests}
}

func (v *CatalogValidator) Validate(ctx context.Context, ref FunnelRef, answered map[string]struct{}) (*ValidationResult, error) {
	m, err := v.manifests.Load(ctx, ref.Slug())
	if err != nil {
		return nil, fmt.Errorf("load manifest for %q: %w", ref.Slug(), err)
	}
	return walkRequired(m.Steps, answered), nil
}

// LegacyValidator validates against the relational step/question schema of a
// legacy funnel. Semantics are identical to the catalog strategy; only the
// source of truth differs.
type LegacyValidator struct {
	steps funnel.LegacyRepository
}

func NewLegacyValidator(steps funnel.LegacyRepository) *LegacyValidator {
	return &LegacyValidator{steps: steps}
}

func (v *LegacyValidator) Validate(ctx context.Context, ref FunnelRef, answered map[string]struct{}) (*ValidationResult, error) {
	legacy, ok := ref.(LegacyRef)
	if !ok {
		return nil, fmt.Errorf("legacy validator invoked for catalog funnel %q", ref.Slug())
	}
	steps, err := v.steps.Steps(ctx, legacy.FunnelID)
	if err != nil {
		return nil, fmt.Errorf("load legacy schema for %q: %w", ref.Slug(), err)
	}
	return walkRequired(steps, answered), nil
}

// StrategyValidator dispatches on the assessment's funnel reference: catalog
// funnels use the manifest strategy, legacy funnels the relational one.
type StrategyValidator struct {
	catalog Validator
	legacy  Validator
}

func NewStrategyValidator(catalog, legacy Validator) *StrategyValidator {
	return &StrategyValidator{catalog: catalog, legacy: legacy}
}

func (v *StrategyValidator) Validate(ctx context.Context, ref FunnelRef, answered map[string]struct{}) (*ValidationResult, error) {
	switch ref.(type) {
	case LegacyRef:
		return v.legacy.Validate(ctx, ref, answered)
	default:
		return v.catalog.Validate(ctx, ref, answered)
	}
}

// walkRequired walks steps in order and questions in order, carrying one
// global index across the whole traversal, and collects every required
// question whose id is absent from the answered set.
func walkRequired(steps []funnel.Step, answered map[string]struct{}) *ValidationResult {
	missing := []MissingQuestion{}
	orderIndex := 0
	for _, step := range steps {
		for _, q := range step.Questions {
			if q.Required {
				if _, ok := answered[q.ID]; !ok {
					missing = append(missing, MissingQuestion{
						QuestionID:    q.ID,
						QuestionKey:   q.Key,
						QuestionLabel: q.Label,
						OrderIndex:    orderIndex,
					})
				}
			}
			orderIndex++
		}
	}
	return &ValidationResult{IsValid: len(missing) == 0, MissingQuestions: missing}
}

// answeredSet reduces answers to the set of question ids that carry a
// substantive value. Null and empty values do not count as answered.
func answeredSet(answers []*Answer) map[string]struct{} {
	set := make(map[string]struct{}, len(answers))
	for _, ans := range answers {
		if hasValue(ans) {
			set[ans.QuestionID] = struct{}{}
		}
	}
	return set
}

func hasValue(ans *Answer) bool {
	v := bytes.TrimSpace(ans.Value)
	if len(v) == 0 {
		return false
	}
	switch string(v) {
	case "null", `""`:
		return false
	}
	return true
}
