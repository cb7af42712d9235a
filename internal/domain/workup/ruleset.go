// Package workup decides whether a completed assessment carries enough
// evidence to route the case for clinical review. Evaluation is a pure
// function of the evidence pack and the ruleset version, so a verdict can be
// recomputed for audit or retried out-of-band with no side effects beyond
// the single status write its caller performs.
package workup

import (
	"bytes"
	"encoding/json"
)

// Workup statuses persisted onto the assessment row.
const (
	StatusReadyForReview = "ready_for_review"
	StatusNeedsMoreData  = "needs_more_data"
)

// EvidencePack is the subset of an assessment's answers assembled for
// evaluation, keyed by question key.
type EvidencePack map[string]json.RawMessage

// Verdict is the outcome of evaluating one evidence pack.
type Verdict struct {
	IsSufficient      bool     `json:"isSufficient"`
	MissingDataFields []string `json:"missingDataFields"`
}

// Ruleset is one versioned, deterministic rule configuration. Required
// fields are checked in declaration order so the missing-field list is
// stable across runs.
type Ruleset struct {
	ID             string
	RequiredFields []string
	MinAnswers     int
}

// Evaluate applies the ruleset to the pack. Identical pack + ruleset always
// yields an identical verdict.
func (r *Ruleset) Evaluate(pack EvidencePack) Verdict {
	missing := []string{}
	for _, field := range r.RequiredFields {
		if !hasEvidence(pack, field) {
			missing = append(missing, field)
		}
	}
	sufficient := len(missing) == 0 && len(pack) >= r.MinAnswers
	return Verdict{IsSufficient: sufficient, MissingDataFields: missing}
}

// hasEvidence treats absent, JSON null, empty string, and empty composite
// values as missing.
func hasEvidence(pack EvidencePack, field string) bool {
	v, ok := pack[field]
	if !ok || len(v) == 0 {
		return false
	}
	t := bytes.TrimSpace(v)
	switch string(t) {
	case "null", `""`, "[]", "{}":
		return false
	}
	return true
}

// Registry resolves the ruleset for a funnel slug, falling back to a
// default for funnels with no dedicated rules.
type Registry struct {
	bySlug     map[string]*Ruleset
	defaultSet *Ruleset
}

// NewRegistry builds a registry around the given default ruleset.
func NewRegistry(defaultSet *Ruleset) *Registry {
	return &Registry{bySlug: make(map[string]*Ruleset), defaultSet: defaultSet}
}

// Register binds a ruleset to a funnel slug.
func (reg *Registry) Register(slug string, rs *Ruleset) {
	reg.bySlug[slug] = rs
}

// Resolve returns the ruleset for slug, or the default.
func (reg *Registry) Resolve(slug string) *Ruleset {
	if rs, ok := reg.bySlug[slug]; ok {
		return rs
	}
	return reg.defaultSet
}

// DefaultRegistry returns the rulesets shipped with the platform.
func DefaultRegistry() *Registry {
	reg := NewRegistry(&Ruleset{
		ID:         "default-v1",
		MinAnswers: 1,
	})
	reg.Register("cardio-age", &Ruleset{
		ID:             "cardio-age-v2",
		RequiredFields: []string{"age", "sex", "systolic_bp", "smoking_status"},
		MinAnswers:     3,
	})
	reg.Register("sleep-apnea", &Ruleset{
		ID:             "sleep-apnea-v1",
		RequiredFields: []string{"age", "bmi", "snoring", "daytime_sleepiness"},
		MinAnswers:     4,
	})
	return reg
}
