package eligibility

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/orthopilot/claimpilot/internal/model"
	"github.com/orthopilot/claimpilot/internal/store"
)

// StatusNoPolicy is the eligibility status recorded when a patient has
// no policy benefits on file. Downstream flows key off this exact
// string, so it must not change.
const StatusNoPolicy = "Inactive - No Policy on File"

// StatusActive is recorded when at least one benefit exists.
const StatusActive = "Active"

// Matcher picks the benefit that determines patient responsibility for
// the given procedure codes, or nil when none applies.
type Matcher func(benefits []*model.PolicyBenefit, cptCodes []string) *model.PolicyBenefit

// VisitMatcher is the default heuristic: the first benefit whose type
// mentions "visit", regardless of the procedure codes. It is a
// deliberately simple stand-in for real benefit adjudication.
func VisitMatcher(benefits []*model.PolicyBenefit, cptCodes []string) *model.PolicyBenefit {
	for _, b := range benefits {
		if strings.Contains(strings.ToLower(b.BenefitType), "visit") {
			return b
		}
	}
	return nil
}

// Engine computes eligibility status and patient responsibility from
// the patient's stored policy benefits.
type Engine struct {
	benefits store.BenefitStore
	match    Matcher
}

// NewEngine creates an eligibility engine. A nil matcher falls back to
// VisitMatcher.
func NewEngine(benefits store.BenefitStore, match Matcher) *Engine {
	if match == nil {
		match = VisitMatcher
	}
	return &Engine{benefits: benefits, match: match}
}

// Check returns the eligibility status and the patient responsibility
// amount for the claim's procedure codes. A patient with no benefit
// rows is inactive with zero responsibility no matter the input codes.
func (e *Engine) Check(ctx context.Context, patientID uuid.UUID, cptCodes []string) (string, float64, error) {
	benefits, err := e.benefits.ListBenefits(ctx, patientID)
	if err != nil {
		return "", 0, fmt.Errorf("loading policy benefits: %w", err)
	}
	if len(benefits) == 0 {
		return StatusNoPolicy, 0.0, nil
	}

	responsibility := 0.0
	if b := e.match(benefits, cptCodes); b != nil && b.CoPayAmount != nil {
		responsibility = *b.CoPayAmount
	}
	return StatusActive, responsibility, nil
}
