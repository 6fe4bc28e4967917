package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orthopilot/claimpilot/internal/llm"
	"github.com/orthopilot/claimpilot/internal/model"
)

// ComplianceResult annotates the validated codes. The stage never fails
// a claim on its own findings; it only records them.
type ComplianceResult struct {
	Flags             []model.ComplianceFlag `json:"compliance_flags"`
	ConfidenceScores  map[string]float64     `json:"confidence_scores"`
	DiagnosisPointers map[string]string      `json:"diagnosis_pointers"`
}

const complianceSystemPrompt = `You are an expert medical billing compliance auditor for an orthopedic practice. You will receive the full encounter documentation, the extracted claim data, and the validated CPT and ICD-10 codes for a claim.

You MUST return a JSON object with these exact keys:
{
  "compliance_flags": [ { "level": "string ('info', 'warning' or 'error')", "message": "string" } ],
  "confidence_scores": { "<code>": "number between 0.0 and 1.0, one entry per validated code" },
  "diagnosis_pointers": { "<cpt_code>": "string of comma-joined letters, where 'A' is the first ICD-10 code in the validated list, 'B' the second, and so on" }
}

Flag documentation gaps, medical-necessity mismatches and bundling issues. If the claim is fully compliant, return an empty compliance_flags array.`

// Reviewer is the compliance and refinement stage.
type Reviewer struct {
	llm llm.Client
}

// NewReviewer creates the compliance stage.
func NewReviewer(client llm.Client) *Reviewer {
	return &Reviewer{llm: client}
}

// Review makes one AI call and returns flags, per-code confidence and
// CPT-to-diagnosis pointers. Maps are never nil on success.
func (r *Reviewer) Review(ctx context.Context, docText string, draft ClaimDraft, codes model.ValidatedCodes) (ComplianceResult, error) {
	draftJSON, err := json.Marshal(draft)
	if err != nil {
		return ComplianceResult{}, fmt.Errorf("encoding claim draft: %w", err)
	}
	codesJSON, err := json.Marshal(codes)
	if err != nil {
		return ComplianceResult{}, fmt.Errorf("encoding validated codes: %w", err)
	}
	userPrompt := fmt.Sprintf(
		"Encounter documentation:\n\n%s\n\nExtracted claim data:\n\n%s\n\nValidated codes:\n\n%s",
		docText, draftJSON, codesJSON,
	)

	raw, err := r.llm.ChatJSON(ctx, complianceSystemPrompt, userPrompt)
	if err != nil {
		return ComplianceResult{}, fmt.Errorf("running compliance review: %w", err)
	}

	var out ComplianceResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return ComplianceResult{}, fmt.Errorf("decoding compliance result: %w", err)
	}
	if out.ConfidenceScores == nil {
		out.ConfidenceScores = map[string]float64{}
	}
	if out.DiagnosisPointers == nil {
		out.DiagnosisPointers = map[string]string{}
	}
	return out, nil
}
