package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/orthopilot/claimpilot/internal/model"
	"github.com/orthopilot/claimpilot/internal/store"
)

const benefitsSystemPrompt = `You are an expert Health Insurance Benefits Analyst. Your task is to read the provided policy document text and extract a list of covered benefits. Return a JSON object with a single key "benefits". The "benefits" key should hold an array of objects. Each object represents a single benefit and MUST have these exact keys: 'benefit_type' (e.g. "Office Visit", "Specialist Visit", "Emergency Room"), 'is_covered' (boolean), 'co_pay_amount' (number), and 'coverage_percent' (number, e.g. 80 for 80%). If a value isn't specified, use null. Focus on common medical services.`

type extractedBenefit struct {
	BenefitType     string   `json:"benefit_type"`
	IsCovered       bool     `json:"is_covered"`
	CoPayAmount     *float64 `json:"co_pay_amount"`
	CoveragePercent *float64 `json:"coverage_percent"`
}

// ProcessPolicyDocument parses an insurance policy document, extracts
// its covered benefits with one AI call, and replaces the benefits
// previously derived from the same document. Re-running for the same
// document is idempotent.
func (p *Pipeline) ProcessPolicyDocument(ctx context.Context, patientID, documentID uuid.UUID) error {
	log := p.log.With().
		Str("patient_id", patientID.String()).
		Str("document_id", documentID.String()).
		Logger()

	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Error().Msg("policy document not found")
			return nil
		}
		return fmt.Errorf("loading policy document: %w", err)
	}

	text, err := p.docs.GetOrParse(ctx, doc)
	if err != nil {
		return fmt.Errorf("parsing policy document: %w", err)
	}

	raw, err := p.llm.ChatJSON(ctx, benefitsSystemPrompt, "Here is the policy document text:\n\n"+text)
	if err != nil {
		return fmt.Errorf("extracting benefits: %w", err)
	}

	var resp struct {
		Benefits []extractedBenefit `json:"benefits"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decoding benefits: %w", err)
	}

	benefits := make([]model.PolicyBenefit, 0, len(resp.Benefits))
	for _, b := range resp.Benefits {
		benefits = append(benefits, model.PolicyBenefit{
			PatientID:        patientID,
			SourceDocumentID: documentID,
			BenefitType:      b.BenefitType,
			IsCovered:        b.IsCovered,
			CoPayAmount:      b.CoPayAmount,
			CoveragePercent:  b.CoveragePercent,
		})
	}

	if err := p.store.ReplaceBenefits(ctx, patientID, documentID, benefits); err != nil {
		return fmt.Errorf("saving benefits: %w", err)
	}
	log.Info().Int("benefits", len(benefits)).Msg("policy benefits saved")
	return nil
}
