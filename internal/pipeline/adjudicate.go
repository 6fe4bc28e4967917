package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orthopilot/claimpilot/internal/model"
	"github.com/orthopilot/claimpilot/internal/store"
)

// deniedInvalidAdjudication is recorded when the simulator returns an
// unrecognized decision. Failing closed keeps the claim from sitting
// ambiguously adjudicated.
const deniedInvalidAdjudication = "Processing Error: Invalid adjudication response from AI."

const adjudicationSystemPrompt = `You are a health insurance payer adjudication system. You will receive a submitted claim with its service lines and the text of the patient's insurance policy. Decide whether the payer approves or denies the claim under that policy.

You MUST return a JSON object with these exact keys:
{
  "decision": "string, exactly 'approved' or 'denied'",
  "payer_paid_amount": "number (required when approved: the amount the payer will pay)",
  "patient_responsibility_amount": "number (required when approved)",
  "denial_reason": "string (required when denied)",
  "root_cause": "string (required when denied)",
  "recommended_action": "string (required when denied)"
}`

type adjudicationResponse struct {
	Decision                    string   `json:"decision"`
	PayerPaidAmount             *float64 `json:"payer_paid_amount"`
	PatientResponsibilityAmount *float64 `json:"patient_responsibility_amount"`
	DenialReason                string   `json:"denial_reason"`
	RootCause                   string   `json:"root_cause"`
	RecommendedAction           string   `json:"recommended_action"`
}

// Adjudicate simulates the payer's decision for a submitted claim. A
// missing policy document is an operational gap, not a claim defect:
// the run logs and exits with the claim left submitted. An invalid
// decision value from the model denies the claim with a synthetic
// processing-error reason.
func (p *Pipeline) Adjudicate(ctx context.Context, claimID uuid.UUID) error {
	log := p.log.With().Str("claim_id", claimID.String()).Logger()

	claim, err := p.store.GetClaim(ctx, claimID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Error().Msg("claim not found, skipping adjudication")
			return nil
		}
		return fmt.Errorf("loading claim: %w", err)
	}
	if claim.Status != model.StatusSubmitted {
		log.Warn().Str("status", string(claim.Status)).Msg("claim is not submitted, skipping adjudication")
		return nil
	}

	policyDoc, err := p.findPolicyDocument(ctx, claim.PatientID)
	if err != nil {
		return err
	}
	if policyDoc == nil {
		log.Warn().Msg("no policy document on file, leaving claim submitted")
		return nil
	}

	policyText, err := p.docs.GetOrParse(ctx, policyDoc)
	if err != nil {
		return fmt.Errorf("parsing policy document: %w", err)
	}
	lines, err := p.store.ListServiceLines(ctx, claim.ID)
	if err != nil {
		return fmt.Errorf("loading service lines: %w", err)
	}

	claimJSON, err := json.Marshal(struct {
		Claim        *model.Claim        `json:"claim"`
		ServiceLines []model.ServiceLine `json:"service_lines"`
	}{claim, lines})
	if err != nil {
		return fmt.Errorf("encoding claim for adjudication: %w", err)
	}
	userPrompt := fmt.Sprintf("Submitted claim:\n\n%s\n\nPatient's insurance policy:\n\n%s", claimJSON, policyText)

	raw, err := p.llm.ChatJSON(ctx, adjudicationSystemPrompt, userPrompt)
	if err != nil {
		return fmt.Errorf("adjudication call: %w", err)
	}

	var resp adjudicationResponse
	decodeErr := json.Unmarshal(raw, &resp)

	ad := store.Adjudication{At: time.Now().UTC()}
	switch {
	case decodeErr == nil && resp.Decision == "approved":
		ad.Status = model.StatusApproved
		ad.PayerPaidAmount = resp.PayerPaidAmount
		ad.PatientResponsibility = resp.PatientResponsibilityAmount
		log.Info().Msg("claim approved by payer simulation")
	case decodeErr == nil && resp.Decision == "denied":
		ad.Status = model.StatusDenied
		ad.Denial = &model.Denial{
			Reason:            resp.DenialReason,
			RootCause:         resp.RootCause,
			RecommendedAction: resp.RecommendedAction,
		}
		log.Info().Str("reason", resp.DenialReason).Msg("claim denied by payer simulation")
	default:
		ad.Status = model.StatusDenied
		ad.Denial = &model.Denial{Reason: deniedInvalidAdjudication}
		log.Error().Str("decision", resp.Decision).Msg("invalid adjudication decision, failing closed")
	}

	if err := p.store.RecordAdjudication(ctx, claim.ID, ad); err != nil {
		return fmt.Errorf("recording adjudication: %w", err)
	}
	return nil
}

func (p *Pipeline) findPolicyDocument(ctx context.Context, patientID uuid.UUID) (*model.Document, error) {
	docs, err := p.store.ListPatientDocuments(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing patient documents: %w", err)
	}
	for _, d := range docs {
		if d.Purpose == model.PurposePolicyDoc {
			return d, nil
		}
	}
	return nil, nil
}
