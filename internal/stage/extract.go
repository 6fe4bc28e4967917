package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/orthopilot/claimpilot/internal/llm"
	"github.com/orthopilot/claimpilot/internal/model"
)

// ExtractedServiceLine is one per-procedure charge the extraction stage
// found in the source documents.
type ExtractedServiceLine struct {
	CPTCode      string   `json:"cpt_code"`
	ChargeAmount *float64 `json:"charge_amount"`
}

// ClaimDraft is the fixed-schema output of the extraction stage. Every
// field absent from all source documents comes back nil; the model is
// forbidden from fabricating values. Unrecognized response keys are
// dropped during decoding rather than surfacing as errors.
type ClaimDraft struct {
	PayerName             *string  `json:"payer_name"`
	InsuredName           *string  `json:"insured_name"`
	InsuredPolicyNumber   *string  `json:"insured_policy_number"`
	InsuredGroupNumber    *string  `json:"insured_group_number"`
	PatientAccountNumber  *string  `json:"patient_account_number"`
	ReferringProviderName *string  `json:"referring_provider_name"`
	ServiceFacilityName   *string  `json:"service_facility_name"`
	ServiceFacilityAddr   *string  `json:"service_facility_address"`
	DateOfService         *string  `json:"date_of_service"`
	TotalAmount           *float64 `json:"total_amount"`

	ServiceLines []ExtractedServiceLine `json:"service_lines"`
}

// ToClaimUpdate filters the draft down to the fields the claim update
// schema recognizes. A date of service that does not parse as YYYY-MM-DD
// is treated as absent instead of failing the pipeline.
func (d ClaimDraft) ToClaimUpdate() model.ClaimUpdate {
	upd := model.ClaimUpdate{
		PayerName:             d.PayerName,
		InsuredName:           d.InsuredName,
		InsuredPolicyNumber:   d.InsuredPolicyNumber,
		InsuredGroupNumber:    d.InsuredGroupNumber,
		PatientAccountNumber:  d.PatientAccountNumber,
		ReferringProviderName: d.ReferringProviderName,
		ServiceFacilityName:   d.ServiceFacilityName,
		ServiceFacilityAddr:   d.ServiceFacilityAddr,
		TotalAmount:           d.TotalAmount,
	}
	if d.DateOfService != nil {
		if t, err := time.Parse("2006-01-02", *d.DateOfService); err == nil {
			upd.DateOfService = &t
		}
	}
	return upd
}

// ChargeFor returns the extracted charge for a CPT code, if any.
func (d ClaimDraft) ChargeFor(cptCode string) (float64, bool) {
	for _, line := range d.ServiceLines {
		if line.CPTCode == cptCode && line.ChargeAmount != nil {
			return *line.ChargeAmount, true
		}
	}
	return 0, false
}

const synthesizeSystemPrompt = `You are a highly accurate medical claims data extraction AI for an orthopedic practice. You will receive the full text of every document available for one patient encounter, each section labeled with the document's purpose. Fuse them into one complete claim-data object.

You MUST return a JSON object with the following exact keys. If a value for any key cannot be found in any of the documents, you MUST use null. Do not invent information.

**JSON Schema:**
{
  "payer_name": "string (the insurance carrier name, e.g. 'CIGNA')",
  "insured_name": "string (LAST, FIRST)",
  "insured_policy_number": "string",
  "insured_group_number": "string",
  "patient_account_number": "string",
  "referring_provider_name": "string",
  "service_facility_name": "string",
  "service_facility_address": "string (full address including city, state, zip)",
  "date_of_service": "string (YYYY-MM-DD)",
  "total_amount": "number",
  "service_lines": [
    { "cpt_code": "string", "charge_amount": "number" }
  ]
}`

// Synthesizer fuses every parsed document for a claim into one draft.
type Synthesizer struct {
	llm llm.Client
}

// NewSynthesizer creates the extraction stage.
func NewSynthesizer(client llm.Client) *Synthesizer {
	return &Synthesizer{llm: client}
}

// Synthesize makes one AI call over all parsed document texts and returns
// the structured claim draft. Document sections are delimited per purpose
// in a stable order so the prompt is deterministic for a given input.
func (s *Synthesizer) Synthesize(ctx context.Context, docs map[model.DocumentPurpose]string) (ClaimDraft, error) {
	purposes := make([]string, 0, len(docs))
	for p := range docs {
		purposes = append(purposes, string(p))
	}
	sort.Strings(purposes)

	var b strings.Builder
	for _, p := range purposes {
		fmt.Fprintf(&b, "=== DOCUMENT (%s) ===\n%s\n=== END DOCUMENT ===\n\n", p, docs[model.DocumentPurpose(p)])
	}
	userPrompt := "Extract the claim data from these documents, following all rules carefully:\n\n" + b.String()

	raw, err := s.llm.ChatJSON(ctx, synthesizeSystemPrompt, userPrompt)
	if err != nil {
		return ClaimDraft{}, fmt.Errorf("synthesizing claim data: %w", err)
	}

	var draft ClaimDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return ClaimDraft{}, fmt.Errorf("decoding claim draft: %w", err)
	}
	return draft, nil
}
