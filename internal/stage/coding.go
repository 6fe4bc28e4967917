package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/orthopilot/claimpilot/internal/llm"
	"github.com/orthopilot/claimpilot/internal/model"
)

// cptShape constrains direct CPT suggestions to short alphanumeric codes
// so a hallucinated sentence can never land in a billing field.
var cptShape = regexp.MustCompile(`^[A-Za-z0-9]{3,7}$`)

// CodingSuggestion is the output of the suggest step: free-text search
// terms for diagnosis retrieval plus directly proposed procedure codes.
type CodingSuggestion struct {
	ICD10SearchTerms  []string `json:"icd10_search_terms"`
	SuggestedCPTCodes []string `json:"suggested_cpt_codes"`
}

const suggestSystemPrompt = `You are an expert medical coder for an orthopedic practice. You will receive a clinical encounter note and the structured claim data already extracted for it.

You MUST return a JSON object with these exact keys:
{
  "icd10_search_terms": ["string (clinical phrases describing each diagnosis, e.g. 'right knee pain', suitable for a terminology search)"],
  "suggested_cpt_codes": ["string (a CPT procedure code, digits and letters only, e.g. '99213')"]
}

Do NOT suggest ICD-10 codes directly; describe the diagnoses as search terms instead. Suggest a CPT code for every billable procedure documented in the note.`

const selectSystemPrompt = `You are an expert medical coder. You will receive a clinical encounter note and a numbered list of candidate ICD-10 codes retrieved from the official reference catalog.

Return a JSON object with a single key "selected_icd10_codes" holding an array of code strings. Every code you return MUST be copied verbatim from the candidate list; never invent a code. Select every candidate that is clearly supported by the note. If no candidate is a strong match, you MUST still return the single most plausible candidate rather than an empty list.`

// Coder runs the two AI calls of the coding stage: suggest and select.
// Candidate retrieval between them belongs to the retrieval engine.
type Coder struct {
	llm llm.Client
}

// NewCoder creates the coding stage.
func NewCoder(client llm.Client) *Coder {
	return &Coder{llm: client}
}

// Suggest returns diagnosis search terms and directly suggested CPT
// codes for the encounter. CPT suggestions not shaped like a code are
// dropped before they can reach validation.
func (c *Coder) Suggest(ctx context.Context, encounterNote string, draft ClaimDraft) (CodingSuggestion, error) {
	draftJSON, err := json.Marshal(draft)
	if err != nil {
		return CodingSuggestion{}, fmt.Errorf("encoding claim draft: %w", err)
	}
	userPrompt := fmt.Sprintf("Encounter note:\n\n%s\n\nExtracted claim data:\n\n%s", encounterNote, draftJSON)

	raw, err := c.llm.ChatJSON(ctx, suggestSystemPrompt, userPrompt)
	if err != nil {
		return CodingSuggestion{}, fmt.Errorf("suggesting codes: %w", err)
	}

	var out CodingSuggestion
	if err := json.Unmarshal(raw, &out); err != nil {
		return CodingSuggestion{}, fmt.Errorf("decoding code suggestions: %w", err)
	}

	kept := out.SuggestedCPTCodes[:0]
	for _, code := range out.SuggestedCPTCodes {
		if cptShape.MatchString(code) {
			kept = append(kept, code)
		}
	}
	out.SuggestedCPTCodes = kept
	return out, nil
}

// SelectFinal asks the model to pick diagnoses from the retrieved
// candidates. Codes not verbatim in the candidate list are discarded,
// and an empty pick against a non-empty candidate list falls back to
// the nearest candidate so a claim never ends up with zero diagnoses.
func (c *Coder) SelectFinal(ctx context.Context, encounterNote string, candidates []model.CodeRef) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	candidateJSON, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("encoding candidates: %w", err)
	}
	userPrompt := fmt.Sprintf("Encounter note:\n\n%s\n\nCandidate ICD-10 codes:\n\n%s", encounterNote, candidateJSON)

	raw, err := c.llm.ChatJSON(ctx, selectSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("selecting final codes: %w", err)
	}

	var resp struct {
		SelectedICD10Codes []string `json:"selected_icd10_codes"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding final code selection: %w", err)
	}

	member := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		member[cand.Code] = true
	}

	var selected []string
	seen := make(map[string]bool)
	for _, code := range resp.SelectedICD10Codes {
		if member[code] && !seen[code] {
			selected = append(selected, code)
			seen[code] = true
		}
	}
	if len(selected) == 0 {
		selected = []string{candidates[0].Code}
	}
	return selected, nil
}
