package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/orthopilot/claimpilot/internal/llm"
	"github.com/orthopilot/claimpilot/internal/model"
)

// maxModifiedCodeLen bounds a modifier-suffixed CPT code ("99214-25").
// Anything longer means the model returned prose, not a code.
const maxModifiedCodeLen = 12

const modifierSystemPrompt = `You are an expert medical billing modifier specialist. You will receive a list of CPT codes and the compliance flags raised for the claim. Rewrite each code that requires a billing modifier by appending it with a hyphen (e.g. "99214" becomes "99214-25"); leave every other code unchanged.

You MUST return a JSON object with a single key "modified_cpt_codes" holding an array of code strings in the SAME order and of the SAME length as the input list.`

// Modifier rewrites CPT codes to carry required billing modifiers.
type Modifier struct {
	llm llm.Client
	log zerolog.Logger
}

// NewModifier creates the modifier stage.
func NewModifier(client llm.Client, log zerolog.Logger) *Modifier {
	return &Modifier{llm: client, log: log}
}

// Apply returns the modifier-suffixed codes. The AI output is accepted
// only when it has exactly one short code per input code; on any shape
// violation or call failure the original codes are returned unchanged,
// so a malformed response can never corrupt billing codes.
func (m *Modifier) Apply(ctx context.Context, cptCodes []string, flags []model.ComplianceFlag) []string {
	if len(cptCodes) == 0 {
		return cptCodes
	}

	codesJSON, err := json.Marshal(cptCodes)
	if err != nil {
		return cptCodes
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return cptCodes
	}
	userPrompt := fmt.Sprintf("CPT codes:\n\n%s\n\nCompliance flags:\n\n%s", codesJSON, flagsJSON)

	raw, err := m.llm.ChatJSON(ctx, modifierSystemPrompt, userPrompt)
	if err != nil {
		m.log.Warn().Err(err).Msg("modifier call failed, keeping original codes")
		return cptCodes
	}

	var resp struct {
		ModifiedCPTCodes []string `json:"modified_cpt_codes"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		m.log.Warn().Err(err).Msg("modifier response undecodable, keeping original codes")
		return cptCodes
	}

	if len(resp.ModifiedCPTCodes) != len(cptCodes) {
		m.log.Warn().
			Int("want", len(cptCodes)).
			Int("got", len(resp.ModifiedCPTCodes)).
			Msg("modifier response length mismatch, keeping original codes")
		return cptCodes
	}
	for _, code := range resp.ModifiedCPTCodes {
		if code == "" || len(code) > maxModifiedCodeLen {
			m.log.Warn().Str("code", code).Msg("modifier response malformed, keeping original codes")
			return cptCodes
		}
	}
	return resp.ModifiedCPTCodes
}
