package retrieval

import (
	"context"
	"fmt"

	"github.com/orthopilot/claimpilot/internal/model"
	"github.com/orthopilot/claimpilot/internal/store"
)

// cptPlaceholderDescription is attached to CPT codes missing from the
// reference catalog. CPT space is treated as non-exhaustive, so an
// unknown code is accepted rather than dropped.
const cptPlaceholderDescription = "Description not available"

// Validator checks suggested codes against the reference catalog. The
// trust policy is asymmetric: unknown CPT codes survive with a
// placeholder description, unknown ICD-10 codes are dropped because the
// ICD-10 catalog is exhaustive and an absent code is an extraction error.
type Validator struct {
	codes store.CodeStore
}

// NewValidator creates a code validator over the given catalog.
func NewValidator(codes store.CodeStore) *Validator {
	return &Validator{codes: codes}
}

// Validate resolves the suggested code values with one batched catalog
// query per code type and returns the surviving codes with their
// catalog descriptions.
func (v *Validator) Validate(ctx context.Context, suggestedCPT, suggestedICD10 []string) (model.ValidatedCodes, error) {
	var out model.ValidatedCodes

	if len(suggestedCPT) > 0 {
		found, err := v.codes.FindCodes(ctx, model.CodeTypeCPT, suggestedCPT)
		if err != nil {
			return out, fmt.Errorf("validating CPT codes: %w", err)
		}
		byCode := make(map[string]model.CodeRef, len(found))
		for _, ref := range found {
			byCode[ref.Code] = ref
		}
		for _, code := range suggestedCPT {
			if ref, ok := byCode[code]; ok {
				out.CPTCodes = append(out.CPTCodes, ref)
				continue
			}
			out.CPTCodes = append(out.CPTCodes, model.CodeRef{
				Code:        code,
				Description: cptPlaceholderDescription,
			})
		}
	}

	if len(suggestedICD10) > 0 {
		found, err := v.codes.FindCodes(ctx, model.CodeTypeICD10, suggestedICD10)
		if err != nil {
			return out, fmt.Errorf("validating ICD-10 codes: %w", err)
		}
		byCode := make(map[string]model.CodeRef, len(found))
		for _, ref := range found {
			byCode[ref.Code] = ref
		}
		for _, code := range suggestedICD10 {
			if ref, ok := byCode[code]; ok {
				out.ICD10Codes = append(out.ICD10Codes, ref)
			}
		}
	}

	return out, nil
}
