package model

import "github.com/google/uuid"

// CodeType distinguishes the two reference code systems in the catalog.
type CodeType string

const (
	CodeTypeCPT   CodeType = "CPT"
	CodeTypeICD10 CodeType = "ICD-10"
)

// MedicalCode is one read-only reference row of the CPT/ICD-10 catalog.
// Uniqueness is on (Value, Type). Embedding is the vector of the
// description text, used for semantic candidate retrieval; it is empty
// until the embedding backfill has run for the row.
type MedicalCode struct {
	ID          uuid.UUID `json:"id"`
	Value       string    `json:"code_value"`
	Type        CodeType  `json:"code_type"`
	Description string    `json:"description"`
	Embedding   []float32 `json:"-"`
}

// CodeRef is the (code, description) pair passed between pipeline stages.
type CodeRef struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// ValidatedCodes is the output of the code validator: the suggested codes
// that survived the reference-table check, with their catalog descriptions.
type ValidatedCodes struct {
	CPTCodes   []CodeRef `json:"cpt_codes"`
	ICD10Codes []CodeRef `json:"icd10_codes"`
}
