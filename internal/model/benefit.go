package model

import "github.com/google/uuid"

// PolicyBenefit is one covered-benefit rule extracted from a patient's
// policy document. Re-processing the same source document replaces all
// benefits previously derived from it.
type PolicyBenefit struct {
	ID               uuid.UUID `json:"id"`
	PatientID        uuid.UUID `json:"patient_id"`
	SourceDocumentID uuid.UUID `json:"source_document_id"`

	BenefitType     string   `json:"benefit_type"` // e.g. "Office Visit", "Specialist Visit"
	IsCovered       bool     `json:"is_covered"`
	CoPayAmount     *float64 `json:"co_pay_amount,omitempty"`
	CoveragePercent *float64 `json:"coverage_percent,omitempty"` // e.g. 80 for 80%
}
