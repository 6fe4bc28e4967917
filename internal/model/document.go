package model

import (
	"time"

	"github.com/google/uuid"
)

// DocumentPurpose tags what role an uploaded document plays in the claim.
type DocumentPurpose string

const (
	PurposeIntakeForm    DocumentPurpose = "INTAKE_FORM"
	PurposeInsuranceCard DocumentPurpose = "INSURANCE_CARD"
	PurposeEncounterNote DocumentPurpose = "ENCOUNTER_NOTE"
	PurposePolicyDoc     DocumentPurpose = "POLICY_DOC"
	PurposeClaimForm     DocumentPurpose = "CLAIM_FORM"
	PurposeUnknown       DocumentPurpose = "UNKNOWN"
)

// Document is an uploaded file plus its parsed text cache. A document
// always belongs to a patient and optionally to one claim.
//
// Once ParsedText is populated it is treated as an immutable cache:
// re-parsing is skipped and the stored text is returned verbatim.
type Document struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patient_id"`
	ClaimID   *uuid.UUID `json:"claim_id,omitempty"`

	FileName string          `json:"file_name"`
	FilePath string          `json:"file_path"`
	Purpose  DocumentPurpose `json:"document_purpose"`

	ParsedText *string   `json:"parsed_text,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}
