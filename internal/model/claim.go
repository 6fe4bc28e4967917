package model

import (
	"time"

	"github.com/google/uuid"
)

// ClaimStatus is the lifecycle state of a claim.
//
// Transitions are monotonic per the state machine:
//
//	processing -> draft -> submitted -> approved|denied
//	approved   -> paid
//	denied     -> resubmitted
//
// Any stage failure during intake processing forces the claim to denied.
type ClaimStatus string

const (
	StatusProcessing  ClaimStatus = "processing"
	StatusDraft       ClaimStatus = "draft"
	StatusSubmitted   ClaimStatus = "submitted"
	StatusApproved    ClaimStatus = "approved"
	StatusDenied      ClaimStatus = "denied"
	StatusPaid        ClaimStatus = "paid"
	StatusResubmitted ClaimStatus = "resubmitted"
)

// Claim is the central work item of the processing pipeline.
type Claim struct {
	ID        uuid.UUID   `json:"id"`
	PatientID uuid.UUID   `json:"patient_id"`
	Status    ClaimStatus `json:"status"`

	// Claim-form fields, populated by the extraction stage.
	PayerName             *string    `json:"payer_name,omitempty"`
	InsuredName           *string    `json:"insured_name,omitempty"`
	InsuredPolicyNumber   *string    `json:"insured_policy_number,omitempty"`
	InsuredGroupNumber    *string    `json:"insured_group_number,omitempty"`
	PatientAccountNumber  *string    `json:"patient_account_number,omitempty"`
	ReferringProviderName *string    `json:"referring_provider_name,omitempty"`
	ServiceFacilityName   *string    `json:"service_facility_name,omitempty"`
	ServiceFacilityAddr   *string    `json:"service_facility_address,omitempty"`
	DateOfService         *time.Time `json:"date_of_service,omitempty"`
	TotalAmount           *float64   `json:"total_amount,omitempty"`

	// AI and eligibility fields.
	EligibilityStatus            string           `json:"eligibility_status"`
	ComplianceFlags              []ComplianceFlag `json:"compliance_flags"`
	PatientResponsibilityAmount  *float64         `json:"patient_responsibility_amount,omitempty"`
	PayerPaidAmount              *float64         `json:"payer_paid_amount,omitempty"`

	// Denial rationale, populated on pipeline failure or adjudication denial.
	DenialReason      *string `json:"denial_reason,omitempty"`
	RootCause         *string `json:"root_cause,omitempty"`
	RecommendedAction *string `json:"recommended_action,omitempty"`

	SubmissionDate   *time.Time `json:"submission_date,omitempty"`
	AdjudicationDate *time.Time `json:"adjudication_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ComplianceFlag is a single rule-violation annotation from the compliance
// stage. Level is "info", "warning" or "error".
type ComplianceFlag struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ServiceLine is one billable procedure row on a claim. Service lines are
// owned exclusively by one claim and are replaced wholesale each time the
// coding pipeline runs.
type ServiceLine struct {
	ID               uuid.UUID `json:"id"`
	ClaimID          uuid.UUID `json:"claim_id"`
	CPTCode          string    `json:"cpt_code"` // possibly modifier-suffixed, e.g. "99214-25"
	ICD10Codes       []string  `json:"icd10_codes"`
	Charge           float64   `json:"charge"`
	ConfidenceScore  *float64  `json:"confidence_score,omitempty"`
	DiagnosisPointer string    `json:"diagnosis_pointer"` // comma-joined letters, "A" = first diagnosis
}

// ClaimUpdate carries the extracted claim-form fields plus the
// pipeline-enriched eligibility/compliance fields. Nil pointers mean
// "leave unchanged"; the extraction stage only sets fields it actually
// found in the source documents.
type ClaimUpdate struct {
	PayerName             *string    `json:"payer_name"`
	InsuredName           *string    `json:"insured_name"`
	InsuredPolicyNumber   *string    `json:"insured_policy_number"`
	InsuredGroupNumber    *string    `json:"insured_group_number"`
	PatientAccountNumber  *string    `json:"patient_account_number"`
	ReferringProviderName *string    `json:"referring_provider_name"`
	ServiceFacilityName   *string    `json:"service_facility_name"`
	ServiceFacilityAddr   *string    `json:"service_facility_address"`
	DateOfService         *time.Time `json:"date_of_service"`
	TotalAmount           *float64   `json:"total_amount"`

	EligibilityStatus           *string          `json:"eligibility_status"`
	ComplianceFlags             []ComplianceFlag `json:"compliance_flags"`
	PatientResponsibilityAmount *float64         `json:"patient_responsibility_amount"`
}

// Denial carries the rationale recorded when a claim is denied, either by
// the intake pipeline (reason only) or by the adjudication simulator.
type Denial struct {
	Reason            string
	RootCause         string
	RecommendedAction string
}
