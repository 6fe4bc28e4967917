package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/orthopilot/claimpilot/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// Adjudication records the outcome of the payer simulation for a claim.
type Adjudication struct {
	Status                model.ClaimStatus // StatusApproved or StatusDenied
	PayerPaidAmount       *float64
	PatientResponsibility *float64
	Denial                *model.Denial
	At                    time.Time
}

// PatientStore persists patient identities.
type PatientStore interface {
	CreatePatient(ctx context.Context, p *model.Patient) error
	GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	// DeletePatient cascades to the patient's claims, documents,
	// service lines and policy benefits.
	DeletePatient(ctx context.Context, id uuid.UUID) error
}

// ClaimStore persists claims and their service lines.
type ClaimStore interface {
	CreateClaim(ctx context.Context, c *model.Claim) error
	GetClaim(ctx context.Context, id uuid.UUID) (*model.Claim, error)
	ListClaims(ctx context.Context, limit, offset int) ([]*model.Claim, error)

	UpdateClaim(ctx context.Context, id uuid.UUID, upd model.ClaimUpdate) error
	UpdateClaimStatus(ctx context.Context, id uuid.UUID, status model.ClaimStatus) error
	// MarkSubmitted moves the claim to submitted and records the
	// submission date.
	MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkDenied forces the claim to denied with a human-readable reason,
	// visible without log access.
	MarkDenied(ctx context.Context, id uuid.UUID, reason string) error
	// RecordAdjudication applies the simulator's decision in one write.
	RecordAdjudication(ctx context.Context, id uuid.UUID, ad Adjudication) error

	// ReplaceServiceLines deletes every existing line for the claim and
	// inserts the given ones in a single transaction. Never a merge.
	ReplaceServiceLines(ctx context.Context, claimID uuid.UUID, lines []model.ServiceLine) error
	ListServiceLines(ctx context.Context, claimID uuid.UUID) ([]model.ServiceLine, error)
}

// DocumentStore persists uploaded documents and their parsed-text cache.
type DocumentStore interface {
	CreateDocument(ctx context.Context, d *model.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*model.Document, error)
	ListPatientDocuments(ctx context.Context, patientID uuid.UUID) ([]*model.Document, error)
	ListClaimDocuments(ctx context.Context, claimID uuid.UUID) ([]*model.Document, error)
	// SetParsedText writes the parse cache. Writing the same text twice
	// is harmless; the field is never cleared once set.
	SetParsedText(ctx context.Context, id uuid.UUID, text string) error
}

// CodeStore is the read-mostly CPT/ICD-10 reference catalog.
type CodeStore interface {
	UpsertCodes(ctx context.Context, codes []model.MedicalCode) error
	// FindCodes resolves the given code values of one type in a single
	// batched query, preserving no particular order.
	FindCodes(ctx context.Context, codeType model.CodeType, values []string) ([]model.CodeRef, error)
	// ListUnembedded returns catalog rows that still need an embedding,
	// skipping rows with blank descriptions.
	ListUnembedded(ctx context.Context, limit int) ([]*model.MedicalCode, error)
	SetEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error
	// NearestICD10 returns up to k ICD-10 rows ranked by ascending cosine
	// distance from the query vector.
	NearestICD10(ctx context.Context, vector []float32, k int) ([]model.CodeRef, error)
}

// BenefitStore persists per-patient policy benefits.
type BenefitStore interface {
	// ReplaceBenefits deletes all benefits previously derived from the
	// source document and inserts the given ones, so re-processing the
	// same policy document is idempotent.
	ReplaceBenefits(ctx context.Context, patientID, sourceDocumentID uuid.UUID, benefits []model.PolicyBenefit) error
	ListBenefits(ctx context.Context, patientID uuid.UUID) ([]*model.PolicyBenefit, error)
}

// Store bundles every repository the pipeline and API layer need.
type Store interface {
	PatientStore
	ClaimStore
	DocumentStore
	CodeStore
	BenefitStore
}
