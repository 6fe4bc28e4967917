package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS patients (
		id UUID PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		date_of_birth DATE,
		address TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS claims (
		id UUID PRIMARY KEY,
		patient_id UUID NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		payer_name TEXT,
		insured_name TEXT,
		insured_policy_number TEXT,
		insured_group_number TEXT,
		patient_account_number TEXT,
		referring_provider_name TEXT,
		service_facility_name TEXT,
		service_facility_address TEXT,
		date_of_service TIMESTAMPTZ,
		total_amount NUMERIC(10,2),
		eligibility_status TEXT NOT NULL DEFAULT 'Unknown',
		compliance_flags JSONB,
		patient_responsibility_amount NUMERIC(10,2),
		payer_paid_amount NUMERIC(10,2),
		denial_reason TEXT,
		root_cause TEXT,
		recommended_action TEXT,
		submission_date TIMESTAMPTZ,
		adjudication_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_claims_patient ON claims(patient_id)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		patient_id UUID NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
		claim_id UUID REFERENCES claims(id) ON DELETE CASCADE,
		file_name TEXT NOT NULL,
		file_path TEXT NOT NULL,
		document_purpose TEXT NOT NULL DEFAULT 'UNKNOWN',
		parsed_text TEXT,
		uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_patient ON documents(patient_id)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_claim ON documents(claim_id)`,
	`CREATE TABLE IF NOT EXISTS service_lines (
		id UUID PRIMARY KEY,
		claim_id UUID NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
		cpt_code TEXT NOT NULL,
		icd10_codes TEXT[] NOT NULL DEFAULT '{}',
		charge NUMERIC(10,2) NOT NULL DEFAULT 0,
		confidence_score NUMERIC(3,2),
		diagnosis_pointer TEXT NOT NULL DEFAULT 'A'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_service_lines_claim ON service_lines(claim_id)`,
	`CREATE TABLE IF NOT EXISTS medical_codes (
		id UUID PRIMARY KEY,
		code_value TEXT NOT NULL,
		code_type TEXT NOT NULL,
		description TEXT NOT NULL,
		embedding REAL[],
		UNIQUE (code_value, code_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_medical_codes_lookup ON medical_codes(code_type, code_value)`,
	`CREATE TABLE IF NOT EXISTS policy_benefits (
		id UUID PRIMARY KEY,
		patient_id UUID NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
		source_document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		benefit_type TEXT NOT NULL,
		is_covered BOOLEAN NOT NULL DEFAULT FALSE,
		co_pay_amount NUMERIC(10,2),
		coverage_percent NUMERIC(5,2)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_policy_benefits_patient ON policy_benefits(patient_id)`,
	`CREATE INDEX IF NOT EXISTS idx_policy_benefits_source ON policy_benefits(source_document_id)`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
