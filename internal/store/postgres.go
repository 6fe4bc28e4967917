package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orthopilot/claimpilot/internal/model"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps the given pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// NewPool connects to the database and verifies the connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// -- Patients --

func (s *Postgres) CreatePatient(ctx context.Context, p *model.Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO patients (id, first_name, last_name, date_of_birth, address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Address, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *Postgres) GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	var p model.Patient
	err := s.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, date_of_birth, address, created_at, updated_at
		FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Address, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) DeletePatient(ctx context.Context, id uuid.UUID) error {
	// Owned claims, documents, service lines and benefits go with the
	// patient via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Claims --

const claimCols = `id, patient_id, status, payer_name, insured_name,
	insured_policy_number, insured_group_number, patient_account_number,
	referring_provider_name, service_facility_name, service_facility_address,
	date_of_service, total_amount, eligibility_status, compliance_flags,
	patient_responsibility_amount, payer_paid_amount, denial_reason,
	root_cause, recommended_action, submission_date, adjudication_date,
	created_at, updated_at`

func scanClaim(row pgx.Row) (*model.Claim, error) {
	var c model.Claim
	var flags []byte
	err := row.Scan(&c.ID, &c.PatientID, &c.Status, &c.PayerName, &c.InsuredName,
		&c.InsuredPolicyNumber, &c.InsuredGroupNumber, &c.PatientAccountNumber,
		&c.ReferringProviderName, &c.ServiceFacilityName, &c.ServiceFacilityAddr,
		&c.DateOfService, &c.TotalAmount, &c.EligibilityStatus, &flags,
		&c.PatientResponsibilityAmount, &c.PayerPaidAmount, &c.DenialReason,
		&c.RootCause, &c.RecommendedAction, &c.SubmissionDate, &c.AdjudicationDate,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &c.ComplianceFlags); err != nil {
			return nil, fmt.Errorf("decode compliance flags: %w", err)
		}
	}
	return &c, nil
}

func (s *Postgres) CreateClaim(ctx context.Context, c *model.Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = model.StatusProcessing
	}
	if c.EligibilityStatus == "" {
		c.EligibilityStatus = "Unknown"
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO claims (id, patient_id, status, eligibility_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.PatientID, c.Status, c.EligibilityStatus, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s *Postgres) GetClaim(ctx context.Context, id uuid.UUID) (*model.Claim, error) {
	c, err := scanClaim(s.pool.QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *Postgres) ListClaims(ctx context.Context, limit, offset int) ([]*model.Claim, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+claimCols+` FROM claims
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateClaim(ctx context.Context, id uuid.UUID, upd model.ClaimUpdate) error {
	var flags []byte
	if upd.ComplianceFlags != nil {
		var err error
		flags, err = json.Marshal(upd.ComplianceFlags)
		if err != nil {
			return fmt.Errorf("encode compliance flags: %w", err)
		}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE claims SET
			payer_name = COALESCE($2, payer_name),
			insured_name = COALESCE($3, insured_name),
			insured_policy_number = COALESCE($4, insured_policy_number),
			insured_group_number = COALESCE($5, insured_group_number),
			patient_account_number = COALESCE($6, patient_account_number),
			referring_provider_name = COALESCE($7, referring_provider_name),
			service_facility_name = COALESCE($8, service_facility_name),
			service_facility_address = COALESCE($9, service_facility_address),
			date_of_service = COALESCE($10, date_of_service),
			total_amount = COALESCE($11, total_amount),
			eligibility_status = COALESCE($12, eligibility_status),
			compliance_flags = COALESCE($13, compliance_flags),
			patient_responsibility_amount = COALESCE($14, patient_responsibility_amount),
			updated_at = now()
		WHERE id = $1`,
		id, upd.PayerName, upd.InsuredName, upd.InsuredPolicyNumber,
		upd.InsuredGroupNumber, upd.PatientAccountNumber, upd.ReferringProviderName,
		upd.ServiceFacilityName, upd.ServiceFacilityAddr, upd.DateOfService,
		upd.TotalAmount, upd.EligibilityStatus, flags, upd.PatientResponsibilityAmount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) UpdateClaimStatus(ctx context.Context, id uuid.UUID, status model.ClaimStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE claims SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE claims SET status = $2, submission_date = $3, updated_at = now()
		WHERE id = $1`, id, model.StatusSubmitted, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) MarkDenied(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE claims SET status = $2, denial_reason = $3, updated_at = now()
		WHERE id = $1`, id, model.StatusDenied, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) RecordAdjudication(ctx context.Context, id uuid.UUID, ad Adjudication) error {
	var reason, rootCause, action *string
	if ad.Denial != nil {
		reason, rootCause, action = &ad.Denial.Reason, &ad.Denial.RootCause, &ad.Denial.RecommendedAction
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE claims SET
			status = $2,
			adjudication_date = $3,
			payer_paid_amount = COALESCE($4, payer_paid_amount),
			patient_responsibility_amount = COALESCE($5, patient_responsibility_amount),
			denial_reason = COALESCE($6, denial_reason),
			root_cause = COALESCE($7, root_cause),
			recommended_action = COALESCE($8, recommended_action),
			updated_at = now()
		WHERE id = $1`,
		id, ad.Status, ad.At, ad.PayerPaidAmount, ad.PatientResponsibility,
		reason, rootCause, action)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ReplaceServiceLines(ctx context.Context, claimID uuid.UUID, lines []model.ServiceLine) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Delete-then-insert, never an incremental merge.
	if _, err := tx.Exec(ctx, `DELETE FROM service_lines WHERE claim_id = $1`, claimID); err != nil {
		return err
	}
	for i := range lines {
		l := &lines[i]
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		l.ClaimID = claimID
		if _, err := tx.Exec(ctx, `
			INSERT INTO service_lines (id, claim_id, cpt_code, icd10_codes, charge, confidence_score, diagnosis_pointer)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			l.ID, l.ClaimID, l.CPTCode, l.ICD10Codes, l.Charge, l.ConfidenceScore, l.DiagnosisPointer); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Postgres) ListServiceLines(ctx context.Context, claimID uuid.UUID) ([]model.ServiceLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, claim_id, cpt_code, icd10_codes, charge, confidence_score, diagnosis_pointer
		FROM service_lines WHERE claim_id = $1 ORDER BY cpt_code`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ServiceLine
	for rows.Next() {
		var l model.ServiceLine
		if err := rows.Scan(&l.ID, &l.ClaimID, &l.CPTCode, &l.ICD10Codes, &l.Charge, &l.ConfidenceScore, &l.DiagnosisPointer); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// -- Documents --

func (s *Postgres) CreateDocument(ctx context.Context, d *model.Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Purpose == "" {
		d.Purpose = model.PurposeUnknown
	}
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, patient_id, claim_id, file_name, file_path, document_purpose, parsed_text, uploaded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.PatientID, d.ClaimID, d.FileName, d.FilePath, d.Purpose, d.ParsedText, d.UploadedAt)
	return err
}

const docCols = `id, patient_id, claim_id, file_name, file_path, document_purpose, parsed_text, uploaded_at`

func scanDocument(row pgx.Row) (*model.Document, error) {
	var d model.Document
	err := row.Scan(&d.ID, &d.PatientID, &d.ClaimID, &d.FileName, &d.FilePath, &d.Purpose, &d.ParsedText, &d.UploadedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Postgres) GetDocument(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx, `SELECT `+docCols+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *Postgres) listDocuments(ctx context.Context, query string, arg any) ([]*model.Document, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Postgres) ListPatientDocuments(ctx context.Context, patientID uuid.UUID) ([]*model.Document, error) {
	return s.listDocuments(ctx,
		`SELECT `+docCols+` FROM documents WHERE patient_id = $1 ORDER BY uploaded_at`, patientID)
}

func (s *Postgres) ListClaimDocuments(ctx context.Context, claimID uuid.UUID) ([]*model.Document, error) {
	return s.listDocuments(ctx,
		`SELECT `+docCols+` FROM documents WHERE claim_id = $1 ORDER BY uploaded_at`, claimID)
}

func (s *Postgres) SetParsedText(ctx context.Context, id uuid.UUID, text string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET parsed_text = $2 WHERE id = $1`, id, text)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Codes --

func (s *Postgres) UpsertCodes(ctx context.Context, codes []model.MedicalCode) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range codes {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO medical_codes (id, code_value, code_type, description)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (code_value, code_type) DO UPDATE SET description = EXCLUDED.description`,
			c.ID, c.Value, c.Type, c.Description); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Postgres) FindCodes(ctx context.Context, codeType model.CodeType, values []string) ([]model.CodeRef, error) {
	if len(values) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT code_value, description FROM medical_codes
		WHERE code_type = $1 AND code_value = ANY($2)`, codeType, values)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CodeRef
	for rows.Next() {
		var r model.CodeRef
		if err := rows.Scan(&r.Code, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) ListUnembedded(ctx context.Context, limit int) ([]*model.MedicalCode, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, code_value, code_type, description FROM medical_codes
		WHERE embedding IS NULL AND btrim(description) <> ''
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.MedicalCode
	for rows.Next() {
		var c model.MedicalCode
		if err := rows.Scan(&c.ID, &c.Value, &c.Type, &c.Description); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *Postgres) SetEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE medical_codes SET embedding = $2 WHERE id = $1`, id, vector)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) NearestICD10(ctx context.Context, vector []float32, k int) ([]model.CodeRef, error) {
	// Ranking happens in-process: the catalog is small enough that pulling
	// the embedded ICD-10 rows beats maintaining a vector index extension.
	rows, err := s.pool.Query(ctx, `
		SELECT id, code_value, code_type, description, embedding
		FROM medical_codes
		WHERE code_type = $1 AND embedding IS NOT NULL`, model.CodeTypeICD10)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []*model.MedicalCode
	for rows.Next() {
		var c model.MedicalCode
		if err := rows.Scan(&c.ID, &c.Value, &c.Type, &c.Description, &c.Embedding); err != nil {
			return nil, err
		}
		codes = append(codes, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankNearest(codes, vector, k), nil
}

// -- Benefits --

func (s *Postgres) ReplaceBenefits(ctx context.Context, patientID, sourceDocumentID uuid.UUID, benefits []model.PolicyBenefit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM policy_benefits WHERE source_document_id = $1`, sourceDocumentID); err != nil {
		return err
	}
	for _, b := range benefits {
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO policy_benefits (id, patient_id, source_document_id, benefit_type, is_covered, co_pay_amount, coverage_percent)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			b.ID, patientID, sourceDocumentID, b.BenefitType, b.IsCovered, b.CoPayAmount, b.CoveragePercent); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Postgres) ListBenefits(ctx context.Context, patientID uuid.UUID) ([]*model.PolicyBenefit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, patient_id, source_document_id, benefit_type, is_covered, co_pay_amount, coverage_percent
		FROM policy_benefits WHERE patient_id = $1 ORDER BY benefit_type`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PolicyBenefit
	for rows.Next() {
		var b model.PolicyBenefit
		if err := rows.Scan(&b.ID, &b.PatientID, &b.SourceDocumentID, &b.BenefitType, &b.IsCovered, &b.CoPayAmount, &b.CoveragePercent); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

var _ Store = (*Postgres)(nil)
