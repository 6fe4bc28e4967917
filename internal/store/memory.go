package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orthopilot/claimpilot/internal/model"
)

// Memory is an in-memory Store used by tests and local development.
// All methods are safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]*model.Patient
	claims   map[uuid.UUID]*model.Claim
	docs     map[uuid.UUID]*model.Document
	lines    map[uuid.UUID][]model.ServiceLine // keyed by claim id
	codes    map[uuid.UUID]*model.MedicalCode
	benefits map[uuid.UUID]*model.PolicyBenefit
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		patients: make(map[uuid.UUID]*model.Patient),
		claims:   make(map[uuid.UUID]*model.Claim),
		docs:     make(map[uuid.UUID]*model.Document),
		lines:    make(map[uuid.UUID][]model.ServiceLine),
		codes:    make(map[uuid.UUID]*model.MedicalCode),
		benefits: make(map[uuid.UUID]*model.PolicyBenefit),
	}
}

// -- Patients --

func (m *Memory) CreatePatient(ctx context.Context, p *model.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *Memory) GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) DeletePatient(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[id]; !ok {
		return ErrNotFound
	}
	delete(m.patients, id)
	for cid, c := range m.claims {
		if c.PatientID == id {
			delete(m.claims, cid)
			delete(m.lines, cid)
		}
	}
	for did, d := range m.docs {
		if d.PatientID == id {
			delete(m.docs, did)
		}
	}
	for bid, b := range m.benefits {
		if b.PatientID == id {
			delete(m.benefits, bid)
		}
	}
	return nil
}

// -- Claims --

func (m *Memory) CreateClaim(ctx context.Context, c *model.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = model.StatusProcessing
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	m.claims[c.ID] = &cp
	return nil
}

func (m *Memory) GetClaim(ctx context.Context, id uuid.UUID) (*model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListClaims(ctx context.Context, limit, offset int) ([]*model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*model.Claim, 0, len(m.claims))
	for _, c := range m.claims {
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *Memory) UpdateClaim(ctx context.Context, id uuid.UUID, upd model.ClaimUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return ErrNotFound
	}
	if upd.PayerName != nil {
		c.PayerName = upd.PayerName
	}
	if upd.InsuredName != nil {
		c.InsuredName = upd.InsuredName
	}
	if upd.InsuredPolicyNumber != nil {
		c.InsuredPolicyNumber = upd.InsuredPolicyNumber
	}
	if upd.InsuredGroupNumber != nil {
		c.InsuredGroupNumber = upd.InsuredGroupNumber
	}
	if upd.PatientAccountNumber != nil {
		c.PatientAccountNumber = upd.PatientAccountNumber
	}
	if upd.ReferringProviderName != nil {
		c.ReferringProviderName = upd.ReferringProviderName
	}
	if upd.ServiceFacilityName != nil {
		c.ServiceFacilityName = upd.ServiceFacilityName
	}
	if upd.ServiceFacilityAddr != nil {
		c.ServiceFacilityAddr = upd.ServiceFacilityAddr
	}
	if upd.DateOfService != nil {
		c.DateOfService = upd.DateOfService
	}
	if upd.TotalAmount != nil {
		c.TotalAmount = upd.TotalAmount
	}
	if upd.EligibilityStatus != nil {
		c.EligibilityStatus = *upd.EligibilityStatus
	}
	if upd.ComplianceFlags != nil {
		c.ComplianceFlags = upd.ComplianceFlags
	}
	if upd.PatientResponsibilityAmount != nil {
		c.PatientResponsibilityAmount = upd.PatientResponsibilityAmount
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) UpdateClaimStatus(ctx context.Context, id uuid.UUID, status model.ClaimStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = model.StatusSubmitted
	c.SubmissionDate = &at
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) MarkDenied(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = model.StatusDenied
	c.DenialReason = &reason
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) RecordAdjudication(ctx context.Context, id uuid.UUID, ad Adjudication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = ad.Status
	c.AdjudicationDate = &ad.At
	if ad.PayerPaidAmount != nil {
		c.PayerPaidAmount = ad.PayerPaidAmount
	}
	if ad.PatientResponsibility != nil {
		c.PatientResponsibilityAmount = ad.PatientResponsibility
	}
	if ad.Denial != nil {
		c.DenialReason = &ad.Denial.Reason
		c.RootCause = &ad.Denial.RootCause
		c.RecommendedAction = &ad.Denial.RecommendedAction
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ReplaceServiceLines(ctx context.Context, claimID uuid.UUID, lines []model.ServiceLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	replaced := make([]model.ServiceLine, len(lines))
	for i, l := range lines {
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		l.ClaimID = claimID
		replaced[i] = l
	}
	m.lines[claimID] = replaced
	return nil
}

func (m *Memory) ListServiceLines(ctx context.Context, claimID uuid.UUID) ([]model.ServiceLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ServiceLine, len(m.lines[claimID]))
	copy(out, m.lines[claimID])
	return out, nil
}

// -- Documents --

func (m *Memory) CreateDocument(ctx context.Context, d *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Purpose == "" {
		d.Purpose = model.PurposeUnknown
	}
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now().UTC()
	}
	cp := *d
	m.docs[d.ID] = &cp
	return nil
}

func (m *Memory) GetDocument(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) ListPatientDocuments(ctx context.Context, patientID uuid.UUID) ([]*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Document
	for _, d := range m.docs {
		if d.PatientID == patientID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}

func (m *Memory) ListClaimDocuments(ctx context.Context, claimID uuid.UUID) ([]*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Document
	for _, d := range m.docs {
		if d.ClaimID != nil && *d.ClaimID == claimID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}

func (m *Memory) SetParsedText(ctx context.Context, id uuid.UUID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	d.ParsedText = &text
	return nil
}

// -- Codes --

func (m *Memory) UpsertCodes(ctx context.Context, codes []model.MedicalCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range codes {
		var existing *model.MedicalCode
		for _, have := range m.codes {
			if have.Value == c.Value && have.Type == c.Type {
				existing = have
				break
			}
		}
		if existing != nil {
			existing.Description = c.Description
			continue
		}
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		cp := c
		m.codes[c.ID] = &cp
	}
	return nil
}

func (m *Memory) FindCodes(ctx context.Context, codeType model.CodeType, values []string) ([]model.CodeRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[v] = true
	}
	var out []model.CodeRef
	for _, c := range m.codes {
		if c.Type == codeType && want[c.Value] {
			out = append(out, model.CodeRef{Code: c.Value, Description: c.Description})
		}
	}
	return out, nil
}

func (m *Memory) ListUnembedded(ctx context.Context, limit int) ([]*model.MedicalCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.MedicalCode
	for _, c := range m.codes {
		if len(c.Embedding) == 0 && strings.TrimSpace(c.Description) != "" {
			cp := *c
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) SetEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[id]
	if !ok {
		return ErrNotFound
	}
	c.Embedding = vector
	return nil
}

func (m *Memory) NearestICD10(ctx context.Context, vector []float32, k int) ([]model.CodeRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var icd []*model.MedicalCode
	for _, c := range m.codes {
		if c.Type == model.CodeTypeICD10 {
			icd = append(icd, c)
		}
	}
	return rankNearest(icd, vector, k), nil
}

// -- Benefits --

func (m *Memory) ReplaceBenefits(ctx context.Context, patientID, sourceDocumentID uuid.UUID, benefits []model.PolicyBenefit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.benefits {
		if b.SourceDocumentID == sourceDocumentID {
			delete(m.benefits, id)
		}
	}
	for _, b := range benefits {
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		b.PatientID = patientID
		b.SourceDocumentID = sourceDocumentID
		cp := b
		m.benefits[b.ID] = &cp
	}
	return nil
}

func (m *Memory) ListBenefits(ctx context.Context, patientID uuid.UUID) ([]*model.PolicyBenefit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.PolicyBenefit
	for _, b := range m.benefits {
		if b.PatientID == patientID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BenefitType < out[j].BenefitType })
	return out, nil
}

var _ Store = (*Memory)(nil)
