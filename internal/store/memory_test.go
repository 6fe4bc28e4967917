package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/orthopilot/claimpilot/internal/model"
)

func seedPatient(t *testing.T, m *Memory) *model.Patient {
	t.Helper()
	p := &model.Patient{FirstName: "Jane", LastName: "Doe"}
	if err := m.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	return p
}

func TestReplaceServiceLines_DeleteThenInsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := seedPatient(t, m)

	claim := &model.Claim{PatientID: p.ID}
	if err := m.CreateClaim(ctx, claim); err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}

	first := []model.ServiceLine{
		{CPTCode: "99213", Charge: 100},
		{CPTCode: "73721", Charge: 400},
	}
	if err := m.ReplaceServiceLines(ctx, claim.ID, first); err != nil {
		t.Fatalf("ReplaceServiceLines: %v", err)
	}

	second := []model.ServiceLine{{CPTCode: "99214-25", Charge: 150}}
	if err := m.ReplaceServiceLines(ctx, claim.ID, second); err != nil {
		t.Fatalf("ReplaceServiceLines: %v", err)
	}

	lines, err := m.ListServiceLines(ctx, claim.ID)
	if err != nil {
		t.Fatalf("ListServiceLines: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected full replacement to leave 1 line, got %d", len(lines))
	}
	if lines[0].CPTCode != "99214-25" {
		t.Errorf("expected 99214-25, got %s", lines[0].CPTCode)
	}
}

func TestReplaceBenefits_IdempotentRerun(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := seedPatient(t, m)

	doc := &model.Document{PatientID: p.ID, FileName: "policy.pdf", Purpose: model.PurposePolicyDoc}
	if err := m.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	firstRun := []model.PolicyBenefit{
		{BenefitType: "Office Visit", IsCovered: true},
		{BenefitType: "Emergency Room", IsCovered: true},
	}
	if err := m.ReplaceBenefits(ctx, p.ID, doc.ID, firstRun); err != nil {
		t.Fatalf("ReplaceBenefits: %v", err)
	}

	secondRun := []model.PolicyBenefit{{BenefitType: "Specialist Visit", IsCovered: true}}
	if err := m.ReplaceBenefits(ctx, p.ID, doc.ID, secondRun); err != nil {
		t.Fatalf("ReplaceBenefits: %v", err)
	}

	benefits, err := m.ListBenefits(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListBenefits: %v", err)
	}
	if len(benefits) != 1 {
		t.Fatalf("expected only second-run benefits, got %d rows", len(benefits))
	}
	if benefits[0].BenefitType != "Specialist Visit" {
		t.Errorf("expected Specialist Visit, got %s", benefits[0].BenefitType)
	}
}

func TestDeletePatient_Cascades(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := seedPatient(t, m)

	claim := &model.Claim{PatientID: p.ID}
	if err := m.CreateClaim(ctx, claim); err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}
	doc := &model.Document{PatientID: p.ID, FileName: "intake.pdf"}
	if err := m.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := m.ReplaceBenefits(ctx, p.ID, doc.ID, []model.PolicyBenefit{{BenefitType: "Office Visit"}}); err != nil {
		t.Fatalf("ReplaceBenefits: %v", err)
	}

	if err := m.DeletePatient(ctx, p.ID); err != nil {
		t.Fatalf("DeletePatient: %v", err)
	}

	if _, err := m.GetClaim(ctx, claim.ID); err != ErrNotFound {
		t.Errorf("expected claim to be cascade-deleted, got %v", err)
	}
	if _, err := m.GetDocument(ctx, doc.ID); err != ErrNotFound {
		t.Errorf("expected document to be cascade-deleted, got %v", err)
	}
	benefits, _ := m.ListBenefits(ctx, p.ID)
	if len(benefits) != 0 {
		t.Errorf("expected benefits to be cascade-deleted, got %d", len(benefits))
	}
}

func TestMarkSubmitted_RecordsDate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := seedPatient(t, m)

	claim := &model.Claim{PatientID: p.ID, Status: model.StatusDraft}
	if err := m.CreateClaim(ctx, claim); err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := m.MarkSubmitted(ctx, claim.ID, at); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}

	got, err := m.GetClaim(ctx, claim.ID)
	if err != nil {
		t.Fatalf("GetClaim: %v", err)
	}
	if got.Status != model.StatusSubmitted {
		t.Errorf("expected submitted, got %s", got.Status)
	}
	if got.SubmissionDate == nil || !got.SubmissionDate.Equal(at) {
		t.Errorf("expected submission date %v, got %v", at, got.SubmissionDate)
	}
}

func TestSetParsedText_NotFound(t *testing.T) {
	m := NewMemory()
	if err := m.SetParsedText(context.Background(), uuid.New(), "text"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertCodes_UniqueOnValueAndType(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	codes := []model.MedicalCode{
		{Value: "M17.11", Type: model.CodeTypeICD10, Description: "Unilateral osteoarthritis, right knee"},
		{Value: "M17.11", Type: model.CodeTypeICD10, Description: "Unilateral primary osteoarthritis, right knee"},
	}
	if err := m.UpsertCodes(ctx, codes); err != nil {
		t.Fatalf("UpsertCodes: %v", err)
	}

	found, err := m.FindCodes(ctx, model.CodeTypeICD10, []string{"M17.11"})
	if err != nil {
		t.Fatalf("FindCodes: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 row for duplicate upsert, got %d", len(found))
	}
	if found[0].Description != "Unilateral primary osteoarthritis, right knee" {
		t.Errorf("expected upsert to update description, got %q", found[0].Description)
	}
}
