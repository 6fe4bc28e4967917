package stage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/orthopilot/claimpilot/internal/model"
)

// scriptedLLM replays canned chat responses and records the prompts.
type scriptedLLM struct {
	responses []json.RawMessage
	err       error
	calls     int
	systems   []string
	users     []string
}

func (s *scriptedLLM) ChatJSON(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error) {
	s.systems = append(s.systems, systemPrompt)
	s.users = append(s.users, userPrompt)
	if s.err != nil {
		return nil, s.err
	}
	if s.calls >= len(s.responses) {
		return nil, errors.New("scriptedLLM: no response scripted for call")
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func (s *scriptedLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func TestSynthesize_DecodesDraftAndIgnoresExtraKeys(t *testing.T) {
	client := &scriptedLLM{responses: []json.RawMessage{json.RawMessage(`{
		"payer_name": "CIGNA",
		"insured_name": "DOE, JANE",
		"insured_policy_number": "XYZ123",
		"insured_group_number": null,
		"date_of_service": "2026-03-14",
		"total_amount": 350.0,
		"service_lines": [{"cpt_code": "99213", "charge_amount": 150.0}],
		"surprise_field": "ignored"
	}`)}}

	draft, err := NewSynthesizer(client).Synthesize(context.Background(), map[model.DocumentPurpose]string{
		model.PurposeEncounterNote: "Patient presents with right knee pain.",
		model.PurposeInsuranceCard: "CIGNA member XYZ123",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if draft.PayerName == nil || *draft.PayerName != "CIGNA" {
		t.Errorf("payer_name not decoded: %v", draft.PayerName)
	}
	if draft.InsuredGroupNumber != nil {
		t.Errorf("null field must stay nil, got %q", *draft.InsuredGroupNumber)
	}
	if charge, ok := draft.ChargeFor("99213"); !ok || charge != 150.0 {
		t.Errorf("ChargeFor(99213) = %v, %v", charge, ok)
	}

	upd := draft.ToClaimUpdate()
	if upd.DateOfService == nil || upd.DateOfService.Format("2006-01-02") != "2026-03-14" {
		t.Errorf("date_of_service not parsed: %v", upd.DateOfService)
	}
}

func TestSynthesize_DelimitsEveryDocumentByPurpose(t *testing.T) {
	client := &scriptedLLM{responses: []json.RawMessage{json.RawMessage(`{}`)}}
	_, err := NewSynthesizer(client).Synthesize(context.Background(), map[model.DocumentPurpose]string{
		model.PurposeEncounterNote: "note text",
		model.PurposeIntakeForm:    "intake text",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	prompt := client.users[0]
	for _, want := range []string{"DOCUMENT (ENCOUNTER_NOTE)", "DOCUMENT (INTAKE_FORM)", "note text", "intake text"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestSynthesize_BadDateTreatedAsAbsent(t *testing.T) {
	client := &scriptedLLM{responses: []json.RawMessage{json.RawMessage(`{"date_of_service": "03/14/2026"}`)}}
	draft, err := NewSynthesizer(client).Synthesize(context.Background(), map[model.DocumentPurpose]string{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if upd := draft.ToClaimUpdate(); upd.DateOfService != nil {
		t.Errorf("unparseable date must map to nil, got %v", upd.DateOfService)
	}
}

func TestSuggest_FiltersMalformedCPTCodes(t *testing.T) {
	client := &scriptedLLM{responses: []json.RawMessage{json.RawMessage(`{
		"icd10_search_terms": ["right knee pain"],
		"suggested_cpt_codes": ["99213", "the office visit code 99214", "J3301", ""]
	}`)}}

	out, err := NewCoder(client).Suggest(context.Background(), "note", ClaimDraft{})
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	want := []string{"99213", "J3301"}
	if len(out.SuggestedCPTCodes) != len(want) {
		t.Fatalf("expected %v, got %v", want, out.SuggestedCPTCodes)
	}
	for i, code := range want {
		if out.SuggestedCPTCodes[i] != code {
			t.Errorf("code[%d] = %q, want %q", i, out.SuggestedCPTCodes[i], code)
		}
	}
	if len(out.ICD10SearchTerms) != 1 || out.ICD10SearchTerms[0] != "right knee pain" {
		t.Errorf("search terms not decoded: %v", out.ICD10SearchTerms)
	}
}

func TestSelectFinal_DropsNonCandidates(t *testing.T) {
	candidates := []model.CodeRef{
		{Code: "M25.561", Description: "Pain in right knee"},
		{Code: "M17.11", Description: "Osteoarthritis, right knee"},
	}
	client := &scriptedLLM{responses: []json.RawMessage{json.RawMessage(`{
		"selected_icd10_codes": ["M25.561", "Z99.999", "M25.561"]
	}`)}}

	selected, err := NewCoder(client).SelectFinal(context.Background(), "note", candidates)
	if err != nil {
		t.Fatalf("SelectFinal: %v", err)
	}
	if len(selected) != 1 || selected[0] != "M25.561" {
		t.Errorf("expected only the verbatim candidate once, got %v", selected)
	}
}

func TestSelectFinal_NeverEmptyWithCandidates(t *testing.T) {
	candidates := []model.CodeRef{
		{Code: "M25.561", Description: "Pain in right knee"},
		{Code: "M17.11", Description: "Osteoarthritis, right knee"},
	}
	client := &scriptedLLM{responses: []json.RawMessage{json.RawMessage(`{"selected_icd10_codes": []}`)}}

	selected, err := NewCoder(client).SelectFinal(context.Background(), "note", candidates)
	if err != nil {
		t.Fatalf("SelectFinal: %v", err)
	}
	if len(selected) != 1 || selected[0] != "M25.561" {
		t.Errorf("expected fallback to the nearest candidate, got %v", selected)
	}
}

func TestSelectFinal_NoCandidatesNoCall(t *testing.T) {
	client := &scriptedLLM{}
	selected, err := NewCoder(client).SelectFinal(context.Background(), "note", nil)
	if err != nil {
		t.Fatalf("SelectFinal: %v", err)
	}
	if len(selected) != 0 {
		t.Errorf("expected no selection without candidates, got %v", selected)
	}
	if client.calls != 0 {
		t.Error("empty candidate list must not reach the model")
	}
}

func TestReview_DecodesAnnotations(t *testing.T) {
	client := &scriptedLLM{responses: []json.RawMessage{json.RawMessage(`{
		"compliance_flags": [{"level": "warning", "message": "Missing laterality in documentation"}],
		"confidence_scores": {"99213": 0.92, "M25.561": 0.88},
		"diagnosis_pointers": {"99213": "A,B"}
	}`)}}

	out, err := NewReviewer(client).Review(context.Background(), "doc text", ClaimDraft{}, model.ValidatedCodes{})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(out.Flags) != 1 || out.Flags[0].Level != "warning" {
		t.Errorf("flags not decoded: %+v", out.Flags)
	}
	if out.ConfidenceScores["99213"] != 0.92 {
		t.Errorf("confidence score not decoded: %v", out.ConfidenceScores)
	}
	if out.DiagnosisPointers["99213"] != "A,B" {
		t.Errorf("diagnosis pointer not decoded: %v", out.DiagnosisPointers)
	}
}

func TestReview_EmptyMapsNotNil(t *testing.T) {
	client := &scriptedLLM{responses: []json.RawMessage{json.RawMessage(`{"compliance_flags": []}`)}}
	out, err := NewReviewer(client).Review(context.Background(), "doc", ClaimDraft{}, model.ValidatedCodes{})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if out.ConfidenceScores == nil || out.DiagnosisPointers == nil {
		t.Error("maps must be initialized even when absent from the response")
	}
}

func TestModifier_AppliesWellShapedResponse(t *testing.T) {
	client := &scriptedLLM{responses: []json.RawMessage{json.RawMessage(`{
		"modified_cpt_codes": ["99214-25", "20610"]
	}`)}}
	mod := NewModifier(client, zerolog.Nop())

	got := mod.Apply(context.Background(), []string{"99214", "20610"}, []model.ComplianceFlag{
		{Level: "warning", Message: "E/M on same day as procedure requires modifier 25"},
	})
	if len(got) != 2 || got[0] != "99214-25" || got[1] != "20610" {
		t.Errorf("modifiers not applied: %v", got)
	}
}

func TestModifier_LengthMismatchKeepsOriginals(t *testing.T) {
	client := &scriptedLLM{responses: []json.RawMessage{json.RawMessage(`{
		"modified_cpt_codes": ["99214-25"]
	}`)}}
	mod := NewModifier(client, zerolog.Nop())

	original := []string{"99214", "20610"}
	got := mod.Apply(context.Background(), original, nil)
	if len(got) != 2 || got[0] != "99214" || got[1] != "20610" {
		t.Errorf("length mismatch must keep originals, got %v", got)
	}
}

func TestModifier_LongStringKeepsOriginals(t *testing.T) {
	client := &scriptedLLM{responses: []json.RawMessage{json.RawMessage(`{
		"modified_cpt_codes": ["99214 with modifier 25 appended"]
	}`)}}
	mod := NewModifier(client, zerolog.Nop())

	got := mod.Apply(context.Background(), []string{"99214"}, nil)
	if len(got) != 1 || got[0] != "99214" {
		t.Errorf("prose response must keep originals, got %v", got)
	}
}

func TestModifier_CallFailureKeepsOriginals(t *testing.T) {
	client := &scriptedLLM{err: errors.New("boom")}
	mod := NewModifier(client, zerolog.Nop())

	got := mod.Apply(context.Background(), []string{"99214"}, nil)
	if len(got) != 1 || got[0] != "99214" {
		t.Errorf("call failure must keep originals, got %v", got)
	}
}

func TestModifier_EmptyInputNoCall(t *testing.T) {
	client := &scriptedLLM{}
	mod := NewModifier(client, zerolog.Nop())
	if got := mod.Apply(context.Background(), nil, nil); len(got) != 0 {
		t.Errorf("expected no-op for empty input, got %v", got)
	}
	if client.calls != 0 {
		t.Error("empty input must not reach the model")
	}
}
