package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/orthopilot/claimpilot/internal/config"
	"github.com/orthopilot/claimpilot/internal/eligibility"
	"github.com/orthopilot/claimpilot/internal/llm"
	"github.com/orthopilot/claimpilot/internal/model"
	"github.com/orthopilot/claimpilot/internal/parse"
	"github.com/orthopilot/claimpilot/internal/retrieval"
	"github.com/orthopilot/claimpilot/internal/stage"
	"github.com/orthopilot/claimpilot/internal/store"
)

// deniedNoDocuments is recorded on the claim when its patient owns no
// documents at all. The exact wording is load-bearing for callers that
// surface it to billers.
const deniedNoDocuments = "No documents found for patient."

// docMergeSeparator joins the texts of same-purpose documents instead
// of letting a later document overwrite an earlier one.
const docMergeSeparator = "\n\n--- (Additional Document: %s) ---\n\n"

// Pipeline orchestrates the claim intake run: parse, extract, code,
// review, modify, check eligibility, persist. One run per claim id;
// stages execute strictly in sequence because each prompt feeds on the
// previous stage's output.
type Pipeline struct {
	store       store.Store
	docs        *parse.Adapter
	synthesizer *stage.Synthesizer
	coder       *stage.Coder
	reviewer    *stage.Reviewer
	modifier    *stage.Modifier
	retrieval   *retrieval.Engine
	validator   *retrieval.Validator
	eligibility *eligibility.Engine
	llm         llm.Client
	charges     config.ChargeStrategy
	log         zerolog.Logger
}

// New wires the full intake pipeline.
func New(
	st store.Store,
	docs *parse.Adapter,
	client llm.Client,
	ret *retrieval.Engine,
	elig *eligibility.Engine,
	charges config.ChargeStrategy,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		store:       st,
		docs:        docs,
		synthesizer: stage.NewSynthesizer(client),
		coder:       stage.NewCoder(client),
		reviewer:    stage.NewReviewer(client),
		modifier:    stage.NewModifier(client, log),
		retrieval:   ret,
		validator:   retrieval.NewValidator(st),
		eligibility: elig,
		llm:         client,
		charges:     charges,
		log:         log,
	}
}

// ProcessClaim runs the full intake pipeline for one claim. A missing
// claim or patient is logged and leaves no state behind; any failure
// after that point forces the claim to denied with the error message
// recorded as the denial reason, so the outcome is never ambiguous.
func (p *Pipeline) ProcessClaim(ctx context.Context, claimID uuid.UUID) error {
	log := p.log.With().Str("claim_id", claimID.String()).Logger()

	claim, err := p.store.GetClaim(ctx, claimID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Error().Msg("claim not found, aborting without state change")
			return nil
		}
		return fmt.Errorf("loading claim: %w", err)
	}
	if _, err := p.store.GetPatient(ctx, claim.PatientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Error().Str("patient_id", claim.PatientID.String()).Msg("patient not found, aborting without state change")
			return nil
		}
		return fmt.Errorf("loading patient: %w", err)
	}

	if err := p.run(ctx, claim, log); err != nil {
		log.Error().Err(err).Msg("claim processing failed, denying claim")
		if derr := p.store.MarkDenied(ctx, claim.ID, err.Error()); derr != nil {
			return fmt.Errorf("denying claim after %q: %w", err.Error(), derr)
		}
		return nil
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, claim *model.Claim, log zerolog.Logger) error {
	// Pool every patient-level document with the claim's own uploads.
	// Intake forms and insurance cards live on the patient, not the claim.
	docs, err := p.gatherDocuments(ctx, claim)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		log.Warn().Msg("no documents for patient, denying claim")
		return errors.New(deniedNoDocuments)
	}

	texts, err := p.parseAll(ctx, docs, log)
	if err != nil {
		return err
	}

	draft, err := p.synthesizer.Synthesize(ctx, texts)
	if err != nil {
		return err
	}
	log.Info().Msg("extraction stage complete")

	encounterNote := texts[model.PurposeEncounterNote]

	suggestion, err := p.coder.Suggest(ctx, encounterNote, draft)
	if err != nil {
		return err
	}
	candidates, err := p.retrieval.FindCandidates(ctx, suggestion.ICD10SearchTerms)
	if err != nil {
		return err
	}
	finalICD10, err := p.coder.SelectFinal(ctx, encounterNote, candidates)
	if err != nil {
		return err
	}
	validated, err := p.validator.Validate(ctx, suggestion.SuggestedCPTCodes, finalICD10)
	if err != nil {
		return err
	}
	log.Info().
		Int("cpt", len(validated.CPTCodes)).
		Int("icd10", len(validated.ICD10Codes)).
		Msg("coding stage complete")

	fullText := joinAllTexts(texts)
	review, err := p.reviewer.Review(ctx, fullText, draft, validated)
	if err != nil {
		return err
	}
	log.Info().Int("flags", len(review.Flags)).Msg("compliance stage complete")

	originalCPT := make([]string, len(validated.CPTCodes))
	for i, ref := range validated.CPTCodes {
		originalCPT[i] = ref.Code
	}
	billedCPT := p.modifier.Apply(ctx, originalCPT, review.Flags)

	status, responsibility, err := p.eligibility.Check(ctx, claim.PatientID, originalCPT)
	if err != nil {
		return err
	}
	log.Info().Str("eligibility_status", status).Msg("eligibility stage complete")

	upd := draft.ToClaimUpdate()
	upd.EligibilityStatus = &status
	upd.PatientResponsibilityAmount = &responsibility
	flags := review.Flags
	if flags == nil {
		flags = []model.ComplianceFlag{}
	}
	upd.ComplianceFlags = flags
	if err := p.store.UpdateClaim(ctx, claim.ID, upd); err != nil {
		return fmt.Errorf("persisting claim fields: %w", err)
	}

	lines := p.buildServiceLines(claim.ID, draft, validated, review, originalCPT, billedCPT)
	if err := p.store.ReplaceServiceLines(ctx, claim.ID, lines); err != nil {
		return fmt.Errorf("persisting service lines: %w", err)
	}

	if err := p.store.UpdateClaimStatus(ctx, claim.ID, model.StatusDraft); err != nil {
		return fmt.Errorf("finalizing claim status: %w", err)
	}
	log.Info().Int("service_lines", len(lines)).Msg("claim processed, status set to draft")
	return nil
}

func (p *Pipeline) gatherDocuments(ctx context.Context, claim *model.Claim) ([]*model.Document, error) {
	patientDocs, err := p.store.ListPatientDocuments(ctx, claim.PatientID)
	if err != nil {
		return nil, fmt.Errorf("listing patient documents: %w", err)
	}
	claimDocs, err := p.store.ListClaimDocuments(ctx, claim.ID)
	if err != nil {
		return nil, fmt.Errorf("listing claim documents: %w", err)
	}

	seen := make(map[uuid.UUID]bool, len(patientDocs)+len(claimDocs))
	var all []*model.Document
	for _, d := range append(patientDocs, claimDocs...) {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		all = append(all, d)
	}
	return all, nil
}

func (p *Pipeline) parseAll(ctx context.Context, docs []*model.Document, log zerolog.Logger) (map[model.DocumentPurpose]string, error) {
	texts := make(map[model.DocumentPurpose]string, len(docs))
	for _, doc := range docs {
		purpose := doc.Purpose
		if purpose == "" {
			purpose = model.PurposeUnknown
		}
		text, err := p.docs.GetOrParse(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", doc.FileName, err)
		}
		if existing, ok := texts[purpose]; ok {
			texts[purpose] = existing + fmt.Sprintf(docMergeSeparator, doc.FileName) + text
			log.Info().Str("purpose", string(purpose)).Str("file", doc.FileName).Msg("merged additional document")
			continue
		}
		texts[purpose] = text
	}
	return texts, nil
}

func (p *Pipeline) buildServiceLines(
	claimID uuid.UUID,
	draft stage.ClaimDraft,
	validated model.ValidatedCodes,
	review stage.ComplianceResult,
	originalCPT, billedCPT []string,
) []model.ServiceLine {
	icd10 := make([]string, len(validated.ICD10Codes))
	for i, ref := range validated.ICD10Codes {
		icd10[i] = ref.Code
	}

	lines := make([]model.ServiceLine, 0, len(originalCPT))
	for i, code := range originalCPT {
		line := model.ServiceLine{
			ClaimID:    claimID,
			CPTCode:    billedCPT[i],
			ICD10Codes: icd10,
			Charge:     p.chargeFor(draft, code, len(originalCPT)),
		}
		if score, ok := review.ConfidenceScores[code]; ok {
			s := score
			line.ConfidenceScore = &s
		}
		if pointer, ok := review.DiagnosisPointers[code]; ok {
			line.DiagnosisPointer = pointer
		}
		lines = append(lines, line)
	}
	return lines
}

func (p *Pipeline) chargeFor(draft stage.ClaimDraft, cptCode string, lineCount int) float64 {
	switch p.charges {
	case config.ChargeEqualSplit:
		if draft.TotalAmount != nil && lineCount > 0 {
			return *draft.TotalAmount / float64(lineCount)
		}
		return 0
	case config.ChargeZero:
		return 0
	default:
		if charge, ok := draft.ChargeFor(cptCode); ok {
			return charge
		}
		return 0
	}
}

func joinAllTexts(texts map[model.DocumentPurpose]string) string {
	// Favor the encounter note first since it carries the clinical detail
	// the compliance prompt leans on.
	ordered := []model.DocumentPurpose{
		model.PurposeEncounterNote,
		model.PurposeClaimForm,
		model.PurposeIntakeForm,
		model.PurposeInsuranceCard,
		model.PurposePolicyDoc,
		model.PurposeUnknown,
	}
	var out string
	for _, purpose := range ordered {
		if text, ok := texts[purpose]; ok {
			if out != "" {
				out += "\n\n"
			}
			out += text
		}
	}
	return out
}
