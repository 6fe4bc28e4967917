package retrieval

import (
	"context"
	"testing"

	"github.com/orthopilot/claimpilot/internal/store"
)

func TestValidate_UnknownCPTKeptWithPlaceholder(t *testing.T) {
	mem := store.NewMemory()
	seedCatalog(t, mem)
	validator := NewValidator(mem)

	out, err := validator.Validate(context.Background(), []string{"99213", "0999T"}, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(out.CPTCodes) != 2 {
		t.Fatalf("expected both CPT codes accepted, got %d", len(out.CPTCodes))
	}
	if out.CPTCodes[0].Code != "99213" || out.CPTCodes[0].Description != "Office visit, established patient" {
		t.Errorf("known CPT must carry its catalog description, got %+v", out.CPTCodes[0])
	}
	if out.CPTCodes[1].Code != "0999T" || out.CPTCodes[1].Description != cptPlaceholderDescription {
		t.Errorf("unknown CPT must carry the placeholder description, got %+v", out.CPTCodes[1])
	}
}

func TestValidate_UnknownICD10Dropped(t *testing.T) {
	mem := store.NewMemory()
	seedCatalog(t, mem)
	validator := NewValidator(mem)

	out, err := validator.Validate(context.Background(), nil, []string{"M25.561", "Z99.999"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(out.ICD10Codes) != 1 {
		t.Fatalf("expected 1 validated ICD-10 code, got %d", len(out.ICD10Codes))
	}
	if out.ICD10Codes[0].Code != "M25.561" {
		t.Errorf("expected the catalog code to survive, got %q", out.ICD10Codes[0].Code)
	}
}

func TestValidate_TypeIsolation(t *testing.T) {
	mem := store.NewMemory()
	seedCatalog(t, mem)
	validator := NewValidator(mem)

	// An ICD-10 value suggested as CPT must not pick up the ICD-10 row.
	out, err := validator.Validate(context.Background(), []string{"M25.561"}, []string{"99213"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if out.CPTCodes[0].Description != cptPlaceholderDescription {
		t.Errorf("cross-type lookup leaked a description: %+v", out.CPTCodes[0])
	}
	if len(out.ICD10Codes) != 0 {
		t.Errorf("CPT value must not validate as ICD-10, got %+v", out.ICD10Codes)
	}
}

func TestValidate_EmptyInput(t *testing.T) {
	validator := NewValidator(store.NewMemory())
	out, err := validator.Validate(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(out.CPTCodes) != 0 || len(out.ICD10Codes) != 0 {
		t.Errorf("expected empty output for empty input, got %+v", out)
	}
}
