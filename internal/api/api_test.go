package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/orthopilot/claimpilot/internal/config"
	"github.com/orthopilot/claimpilot/internal/eligibility"
	"github.com/orthopilot/claimpilot/internal/model"
	"github.com/orthopilot/claimpilot/internal/parse"
	"github.com/orthopilot/claimpilot/internal/pipeline"
	"github.com/orthopilot/claimpilot/internal/retrieval"
	"github.com/orthopilot/claimpilot/internal/store"
	"github.com/orthopilot/claimpilot/internal/worker"
)

// stubProcessor records enqueued pipeline work without doing any.
type stubProcessor struct {
	mu       sync.Mutex
	claims   []uuid.UUID
	adjud    []uuid.UUID
	policies []uuid.UUID
}

func (s *stubProcessor) ProcessClaim(ctx context.Context, claimID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = append(s.claims, claimID)
	return nil
}

func (s *stubProcessor) Adjudicate(ctx context.Context, claimID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjud = append(s.adjud, claimID)
	return nil
}

func (s *stubProcessor) ProcessPolicyDocument(ctx context.Context, patientID, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = append(s.policies, documentID)
	return nil
}

func (s *stubProcessor) wait(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		ok := check()
		s.mu.Unlock()
		if ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("background job did not run in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func newTestServer(t *testing.T, st store.Store, proc worker.Processor) (*Server, *worker.Pool) {
	t.Helper()
	pool := worker.NewPool(2, 16, zerolog.Nop())
	pool.Start()
	t.Cleanup(pool.Shutdown)
	dispatcher := worker.NewDispatcher(pool, proc)
	return NewServer(st, dispatcher, t.TempDir(), zerolog.Nop()), pool
}

func createPatient(t *testing.T, st store.Store) *model.Patient {
	t.Helper()
	p := &model.Patient{FirstName: "Jane", LastName: "Doe"}
	if err := st.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	return p
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for name, content := range files {
		fw, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatalf("writing file part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestCreatePatient(t *testing.T) {
	st := store.NewMemory()
	srv, _ := newTestServer(t, st, &stubProcessor{})

	body := strings.NewReader(`{"first_name": "Jane", "last_name": "Doe", "date_of_birth": "1984-07-02"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/patients", body)
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created model.Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Error("patient id not assigned")
	}
	if created.DateOfBirth == nil {
		t.Error("date of birth not parsed")
	}
}

const echoContentType = "Content-Type"

func TestCreatePatient_MissingName(t *testing.T) {
	srv, _ := newTestServer(t, store.NewMemory(), &stubProcessor{})
	req := httptest.NewRequest(http.MethodPost, "/api/patients", strings.NewReader(`{}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateClaimFromUpload_EnqueuesPipeline(t *testing.T) {
	st := store.NewMemory()
	proc := &stubProcessor{}
	srv, _ := newTestServer(t, st, proc)
	patient := createPatient(t, st)

	body, contentType := multipartBody(t,
		map[string]string{"patient_id": patient.ID.String(), "purposes": "ENCOUNTER_NOTE"},
		map[string]string{"note.pdf": "encounter note text"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/claims/upload", body)
	req.Header.Set(echoContentType, contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var claim model.Claim
	if err := json.Unmarshal(rec.Body.Bytes(), &claim); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if claim.Status != model.StatusProcessing {
		t.Errorf("status = %q, want processing", claim.Status)
	}

	docs, _ := st.ListClaimDocuments(context.Background(), claim.ID)
	if len(docs) != 1 || docs[0].Purpose != model.PurposeEncounterNote {
		t.Errorf("claim documents = %+v", docs)
	}
	proc.wait(t, func() bool { return len(proc.claims) == 1 })
}

func TestCreateClaimFromUpload_NoFiles(t *testing.T) {
	st := store.NewMemory()
	srv, _ := newTestServer(t, st, &stubProcessor{})
	patient := createPatient(t, st)

	body, contentType := multipartBody(t, map[string]string{"patient_id": patient.ID.String()}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/claims/upload", body)
	req.Header.Set(echoContentType, contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUploadPolicyDocument_EnqueuesPolicyProcessing(t *testing.T) {
	st := store.NewMemory()
	proc := &stubProcessor{}
	srv, _ := newTestServer(t, st, proc)
	patient := createPatient(t, st)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", string(model.PurposePolicyDoc)); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	fw, err := w.CreateFormFile("file", "policy.pdf")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	io.WriteString(fw, "policy text")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/patients/"+patient.ID.String()+"/documents", &buf)
	req.Header.Set(echoContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	proc.wait(t, func() bool { return len(proc.policies) == 1 })
}

func TestGetClaim_IncludesServiceLines(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	srv, _ := newTestServer(t, st, &stubProcessor{})
	patient := createPatient(t, st)

	claim := &model.Claim{PatientID: patient.ID, Status: model.StatusDraft}
	if err := st.CreateClaim(ctx, claim); err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}
	err := st.ReplaceServiceLines(ctx, claim.ID, []model.ServiceLine{
		{CPTCode: "99213", ICD10Codes: []string{"M25.561"}, Charge: 150.0, DiagnosisPointer: "A"},
	})
	if err != nil {
		t.Fatalf("ReplaceServiceLines: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/claims/"+claim.ID.String(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var detail struct {
		Status       model.ClaimStatus   `json:"status"`
		ServiceLines []model.ServiceLine `json:"service_lines"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(detail.ServiceLines) != 1 || detail.ServiceLines[0].CPTCode != "99213" {
		t.Errorf("service lines = %+v", detail.ServiceLines)
	}
}

func TestSubmitClaim_RecordsSubmissionAndEnqueuesAdjudication(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	proc := &stubProcessor{}
	srv, _ := newTestServer(t, st, proc)
	patient := createPatient(t, st)

	claim := &model.Claim{PatientID: patient.ID, Status: model.StatusDraft}
	if err := st.CreateClaim(ctx, claim); err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/claims/"+claim.ID.String()+"/submit", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got, _ := st.GetClaim(ctx, claim.ID)
	if got.Status != model.StatusSubmitted {
		t.Errorf("status = %q, want submitted", got.Status)
	}
	if got.SubmissionDate == nil {
		t.Error("submission date not recorded")
	}
	proc.wait(t, func() bool { return len(proc.adjud) == 1 })
}

func TestSubmitClaim_NonDraftConflicts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	srv, _ := newTestServer(t, st, &stubProcessor{})
	patient := createPatient(t, st)

	claim := &model.Claim{PatientID: patient.ID, Status: model.StatusProcessing}
	if err := st.CreateClaim(ctx, claim); err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/claims/"+claim.ID.String()+"/submit", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

// errParser fails every parse; the adjudication path below never needs
// to parse because no policy document exists.
type errParser struct{}

func (errParser) Parse(ctx context.Context, filePath string) (string, error) {
	return "", errors.New("parser must not be called")
}

// silentLLM fails every chat call.
type silentLLM struct{}

func (silentLLM) ChatJSON(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error) {
	return nil, errors.New("llm must not be called")
}

func (silentLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

// Submitting a claim whose patient has no policy document leaves the
// claim submitted after the adjudication job runs.
func TestSubmitClaim_NoPolicyDocumentStaysSubmitted(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	log := zerolog.Nop()

	adapter := parse.NewAdapter(errParser{}, st, 0, log)
	client := silentLLM{}
	p := pipeline.New(
		st, adapter, client,
		retrieval.NewEngine(client, st, nil, log),
		eligibility.NewEngine(st, nil),
		config.ChargeExtracted, log,
	)
	srv, pool := newTestServer(t, st, p)
	patient := createPatient(t, st)

	claim := &model.Claim{PatientID: patient.ID, Status: model.StatusDraft}
	if err := st.CreateClaim(ctx, claim); err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/claims/"+claim.ID.String()+"/submit", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Drain the queue so the adjudication job has definitely run.
	pool.Shutdown()

	got, _ := st.GetClaim(ctx, claim.ID)
	if got.Status != model.StatusSubmitted {
		t.Errorf("status = %q, want submitted after adjudication without policy doc", got.Status)
	}
}

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"note.pdf", "note.pdf"},
		{"../../etc/passwd", "passwd"},
		{"visit note (final).pdf", "visit_note__final_.pdf"},
		{"", "upload"},
	}
	for _, tc := range cases {
		if got := sanitizeFileName(tc.in); got != tc.want {
			t.Errorf("sanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
