package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/orthopilot/claimpilot/internal/model"
	"github.com/orthopilot/claimpilot/internal/store"
)

// unsafeFileChars strips anything outside a conservative filename
// alphabet. Collisions overwrite, which is acceptable for this scope.
var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func sanitizeFileName(name string) string {
	name = filepath.Base(name)
	name = unsafeFileChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		name = "upload"
	}
	return name
}

func (s *Server) saveUpload(fh *multipart.FileHeader) (fileName, filePath string, err error) {
	src, err := fh.Open()
	if err != nil {
		return "", "", err
	}
	defer src.Close()

	fileName = sanitizeFileName(fh.Filename)
	filePath = filepath.Join(s.uploadDir, fileName)
	dst, err := os.Create(filePath)
	if err != nil {
		return "", "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", "", err
	}
	return fileName, filePath, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type createPatientRequest struct {
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	DateOfBirth *string `json:"date_of_birth"`
	Address     string  `json:"address"`
}

func (s *Server) handleCreatePatient(c echo.Context) error {
	var req createPatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.FirstName == "" || req.LastName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "first_name and last_name are required")
	}

	patient := &model.Patient{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Address:   req.Address,
	}
	if req.DateOfBirth != nil {
		dob, err := time.Parse("2006-01-02", *req.DateOfBirth)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date_of_birth must be YYYY-MM-DD")
		}
		patient.DateOfBirth = &dob
	}

	if err := s.store.CreatePatient(c.Request().Context(), patient); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "creating patient")
	}
	return c.JSON(http.StatusCreated, patient)
}

func (s *Server) handleGetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	patient, err := s.store.GetPatient(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "loading patient")
	}
	return c.JSON(http.StatusOK, patient)
}

// handleUploadPatientDocument attaches a patient-level document, such
// as an intake form, insurance card or policy document. A policy
// document additionally kicks off benefit extraction in the background.
func (s *Server) handleUploadPatientDocument(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "loading patient")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	purpose := model.DocumentPurpose(c.FormValue("purpose"))
	if purpose == "" {
		purpose = model.PurposeUnknown
	}

	fileName, filePath, err := s.saveUpload(fh)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "saving upload")
	}

	doc := &model.Document{
		PatientID: patientID,
		FileName:  fileName,
		FilePath:  filePath,
		Purpose:   purpose,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "creating document")
	}

	if purpose == model.PurposePolicyDoc {
		s.dispatcher.EnqueuePolicyProcessing(patientID, doc.ID)
	}
	return c.JSON(http.StatusCreated, doc)
}

func (s *Server) handleListPatientDocuments(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	docs, err := s.store.ListPatientDocuments(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "listing documents")
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	return c.JSON(http.StatusOK, docs)
}

func (s *Server) handleListBenefits(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	benefits, err := s.store.ListBenefits(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "listing benefits")
	}
	if benefits == nil {
		benefits = []*model.PolicyBenefit{}
	}
	return c.JSON(http.StatusOK, benefits)
}

// handleCreateClaimFromUpload starts a new claim from one or more
// uploaded documents. The claim is created in processing and the
// intake pipeline is enqueued; the response returns before any AI work
// happens.
func (s *Server) handleCreateClaimFromUpload(c echo.Context) error {
	ctx := c.Request().Context()

	patientID, err := uuid.Parse(c.FormValue("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "loading patient")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form required")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files were uploaded")
	}
	purposes := form.Value["purposes"]

	claim := &model.Claim{PatientID: patientID, Status: model.StatusProcessing}
	if err := s.store.CreateClaim(ctx, claim); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "creating claim")
	}

	for i, fh := range files {
		fileName, filePath, err := s.saveUpload(fh)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "saving upload")
		}
		purpose := model.PurposeUnknown
		if i < len(purposes) && purposes[i] != "" {
			purpose = model.DocumentPurpose(purposes[i])
		}
		doc := &model.Document{
			PatientID: patientID,
			ClaimID:   &claim.ID,
			FileName:  fileName,
			FilePath:  filePath,
			Purpose:   purpose,
		}
		if err := s.store.CreateDocument(ctx, doc); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "creating document")
		}
	}

	s.dispatcher.EnqueueClaimCreation(claim.ID)
	s.log.Info().Str("claim_id", claim.ID.String()).Int("files", len(files)).Msg("claim intake enqueued")
	return c.JSON(http.StatusCreated, claim)
}

func (s *Server) handleListClaims(c echo.Context) error {
	limit := 50
	offset := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	claims, err := s.store.ListClaims(c.Request().Context(), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "listing claims")
	}
	if claims == nil {
		claims = []*model.Claim{}
	}
	return c.JSON(http.StatusOK, claims)
}

type claimDetail struct {
	*model.Claim
	ServiceLines []model.ServiceLine `json:"service_lines"`
}

func (s *Server) handleGetClaim(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	claim, err := s.store.GetClaim(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "claim not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "loading claim")
	}
	lines, err := s.store.ListServiceLines(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "loading service lines")
	}
	if lines == nil {
		lines = []model.ServiceLine{}
	}
	return c.JSON(http.StatusOK, claimDetail{Claim: claim, ServiceLines: lines})
}

// handleSubmitClaim moves a draft claim to submitted and triggers the
// payer adjudication simulation in the background.
func (s *Server) handleSubmitClaim(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	claim, err := s.store.GetClaim(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "claim not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "loading claim")
	}
	if claim.Status != model.StatusDraft {
		return echo.NewHTTPError(http.StatusConflict, "only draft claims can be submitted")
	}

	if err := s.store.MarkSubmitted(ctx, id, time.Now().UTC()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "submitting claim")
	}
	s.dispatcher.EnqueueAdjudication(id)

	claim, err = s.store.GetClaim(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "loading claim")
	}
	return c.JSON(http.StatusOK, claim)
}
