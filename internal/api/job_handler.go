package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/imageworks-api/internal/api/middleware"
	"github.com/phrazzld/imageworks-api/internal/api/shared"
	"github.com/phrazzld/imageworks-api/internal/config"
	"github.com/phrazzld/imageworks-api/internal/domain"
	"github.com/phrazzld/imageworks-api/internal/platform/blob"
	"github.com/phrazzld/imageworks-api/internal/service"
)

// defaultPageSize bounds list responses when the client sends no limit.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SubmitJobRequest represents the request body for submitting a lookup job
type SubmitJobRequest struct {
	Kind     string `json:"kind"      validate:"required"`
	InputRef string `json:"input_ref" validate:"required"`
}

// JobResponse represents the response data for a job
type JobResponse struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	State        string    `json:"state"`
	AttemptCount int       `json:"attempt_count"`
	ResultRef    *string   `json:"result_ref,omitempty"`
	ResultURL    *string   `json:"result_url,omitempty"`
	Error        *string   `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// JobListResponse wraps a page of jobs.
type JobListResponse struct {
	Jobs   []JobResponse `json:"jobs"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	jobService service.JobService
	blobs      blob.Store
	uploadCfg  config.UploadConfig
	validator  *validator.Validate
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobService service.JobService, blobs blob.Store, uploadCfg config.UploadConfig) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		blobs:      blobs,
		uploadCfg:  uploadCfg,
		validator:  validator.New(),
	}
}

// SubmitJob handles POST /api/jobs requests. It accepts reference-style
// submissions: a lookup code, or a blob handle from a prior upload.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r)
	if !ok || ownerID == uuid.Nil {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	var req SubmitJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	job, err := h.jobService.Submit(r.Context(), ownerID, domain.JobKind(req.Kind), req.InputRef)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	// 202 Accepted: processing happens asynchronously.
	shared.RespondWithJSON(w, r, http.StatusAccepted, jobToResponse(job))
}

// UploadImage handles POST /api/uploads requests: it stores the raw image
// bytes in the blob store and submits an upload-process job referencing them.
func (h *JobHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r)
	if !ok || ownerID == uuid.Nil {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	// Allow some multipart overhead beyond the raw image limit. The
	// pipeline re-checks the configured limit against the stored bytes.
	r.Body = http.MaxBytesReader(w, r.Body, h.uploadCfg.MaxBytes+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Missing or invalid file field")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}

	if int64(len(data)) > h.uploadCfg.MaxBytes {
		shared.RespondWithError(w, r, http.StatusBadRequest,
			fmt.Sprintf("File too large, maximum size is %d bytes", h.uploadCfg.MaxBytes))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	handle, err := h.blobs.Put(r.Context(), data, contentType)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to store upload", err)
		return
	}

	job, err := h.jobService.Submit(r.Context(), ownerID, domain.JobKindUploadProcess, handle)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, jobToResponse(job))
}

// GetJob handles GET /api/jobs/{id} requests
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r)
	if !ok || ownerID == uuid.Nil {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.jobService.GetStatus(r.Context(), jobID, ownerID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(job))
}

// ListJobs handles GET /api/jobs requests
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r)
	if !ok || ownerID == uuid.Nil {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	jobs, err := h.jobService.ListStatus(r.Context(), ownerID, limit, offset)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobToResponse(job))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, JobListResponse{
		Jobs:   responses,
		Limit:  limit,
		Offset: offset,
	})
}

// DownloadResult handles GET /api/jobs/{id}/result requests, streaming the
// produced image of a succeeded job.
func (h *JobHandler) DownloadResult(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r)
	if !ok || ownerID == uuid.Nil {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.jobService.GetStatus(r.Context(), jobID, ownerID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if job.State != domain.JobStateSucceeded || job.ResultRef == nil {
		shared.RespondWithError(w, r, http.StatusConflict, "Job has no result yet")
		return
	}

	data, err := h.blobs.Get(r.Context(), *job.ResultRef)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to read result", err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// jobToResponse maps a domain job to its API representation.
func jobToResponse(job *domain.Job) JobResponse {
	resp := JobResponse{
		ID:           job.ID.String(),
		Kind:         string(job.Kind),
		State:        string(job.State),
		AttemptCount: job.AttemptCount,
		ResultRef:    job.ResultRef,
		Error:        job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}

	if job.State == domain.JobStateSucceeded && job.ResultRef != nil {
		url := fmt.Sprintf("/api/jobs/%s/result", job.ID)
		resp.ResultURL = &url
	}

	return resp
}

// queryInt parses an integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}
