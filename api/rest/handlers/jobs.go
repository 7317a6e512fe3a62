package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"annotation-orchestrator/core/models"
	"annotation-orchestrator/core/notify"
	"annotation-orchestrator/core/repository"
)

// UserHeader carries the authenticated caller's id, set by the fronting proxy
const UserHeader = "X-User-ID"

// RestoreMessage is shown on archived jobs of premium users until their
// results are back in hot storage
const RestoreMessage = "Your result files are currently in the restore process, please be patient while waiting."

const inputExtension = ".vcf"

var validate = validator.New()

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	jobs         repository.JobRepository
	profiles     repository.ProfileRepository
	publisher    notify.Publisher
	requestTopic string
	inputsBucket string
	keyOwner     string
	logger       *slog.Logger

	newID func() string
	now   func() time.Time
}

// NewJobHandler creates a new job handler. Submitted jobs are published to
// requestTopic; input keys are expected under keyOwner in inputsBucket.
func NewJobHandler(
	jobs repository.JobRepository,
	profiles repository.ProfileRepository,
	publisher notify.Publisher,
	requestTopic string,
	inputsBucket string,
	keyOwner string,
	logger *slog.Logger,
) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		jobs:         jobs,
		profiles:     profiles,
		publisher:    publisher,
		requestTopic: requestTopic,
		inputsBucket: inputsBucket,
		keyOwner:     keyOwner,
		logger:       logger,
		newID:        uuid.NewString,
		now:          time.Now,
	}
}

// SubmitJobRequest represents the request to submit a job. Either the
// uploaded object's key or the input file name must be given.
type SubmitJobRequest struct {
	JobID         string `json:"job_id" validate:"omitempty,uuid"`
	InputFileName string `json:"input_file_name" validate:"required_without=InputKey"`
	InputKey      string `json:"s3_key_input_file"`
}

// SubmitJobResponse represents the response after submitting a job
type SubmitJobResponse struct {
	ID         string           `json:"job_id"`
	Status     models.JobStatus `json:"job_status"`
	InputKey   string           `json:"s3_key_input_file"`
	SubmitTime int64            `json:"submit_time"`
}

// JobResponse is a job record plus the hints shown to its owner
type JobResponse struct {
	*models.Job
	RestoreMessage string `json:"restore_message,omitempty"`
}

// JobSummaryResponse is one entry of a job listing
type JobSummaryResponse struct {
	models.JobSummary
	RestoreMessage string `json:"restore_message,omitempty"`
}

// SubmitJob handles POST /v1/jobs
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader)
		return
	}

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	job, err := h.buildJob(userID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	profile, err := h.profiles.GetProfile(r.Context(), userID)
	if errors.Is(err, repository.ErrProfileNotFound) {
		writeError(w, http.StatusForbidden, "unknown user")
		return
	}
	if err != nil {
		h.logger.Error("failed to read profile", slog.String("user_id", userID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to read profile")
		return
	}
	job.UserEmail = profile.Email

	if err := h.jobs.CreateJob(r.Context(), job); err != nil {
		if errors.Is(err, repository.ErrJobExists) {
			writeError(w, http.StatusConflict, "job already exists")
			return
		}
		h.logger.Error("failed to create job", slog.String("job_id", job.ID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := notify.PublishJSON(r.Context(), h.publisher, h.requestTopic, models.NewSubmissionRequest(job)); err != nil {
		// The record stays PENDING; nothing will pick it up.
		h.logger.Error("failed to publish job request", slog.String("job_id", job.ID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	h.logger.Info("job submitted", slog.String("job_id", job.ID), slog.String("user_id", userID))
	writeJSON(w, http.StatusCreated, SubmitJobResponse{
		ID:         job.ID,
		Status:     job.Status,
		InputKey:   job.InputKey,
		SubmitTime: job.SubmitTime,
	})
}

// buildJob assigns the job id and input key for a submission. An uploaded
// key has the form owner/user/jobID~fileName and must belong to the caller.
func (h *JobHandler) buildJob(userID string, req SubmitJobRequest) (*models.Job, error) {
	jobID, fileName := req.JobID, req.InputFileName

	key := req.InputKey
	if key != "" {
		parts := strings.SplitN(key, "/", 3)
		if len(parts) != 3 || parts[0] != h.keyOwner || parts[1] != userID {
			return nil, fmt.Errorf("input key %q does not belong to user %s", key, userID)
		}
		var ok bool
		jobID, fileName, ok = strings.Cut(parts[2], "~")
		if !ok {
			return nil, fmt.Errorf("malformed input key %q", key)
		}
	} else {
		if jobID == "" {
			jobID = h.newID()
		}
		key = fmt.Sprintf("%s/%s/%s~%s", h.keyOwner, userID, jobID, fileName)
	}

	if _, err := uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("job id %q is not a uuid", jobID)
	}
	if !isPathElement(userID) {
		return nil, fmt.Errorf("invalid user id %q", userID)
	}
	if !isPathElement(fileName) {
		return nil, fmt.Errorf("invalid input file name %q", fileName)
	}
	if !strings.HasSuffix(strings.ToLower(fileName), inputExtension) {
		return nil, fmt.Errorf("input file must be a %s file", inputExtension)
	}

	return &models.Job{
		ID:            jobID,
		UserID:        userID,
		InputFileName: fileName,
		InputBucket:   h.inputsBucket,
		InputKey:      key,
		SubmitTime:    h.now().Unix(),
		Status:        models.JobStatusPending,
	}, nil
}

// GetJob handles GET /v1/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader)
		return
	}
	jobID := mux.Vars(r)["id"]

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to read job", slog.String("job_id", jobID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to read job")
		return
	}
	if job.UserID != userID {
		writeError(w, http.StatusForbidden, "not authorized to view this job")
		return
	}

	resp := JobResponse{Job: job}
	if job.AwaitingRestore() && h.isPremium(r, userID) {
		resp.RestoreMessage = RestoreMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListJobs handles GET /v1/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader)
		return
	}

	summaries, err := h.jobs.ListJobsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("user_id", userID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	premium := h.isPremium(r, userID)
	resp := make([]JobSummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		item := JobSummaryResponse{JobSummary: s}
		if premium && s.AwaitingRestore() {
			item.RestoreMessage = RestoreMessage
		}
		resp = append(resp, item)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  resp,
		"total": len(resp),
	})
}

// isPremium reads the caller's role; an unreadable profile counts as free
func (h *JobHandler) isPremium(r *http.Request, userID string) bool {
	profile, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		h.logger.Warn("failed to read profile", slog.String("user_id", userID), slog.Any("error", err))
		return false
	}
	return profile.Premium()
}

// isPathElement reports whether s names a single file with no directory part
func isPathElement(s string) bool {
	return s != "" && s != "." && s != ".." &&
		!strings.ContainsAny(s, `/\`) && filepath.Base(s) == s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
