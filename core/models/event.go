package models

// SubmissionRequest is published to the request topic when a job is created
type SubmissionRequest struct {
	JobID         string    `json:"job_id" validate:"required"`
	UserID        string    `json:"user_id" validate:"required"`
	UserEmail     string    `json:"user_email"`
	InputFileName string    `json:"input_file_name" validate:"required"`
	InputBucket   string    `json:"s3_inputs_bucket" validate:"required"`
	InputKey      string    `json:"s3_key_input_file" validate:"required"`
	SubmitTime    int64     `json:"submit_time"`
	Status        JobStatus `json:"job_status"`
}

// NewSubmissionRequest builds the request message for a freshly created job
func NewSubmissionRequest(job *Job) SubmissionRequest {
	return SubmissionRequest{
		JobID:         job.ID,
		UserID:        job.UserID,
		UserEmail:     job.UserEmail,
		InputFileName: job.InputFileName,
		InputBucket:   job.InputBucket,
		InputKey:      job.InputKey,
		SubmitTime:    job.SubmitTime,
		Status:        job.Status,
	}
}

// CompletionNotice is published to the completion topic once results are stored
type CompletionNotice struct {
	JobID     string    `json:"job_id"`
	FileName  string    `json:"filename"`
	UserEmail string    `json:"user_email"`
	Status    JobStatus `json:"job_status"`
}

// ArchiveRequest asks the archive consumer to move a job's results to cold storage
type ArchiveRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	JobID     string `json:"job_id" validate:"required"`
	ResultKey string `json:"s3_key_result_file" validate:"required"`
}

// RestoreRequest is published when a user upgrades to premium
type RestoreRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// RetrievalContext travels through cold storage as the retrieval job description
type RetrievalContext struct {
	JobID     string `json:"job_id" validate:"required"`
	ResultKey string `json:"s3_key_result_file" validate:"required"`
}

// ThawNotice is the cold storage notification sent when a retrieval job finishes
type ThawNotice struct {
	RetrievalJobID string `json:"JobId" validate:"required"`
	Description    string `json:"JobDescription" validate:"required"`
	ArchiveID      string `json:"ArchiveId"`
	Completed      bool   `json:"Completed"`
	StatusCode     string `json:"StatusCode"`
	Tier           string `json:"Tier"`
}
