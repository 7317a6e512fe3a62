package models

// Job represents one annotation job submitted by a user
type Job struct {
	ID            string    `json:"job_id" dynamodbav:"job_id"`
	UserID        string    `json:"user_id" dynamodbav:"user_id"`
	UserEmail     string    `json:"user_email,omitempty" dynamodbav:"user_email,omitempty"`
	InputFileName string    `json:"input_file_name" dynamodbav:"input_file_name"`
	InputBucket   string    `json:"s3_inputs_bucket" dynamodbav:"s3_inputs_bucket"`
	InputKey      string    `json:"s3_key_input_file" dynamodbav:"s3_key_input_file"`
	SubmitTime    int64     `json:"submit_time" dynamodbav:"submit_time"`
	Status        JobStatus `json:"job_status" dynamodbav:"job_status"`

	// Set by the execution driver
	CompleteTime  int64  `json:"complete_time,omitempty" dynamodbav:"complete_time,omitempty"`
	ResultsBucket string `json:"s3_results_bucket,omitempty" dynamodbav:"s3_results_bucket,omitempty"`
	ResultKey     string `json:"s3_key_result_file,omitempty" dynamodbav:"s3_key_result_file,omitempty"`
	LogKey        string `json:"s3_key_log_file,omitempty" dynamodbav:"s3_key_log_file,omitempty"`

	// Set by the archive and thaw consumers
	ArchiveID  string `json:"archive_id,omitempty" dynamodbav:"archive_id,omitempty"`
	IsRestored bool   `json:"is_restored" dynamodbav:"is_restored"`

	// Last cold retrieval requested for this job
	RestoreJobID string        `json:"restore_job_id,omitempty" dynamodbav:"restore_job_id,omitempty"`
	RestoreTier  RetrievalTier `json:"restore_tier,omitempty" dynamodbav:"restore_tier,omitempty"`
}

// Archived reports whether the job's results have been moved to cold storage
func (j *Job) Archived() bool {
	return j.ArchiveID != ""
}

// AwaitingRestore reports whether the job is archived and has not been thawed yet.
// IsRestored carries no meaning until an archive id exists.
func (j *Job) AwaitingRestore() bool {
	return j.Archived() && !j.IsRestored
}

// Summary projects a job onto the fields served by the user index
func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:            j.ID,
		UserID:        j.UserID,
		SubmitTime:    j.SubmitTime,
		InputFileName: j.InputFileName,
		Status:        j.Status,
		ResultKey:     j.ResultKey,
		ArchiveID:     j.ArchiveID,
		IsRestored:    j.IsRestored,
	}
}

// JobSummary is the projection returned when listing a user's jobs
type JobSummary struct {
	ID            string    `json:"job_id" dynamodbav:"job_id"`
	UserID        string    `json:"user_id" dynamodbav:"user_id"`
	SubmitTime    int64     `json:"submit_time" dynamodbav:"submit_time"`
	InputFileName string    `json:"input_file_name" dynamodbav:"input_file_name"`
	Status        JobStatus `json:"job_status" dynamodbav:"job_status"`
	ResultKey     string    `json:"s3_key_result_file,omitempty" dynamodbav:"s3_key_result_file,omitempty"`
	ArchiveID     string    `json:"archive_id,omitempty" dynamodbav:"archive_id,omitempty"`
	IsRestored    bool      `json:"is_restored" dynamodbav:"is_restored"`
}

// AwaitingRestore reports whether the summarized job is archived and not yet thawed
func (s JobSummary) AwaitingRestore() bool {
	return s.ArchiveID != "" && !s.IsRestored
}

// Completion holds the fields written when a job finishes
type Completion struct {
	ResultsBucket string
	ResultKey     string
	LogKey        string
	CompleteTime  int64
}

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
)

// rank orders statuses along the only permitted path
var rank = map[JobStatus]int{
	JobStatusPending:   0,
	JobStatusRunning:   1,
	JobStatusCompleted: 2,
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	_, ok := rank[s]
	return ok
}

// Terminal reports whether no further transitions are possible
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted
}

// CanTransitionTo reports whether moving from s to next advances along
// PENDING -> RUNNING -> COMPLETED. Staying put or moving backwards is rejected.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	from, ok := rank[s]
	if !ok {
		return false
	}
	to, ok := rank[next]
	if !ok {
		return false
	}
	return to > from
}

// RetrievalTier selects how fast cold storage stages an archive
type RetrievalTier string

const (
	TierExpedited RetrievalTier = "Expedited"
	TierStandard  RetrievalTier = "Standard"
)
