package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobState represents the processing state of a job
type JobState string

// Possible job state values. Transitions are forward-only:
// queued -> running -> (succeeded | failed). Both succeeded and
// failed are terminal.
const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// JobKind identifies the processing pipeline a job is dispatched to
type JobKind string

// The closed set of job kinds
const (
	// JobKindUploadProcess normalizes and resizes an uploaded image blob
	JobKindUploadProcess JobKind = "upload-process"

	// JobKindCodeLookup fetches a product image for an EAN code from the
	// external lookup service
	JobKindCodeLookup JobKind = "code-lookup"
)

// Common validation errors for Job
var (
	ErrEmptyJobID       = errors.New("job ID cannot be empty")
	ErrEmptyJobOwnerID  = errors.New("job owner ID cannot be empty")
	ErrEmptyJobInputRef = errors.New("job input reference cannot be empty")
	ErrInvalidJobKind   = errors.New("invalid job kind")
	ErrInvalidJobState  = errors.New("invalid job state")
	ErrInvalidEANCode   = errors.New("invalid EAN code")
	ErrNegativeAttempts = errors.New("job attempt count cannot be negative")
)

// Job represents one unit of asynchronous work with a tracked lifecycle.
// It carries a reference to its raw input (a blob handle or a lookup code)
// and, once processing finishes, either a result reference or an error
// message - never both.
type Job struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      uuid.UUID `json:"owner_id"`
	Kind         JobKind   `json:"kind"`
	InputRef     string    `json:"input_ref"`
	State        JobState  `json:"state"`
	AttemptCount int       `json:"attempt_count"`
	ResultRef    *string   `json:"result_ref,omitempty"`
	ErrorMessage *string   `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewJob creates a new Job with the given owner, kind and input reference.
// It generates a new UUID for the job ID, sets the state to queued, and sets
// the creation/update timestamps.
// Returns an error if validation fails.
func NewJob(ownerID uuid.UUID, kind JobKind, inputRef string) (*Job, error) {
	job := &Job{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Kind:      kind,
		InputRef:  inputRef,
		State:     JobStateQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the Job has valid data.
// Returns an error if any field fails validation.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}

	if j.OwnerID == uuid.Nil {
		return ErrEmptyJobOwnerID
	}

	if !IsValidJobKind(j.Kind) {
		return ErrInvalidJobKind
	}

	if j.InputRef == "" {
		return ErrEmptyJobInputRef
	}

	if !isValidJobState(j.State) {
		return ErrInvalidJobState
	}

	if j.AttemptCount < 0 {
		return ErrNegativeAttempts
	}

	return nil
}

// IsTerminal reports whether the job has reached a terminal state.
// Terminal jobs accept no further transitions.
func (j *Job) IsTerminal() bool {
	return j.State == JobStateSucceeded || j.State == JobStateFailed
}

// CanTransition reports whether moving from one state to another is a legal
// forward transition. running -> running is allowed: it is how a worker
// re-claims a redelivered job or records a retryable failure without
// regressing the state.
func CanTransition(from, to JobState) bool {
	switch from {
	case JobStateQueued:
		return to == JobStateRunning
	case JobStateRunning:
		return to == JobStateRunning || to == JobStateSucceeded || to == JobStateFailed
	default:
		return false
	}
}

// IsValidJobKind checks if the given kind is part of the closed kind set.
func IsValidJobKind(kind JobKind) bool {
	switch kind {
	case JobKindUploadProcess, JobKindCodeLookup:
		return true
	default:
		return false
	}
}

// isValidJobState checks if the given state is a valid JobState.
func isValidJobState(state JobState) bool {
	switch state {
	case JobStateQueued, JobStateRunning, JobStateSucceeded, JobStateFailed:
		return true
	default:
		return false
	}
}

// ValidateEANCode validates an EAN-8 or EAN-13 code: all digits, correct
// length, and a matching check digit. Used both at submission time and by
// the code-lookup pipeline; a malformed code is always a terminal failure.
func ValidateEANCode(code string) error {
	if len(code) != 8 && len(code) != 13 {
		return ErrInvalidEANCode
	}

	sum := 0
	for i, r := range code {
		if r < '0' || r > '9' {
			return ErrInvalidEANCode
		}
		digit := int(r - '0')
		if i == len(code)-1 {
			// The weighted sum of all digits including the check digit
			// must be a multiple of 10.
			if (sum+digit)%10 != 0 {
				return ErrInvalidEANCode
			}
			return nil
		}
		// Weights alternate 3,1 counting leftward from the check digit.
		if (len(code)-1-i)%2 == 1 {
			sum += digit * 3
		} else {
			sum += digit
		}
	}
	return nil
}
