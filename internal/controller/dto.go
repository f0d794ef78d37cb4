package controller

import (
	"time"

	"github.com/cassiomorais/ordercompletion/internal/application/completion"
	"github.com/cassiomorais/ordercompletion/internal/domain/job"
)

// --- Request DTOs ---

// ScheduleRequest adds order IDs to the pending recheck job.
type ScheduleRequest struct {
	OrderIDs []string `json:"order_ids" validate:"required,min=1,max=500,dive,required,max=64"`
}

// --- Response DTOs ---

// JobResponse describes a scheduled recheck job.
type JobResponse struct {
	ID        string    `json:"id"`
	Hook      string    `json:"hook"`
	RunAt     time.Time `json:"run_at"`
	OrderIDs  []string  `json:"order_ids"`
	Status    string    `json:"status"`
	LastError *string   `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CompletionResponse is returned by the order completion endpoint.
type CompletionResponse struct {
	OrderID  string       `json:"order_id"`
	Decision string       `json:"decision"`
	Status   string       `json:"status"`
	Job      *JobResponse `json:"job,omitempty"`
}

// ScheduleResponse is returned by the manual schedule endpoint.
type ScheduleResponse struct {
	Action string       `json:"action"`
	Job    *JobResponse `json:"job,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

func toJobResponse(j *job.Job) *JobResponse {
	if j == nil {
		return nil
	}
	return &JobResponse{
		ID:        j.Handle.String(),
		Hook:      j.Hook,
		RunAt:     j.RunAt,
		OrderIDs:  []string(j.Payload),
		Status:    string(j.Status),
		LastError: j.LastError,
		CreatedAt: j.CreatedAt,
	}
}

func toCompletionResponse(res *completion.CompletionResult) CompletionResponse {
	return CompletionResponse{
		OrderID:  res.OrderID,
		Decision: res.Decision.String(),
		Status:   string(res.Status),
		Job:      toJobResponse(res.Job),
	}
}
