package controller

import (
	"context"
	"net/http"
	"strings"

	"github.com/cassiomorais/ordercompletion/internal/application/completion"
	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/cassiomorais/ordercompletion/internal/domain/job"
	"github.com/go-chi/chi/v5"
)

// CompletionRequester is the order completion entry point.
type CompletionRequester interface {
	RequestCompletion(ctx context.Context, orderID string) (*completion.CompletionResult, error)
}

// JobScheduler exposes the recheck job to operators.
type JobScheduler interface {
	Pending(ctx context.Context) ([]*job.Job, error)
	DeferIDs(ctx context.Context, ids ...string) (*completion.DeferResult, error)
}

// CompletionController handles HTTP requests for order completion.
type CompletionController struct {
	service   CompletionRequester
	scheduler JobScheduler
}

// NewCompletionController creates a new CompletionController.
func NewCompletionController(service CompletionRequester, scheduler JobScheduler) *CompletionController {
	return &CompletionController{service: service, scheduler: scheduler}
}

// Complete handles POST /api/v1/orders/{id}/complete.
// Allow answers 200, Defer 202 and Failed 409.
func (c *CompletionController) Complete(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "id"))
	if orderID == "" {
		writeError(w, domainErrors.NewValidationError("id", "order id is required"))
		return
	}

	res, err := c.service.RequestCompletion(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	switch res.Decision {
	case completion.Defer:
		status = http.StatusAccepted
	case completion.Failed:
		status = http.StatusConflict
	}
	writeJSON(w, status, toCompletionResponse(res))
}

// ListJobs handles GET /api/v1/completion/jobs.
func (c *CompletionController) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := c.scheduler.Pending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Schedule handles POST /api/v1/completion/schedule.
func (c *CompletionController) Schedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := c.scheduler.DeferIDs(r.Context(), req.OrderIDs...)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.Action == completion.ActionCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, ScheduleResponse{Action: string(res.Action), Job: toJobResponse(res.Job)})
}
