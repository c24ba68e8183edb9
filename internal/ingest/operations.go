package ingest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"salespipeline_backend/internal/workflow"
	"salespipeline_backend/platform/apperr"
	"salespipeline_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 200
)

// Runs is the operator view of the durable runtime.
type Runs interface {
	ListRuns(ctx context.Context, filter workflow.RunFilter) ([]workflow.RunRecord, error)
	GetRun(ctx context.Context, runID uuid.UUID) (workflow.RunRecord, error)
	Replay(ctx context.Context, runID uuid.UUID) error
	Cancel(ctx context.Context, runID uuid.UUID) error
}

// OperationsHandler lists, replays and cancels runs of the scoped account.
type OperationsHandler struct {
	runs Runs
}

func toRunResponse(r workflow.RunRecord) RunResponse {
	return RunResponse{
		ID:         r.ID,
		FunctionID: r.FunctionID,
		EventName:  r.EventName,
		EventID:    r.EventID,
		Status:     string(r.Status),
		Attempt:    r.Attempt,
		LastError:  r.LastError,
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  r.UpdatedAt.Format(time.RFC3339),
	}
}

func parseStatus(raw string) (workflow.Status, bool) {
	status := workflow.Status(raw)
	switch status {
	case workflow.StatusQueued, workflow.StatusRunning, workflow.StatusSuspended,
		workflow.StatusCompleted, workflow.StatusFailed, workflow.StatusCancelled:
		return status, true
	}
	return "", false
}

// ListRuns lists runs, failed ones by default.
// GET /api/v1/runs?status=failed&functionId=&limit=
func (h *OperationsHandler) ListRuns(c *gin.Context) {
	accountID, ok := httpkit.MustAccountID(c)
	if !ok {
		return
	}
	status, ok := parseStatus(c.DefaultQuery("status", string(workflow.StatusFailed)))
	if !ok {
		httpkit.HandleError(c, apperr.Validation("unknown run status"))
		return
	}
	limit := defaultRunLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httpkit.HandleError(c, apperr.Validation("limit must be a positive number"))
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), workflow.RunFilter{
		Status:     status,
		FunctionID: c.Query("functionId"),
		AccountID:  accountID,
		Limit:      limit,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	items := make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		items = append(items, toRunResponse(r))
	}
	httpkit.OK(c, gin.H{"items": items})
}

// scopedRun loads a run and hides runs of other accounts.
func (h *OperationsHandler) scopedRun(c *gin.Context) (workflow.RunRecord, bool) {
	accountID, ok := httpkit.MustAccountID(c)
	if !ok {
		return workflow.RunRecord{}, false
	}
	id, ok := pathUUID(c, "id", "invalid run ID")
	if !ok {
		return workflow.RunRecord{}, false
	}
	run, err := h.runs.GetRun(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return workflow.RunRecord{}, false
	}
	if run.AccountID != accountID {
		httpkit.HandleError(c, apperr.NotFound("workflow run"))
		return workflow.RunRecord{}, false
	}
	return run, true
}

// ReplayRun re-queues a failed or cancelled run.
// POST /api/v1/runs/:id/replay
func (h *OperationsHandler) ReplayRun(c *gin.Context) {
	run, ok := h.scopedRun(c)
	if !ok {
		return
	}
	if httpkit.HandleError(c, h.runs.Replay(c.Request.Context(), run.ID)) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": run.ID, "status": workflow.StatusQueued})
}

// CancelRun stops a run that has not finished.
// POST /api/v1/runs/:id/cancel
func (h *OperationsHandler) CancelRun(c *gin.Context) {
	run, ok := h.scopedRun(c)
	if !ok {
		return
	}
	if httpkit.HandleError(c, h.runs.Cancel(c.Request.Context(), run.ID)) {
		return
	}
	httpkit.OK(c, gin.H{"id": run.ID, "status": workflow.StatusCancelled})
}
