package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kitilash/altegiobot/internal/clock"
	"github.com/kitilash/altegiobot/internal/domain/job"
	"github.com/kitilash/altegiobot/internal/repo/postgres"
)

type AdminJobsRepo interface {
	ListJobs(ctx context.Context, filter postgres.ListJobsFilter) ([]job.Job, string, error)
	GetJob(ctx context.Context, id int64) (*job.Job, error)
	RetryJob(ctx context.Context, id int64, now time.Time) error
	RetryFailedJobs(ctx context.Context, jobType *string, now time.Time) (int64, error)
}

type AdminJobsHandler struct {
	repo  AdminJobsRepo
	clock clock.Clock
}

func NewAdminJobsHandler(repo AdminJobsRepo, c clock.Clock) *AdminJobsHandler {
	if c == nil {
		c = clock.System()
	}
	return &AdminJobsHandler{repo: repo, clock: c}
}

// GET /admin/jobs?status=failed&type=reminder_24h&booking_id=42&cursor=...&limit=50
func (h *AdminJobsHandler) List(ctx *gin.Context) {
	limit := parseIntDefault(ctx.Query("limit"), 50)
	if limit < 1 || limit > 200 {
		RespondBadRequest(ctx, "limit must be between 1 and 200", nil)
		return
	}

	filter := postgres.ListJobsFilter{
		Cursor: ctx.Query("cursor"),
		Limit:  limit,
	}
	if s := ctx.Query("status"); s != "" {
		filter.Status = &s
	}
	if t := ctx.Query("type"); t != "" {
		filter.JobType = &t
	}
	if b := ctx.Query("booking_id"); b != "" {
		id, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			RespondBadRequest(ctx, "booking_id must be an integer", nil)
			return
		}
		filter.BookingID = &id
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	items, next, err := h.repo.ListJobs(cctx, filter)
	if err != nil {
		RespondInternal(ctx, "Could not list jobs")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"limit":      limit,
		"count":      len(items),
		"items":      items,
		"nextCursor": next,
	})
}

// POST /admin/jobs/:id/retry
func (h *AdminJobsHandler) Retry(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		RespondBadRequest(ctx, "id must be an integer", nil)
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	err = h.repo.RetryJob(cctx, id, h.clock.Now())
	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(err, job.ErrJobNotFound):
		RespondNotFound(ctx, "Job not found")
	case errors.Is(err, postgres.ErrJobNotFailed):
		RespondConflict(ctx, "job_not_failed", "Only failed jobs can be retried")
	default:
		RespondInternal(ctx, "Could not retry job")
	}
}

// POST /admin/jobs/retry-failed?type=reminder_24h
func (h *AdminJobsHandler) RetryFailed(ctx *gin.Context) {
	var jobType *string
	if t := ctx.Query("type"); t != "" {
		jobType = &t
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	n, err := h.repo.RetryFailedJobs(cctx, jobType, h.clock.Now())
	if err != nil {
		RespondInternal(ctx, "Could not retry jobs")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "retried": n})
}

func parseIntDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}

	n, err := strconv.Atoi(s)

	if err != nil {
		return fallback
	}

	return n
}
