package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tracker-closure/internal/dto"
	"github.com/noah-isme/tracker-closure/internal/middleware"
	"github.com/noah-isme/tracker-closure/internal/models"
	appErrors "github.com/noah-isme/tracker-closure/pkg/errors"
	"github.com/noah-isme/tracker-closure/pkg/response"
)

type closureRuns interface {
	Submit(ctx context.Context, req dto.ClosePatientsRequest, actor string) (*dto.ClosureRunResponse, error)
	Preview(ctx context.Context, req dto.ClosePatientsRequest, actor string) (*dto.ClosurePreviewResponse, error)
	Get(ctx context.Context, id string) (*models.ClosureRun, error)
	List(ctx context.Context, programID string, limit int) ([]models.ClosureRun, error)
}

// ClosureHandler exposes closure run endpoints.
type ClosureHandler struct {
	runs closureRuns
}

// NewClosureHandler constructs handler.
func NewClosureHandler(runs closureRuns) *ClosureHandler {
	return &ClosureHandler{runs: runs}
}

// Submit godoc
// @Summary Queue a closure run
// @Description Queues a lost-to-follow-up closure. With post=false the run only records the payload it would submit.
// @Tags Closures
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.ClosePatientsRequest true "Closure parameters"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /closures [post]
func (h *ClosureHandler) Submit(c *gin.Context) {
	var req dto.ClosePatientsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	run, err := h.runs.Submit(c.Request.Context(), req, middleware.Actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, run)
}

// Preview godoc
// @Summary Preview a closure
// @Description Runs fetch, filters and payload synthesis synchronously without submitting anything.
// @Tags Closures
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.ClosePatientsRequest true "Closure parameters"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /closures/preview [post]
func (h *ClosureHandler) Preview(c *gin.Context) {
	var req dto.ClosePatientsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	preview, err := h.runs.Preview(c.Request.Context(), req, middleware.Actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview)
}

// Get godoc
// @Summary Closure run status
// @Tags Closures
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /closures/{id} [get]
func (h *ClosureHandler) Get(c *gin.Context) {
	run, err := h.runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run)
}

// List godoc
// @Summary Recent closure runs of a program
// @Tags Closures
// @Produce json
// @Security BearerAuth
// @Param programId query string true "Tracker program ID"
// @Param limit query int false "Maximum runs (default 20)"
// @Success 200 {object} response.Envelope
// @Router /closures [get]
func (h *ClosureHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a number"))
			return
		}
		limit = parsed
	}
	runs, err := h.runs.List(c.Request.Context(), c.Query("programId"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, map[string]interface{}{"count": len(runs)})
}
