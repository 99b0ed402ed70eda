package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/viralcut/viralcut-backend/internal/http/response"
	"github.com/viralcut/viralcut-backend/internal/pkg/ctxutil"
	"github.com/viralcut/viralcut-backend/internal/services"
)

type PipelineHandler struct {
	pipelineService services.PipelineService
}

func NewPipelineHandler(pipelineService services.PipelineService) *PipelineHandler {
	return &PipelineHandler{pipelineService: pipelineService}
}

func (ph *PipelineHandler) Submit(c *gin.Context) {
	var req services.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	userID := ctxutil.UserID(c.Request.Context())
	p, err := ph.pipelineService.Submit(c.Request.Context(), userID, req)
	if err != nil {
		if errors.Is(err, services.ErrAtCapacity) {
			response.RespondError(c, http.StatusServiceUnavailable, "at_capacity", err)
			return
		}
		response.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"pipeline": p})
}

func (ph *PipelineHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_pipeline_id", err)
		return
	}

	userID := ctxutil.UserID(c.Request.Context())
	detail, err := ph.pipelineService.Get(c.Request.Context(), userID, id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, detail)
}

func (ph *PipelineHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	userID := ctxutil.UserID(c.Request.Context())
	pipelines, err := ph.pipelineService.List(c.Request.Context(), userID, limit)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"pipelines": pipelines})
}
