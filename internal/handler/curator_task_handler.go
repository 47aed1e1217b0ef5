package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-core-api/internal/middleware"
	"github.com/noah-isme/lms-core-api/internal/models"
	"github.com/noah-isme/lms-core-api/internal/service"
	appErrors "github.com/noah-isme/lms-core-api/pkg/errors"
	"github.com/noah-isme/lms-core-api/pkg/response"
)

// CuratorTaskHandler wires HTTP endpoints to the curator task service.
type CuratorTaskHandler struct {
	service *service.CuratorTaskService
}

// NewCuratorTaskHandler creates a new handler.
func NewCuratorTaskHandler(svc *service.CuratorTaskService) *CuratorTaskHandler {
	return &CuratorTaskHandler{service: svc}
}

// ListTemplates returns all task templates.
func (h *CuratorTaskHandler) ListTemplates(c *gin.Context) {
	templates, err := h.service.ListTemplates(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, templates, nil)
}

// GetTemplate returns one template by id.
func (h *CuratorTaskHandler) GetTemplate(c *gin.Context) {
	tpl, err := h.service.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tpl, nil)
}

// CreateTemplate creates a task template.
func (h *CuratorTaskHandler) CreateTemplate(c *gin.Context) {
	var req models.TaskTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid template payload"))
		return
	}

	tpl, err := h.service.CreateTemplate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tpl)
}

// UpdateTemplate rewrites a task template.
func (h *CuratorTaskHandler) UpdateTemplate(c *gin.Context) {
	var req models.TaskTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid template payload"))
		return
	}

	tpl, err := h.service.UpdateTemplate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tpl, nil)
}

// DeleteTemplate removes a task template.
func (h *CuratorTaskHandler) DeleteTemplate(c *gin.Context) {
	if err := h.service.DeleteTemplate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MyTasks lists task instances visible to the caller.
func (h *CuratorTaskHandler) MyTasks(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.CuratorTaskFilter{
		Status:    models.TaskStatus(c.Query("status")),
		WeekRef:   c.Query("week"),
		GroupID:   c.Query("group_id"),
		StudentID: c.Query("student_id"),
	}
	if claims.Role != models.RoleCurator {
		filter.CuratorID = c.Query("curator_id")
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid limit"))
			return
		}
		filter.Limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid offset"))
			return
		}
		filter.Offset = n
	}

	instances, err := h.service.MyTasks(c.Request.Context(), claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, instances, nil)
}

// UpdateStatus moves a task instance through its lifecycle.
func (h *CuratorTaskHandler) UpdateStatus(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UpdateTaskStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}

	if err := h.service.UpdateStatus(c.Request.Context(), claims, c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CreateManual creates a single task instance outside the weekly pipeline.
func (h *CuratorTaskHandler) CreateManual(c *gin.Context) {
	var req models.ManualTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid manual task payload"))
		return
	}

	inst, err := h.service.CreateManual(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, inst)
}

// Onboarding generates onboarding tasks for a newly added student.
func (h *CuratorTaskHandler) Onboarding(c *gin.Context) {
	var req models.OnboardingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid onboarding payload"))
		return
	}

	instances, err := h.service.Onboarding(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, instances)
}
