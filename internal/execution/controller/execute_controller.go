// Package controller exposes the execution pipeline over HTTP.
package controller

import (
	"context"
	"errors"
	"net/http"

	"codeexec/internal/execution/admission"
	"codeexec/internal/execution/language"
	"codeexec/internal/execution/model"
	"codeexec/internal/execution/service"
	appErr "codeexec/pkg/errors"
	"codeexec/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Executor is the part of the service the HTTP layer needs.
type Executor interface {
	Execute(ctx context.Context, req model.ExecutionRequest, overrides model.LimitOverrides) (model.ExecutionResult, error)
	Health() service.Health
	Languages() []language.LanguageSpec
}

// ExecuteController handles execution HTTP endpoints.
type ExecuteController struct {
	executor Executor
}

// NewExecuteController creates a new controller.
func NewExecuteController(executor Executor) *ExecuteController {
	return &ExecuteController{executor: executor}
}

// RegisterRoutes mounts the endpoints. Extra handlers run before /execute only.
func (h *ExecuteController) RegisterRoutes(r gin.IRouter, executeMiddleware ...gin.HandlerFunc) {
	handlers := append([]gin.HandlerFunc{}, executeMiddleware...)
	r.POST("/execute", append(handlers, h.Execute)...)
	r.GET("/health", h.Health)
	r.GET("/languages", h.Languages)
}

// Execute runs one request and answers with the result, whatever its status.
func (h *ExecuteController) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if appErr.Is(err, appErr.InvalidDependency) {
			response.Error(c, err)
			return
		}
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if req.Timeout != nil && *req.Timeout <= 0 {
		response.BadRequest(c, "timeout must be a positive number of seconds")
		return
	}

	res, err := h.executor.Execute(c.Request.Context(), req.toModel(), req.limits())
	if err != nil {
		if errors.Is(err, admission.ErrBusy) {
			response.ServiceUnavailable(c, err, "1")
			return
		}
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, newExecuteResponse(res))
}

// Health reports 200 while new executions can be accepted.
func (h *ExecuteController) Health(c *gin.Context) {
	health := h.executor.Health()
	resp := HealthResponse{Status: "ok", InFlight: health.InFlight, Capacity: health.Capacity}
	if !health.Accepting {
		resp.Status = "saturated"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Languages lists registered languages.
func (h *ExecuteController) Languages(c *gin.Context) {
	specs := h.executor.Languages()
	out := make([]LanguageInfo, 0, len(specs))
	for _, s := range specs {
		out = append(out, LanguageInfo{
			ID:         s.ID,
			Name:       s.Name,
			Aliases:    s.Aliases,
			SourceFile: s.SourceFile,
			Compiled:   s.CompileEnabled(),
			Installer:  s.Installer,
		})
	}
	response.Success(c, out)
}
