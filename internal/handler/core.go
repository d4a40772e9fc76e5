package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/szsip239/corebridge/internal/pkg/response"
	"github.com/szsip239/corebridge/internal/service/coreops"
)

// CoreHandler exposes the single-connection ops surface described in
// SPEC_FULL.md's supplemental section: status, manual connect/disconnect,
// and an ad-hoc request proxy.
type CoreHandler struct {
	svc *coreops.Service
}

// NewCoreHandler creates a CoreHandler.
func NewCoreHandler(svc *coreops.Service) *CoreHandler {
	return &CoreHandler{svc: svc}
}

// Status handles GET /api/v1/core/status
func (h *CoreHandler) Status(c *gin.Context) {
	response.OK(c, h.svc.Status())
}

// Connect handles POST /api/v1/core/connect
func (h *CoreHandler) Connect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := h.svc.Connect(ctx); err != nil {
		response.InternalError(c, "failed to connect: "+err.Error())
		return
	}
	response.OK(c, h.svc.Status())
}

// Disconnect handles DELETE /api/v1/core/connect
func (h *CoreHandler) Disconnect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.svc.Disconnect(ctx); err != nil {
		response.InternalError(c, "failed to disconnect: "+err.Error())
		return
	}
	response.OK(c, h.svc.Status())
}

// Request handles POST /api/v1/core/request
// Body: { "command": "agents.list", "args": {} }
func (h *CoreHandler) Request(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
		Args    any    `json:"args"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	data, err := h.svc.Request(ctx, req.Command, req.Args)
	if err != nil {
		response.InternalError(c, "core request failed: "+err.Error())
		return
	}

	var result any
	if len(data) > 0 {
		_ = json.Unmarshal(data, &result)
	}
	response.OK(c, result)
}
