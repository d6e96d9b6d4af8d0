package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/duragraph/duragraph/internal/application/service"
	"github.com/duragraph/duragraph/internal/compiler/instr"
	"github.com/duragraph/duragraph/internal/compiler/ir"
	"github.com/duragraph/duragraph/internal/infrastructure/http/dto"
)

// CompiledServiceReader fetches an already compiled plan; implemented by
// the compiled-plan repository, optionally fronted by the Redis cache.
type CompiledServiceReader interface {
	FindByServiceAndVersion(ctx context.Context, graphID, service, version string) (*instr.ServiceHandler, error)
}

// CompileHandler exposes the flow compiler over HTTP:
// a stored graph's per-service statement graphs, already resolved into
// internal/compiler/ir.ServiceGraph DTOs by the upstream IR stage, get
// scheduled, hoisted, and lowered into ServiceHandler trees.
type CompileHandler struct {
	compileService *service.CompileService
	reader         CompiledServiceReader
}

// NewCompileHandler wires a CompileHandler around an existing CompileService.
// reader may be nil when no persistence is configured.
func NewCompileHandler(compileService *service.CompileService, reader CompiledServiceReader) *CompileHandler {
	return &CompileHandler{compileService: compileService, reader: reader}
}

// CompileGraphRequest is the wire body for POST /api/v1/graphs/:id/compile.
type CompileGraphRequest struct {
	Version  string           `json:"version"`
	Services []ir.ServiceGraph `json:"services"`
}

// Compile handles POST /api/v1/graphs/:id/compile: compiles every service in
// the request body concurrently and returns the resulting ServiceHandler
// trees keyed by service name.
func (h *CompileHandler) Compile(c echo.Context) error {
	graphID := c.Param("id")
	if graphID == "" {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "graph id is required in path",
		})
	}

	var req CompileGraphRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
	}
	if len(req.Services) == 0 {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "services must be non-empty",
		})
	}
	if req.Version == "" {
		req.Version = "1.0.0"
	}

	handlers, err := h.compileService.CompileGraph(c.Request().Context(), service.CompileGraphRequest{
		GraphID:  graphID,
		Version:  req.Version,
		Services: req.Services,
	})
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{
			Error:   "compile_failed",
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, handlers)
}

// GetCompiled handles GET /api/v1/graphs/:id/services/:service/compiled: returns
// the persisted ServiceHandler for a service at ?version= (default 1.0.0).
func (h *CompileHandler) GetCompiled(c echo.Context) error {
	if h.reader == nil {
		return c.JSON(http.StatusNotImplemented, dto.ErrorResponse{
			Error:   "no_store",
			Message: "compiled-plan persistence is not configured",
		})
	}

	graphID := c.Param("id")
	serviceName := c.Param("service")
	version := c.QueryParam("version")
	if version == "" {
		version = "1.0.0"
	}

	handler, err := h.reader.FindByServiceAndVersion(c.Request().Context(), graphID, serviceName, version)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, handler)
}
