package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"speedtrap-service/internal/http/middleware"
	"speedtrap-service/internal/model"
	"speedtrap-service/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	violationService *service.ViolationService
	log              zerolog.Logger
}

func NewHandler(
	violationService *service.ViolationService,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		violationService: violationService,
		log:              log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.GET("/violations", h.listViolations)
		public.GET("/violations/:id", h.getViolation)
		public.GET("/plates/:plate/violations", h.listPlateViolations)
		public.GET("/stats", h.getStats)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/violations/export",
			middleware.RequireRole(model.Principal.CanExport),
			h.exportViolations)
		protected.DELETE("/violations/:id",
			middleware.RequireRole(model.Principal.IsAdmin),
			h.deleteViolation)
	}
}

func (h *Handler) listViolations(c *gin.Context) {
	plateQuery, from, to := filterParams(c)

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	violations, err := h.violationService.FindViolations(c.Request.Context(), plateQuery, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(violations))
}

func (h *Handler) getViolation(c *gin.Context) {
	info, err := h.violationService.GetViolation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(info))
}

func (h *Handler) listPlateViolations(c *gin.Context) {
	violations, err := h.violationService.FindByPlate(c.Request.Context(), c.Param("plate"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(violations))
}

func (h *Handler) getStats(c *gin.Context) {
	top := 5
	if t := c.Query("top"); t != "" {
		if parsed, err := parseInt(t); err == nil && parsed > 0 {
			top = parsed
		}
	}

	stats, err := h.violationService.Stats(c.Request.Context(), top)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(stats))
}

func (h *Handler) exportViolations(c *gin.Context) {
	plateQuery, from, to := filterParams(c)

	// Книгу собираем в буфер, чтобы при ошибке вернуть JSON, а не обрезанный файл
	var buf bytes.Buffer
	count, err := h.violationService.ExportXLSX(c.Request.Context(), &buf, plateQuery, from, to)
	if err != nil {
		h.handleError(c, err)
		return
	}

	filename := fmt.Sprintf("violations_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	h.log.Info().
		Int("rows", count).
		Str("filename", filename).
		Msg("violations exported")

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *Handler) deleteViolation(c *gin.Context) {
	id := c.Param("id")
	if err := h.violationService.DeleteViolation(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}

	principal, _ := middleware.GetPrincipal(c)
	h.log.Info().
		Str("violation_id", id).
		Str("user_id", principal.UserID.String()).
		Msg("violation deleted")

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"id":     id,
	})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func filterParams(c *gin.Context) (plateQuery, from, to *string) {
	if plate := strings.TrimSpace(c.Query("plate")); plate != "" {
		plateQuery = &plate
	}
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}
	return plateQuery, from, to
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
