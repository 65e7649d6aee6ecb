package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"skin-analysis-backend/internal/analysis"
	"skin-analysis-backend/internal/middleware"
	"skin-analysis-backend/internal/models"
	"skin-analysis-backend/internal/persistence"
	"skin-analysis-backend/internal/services"
)

type AnalysisHandler struct {
	captureService *services.CaptureService
	coordinator    *persistence.Coordinator
	store          persistence.RecordStore
}

func NewAnalysisHandler(captureService *services.CaptureService, coordinator *persistence.Coordinator, store persistence.RecordStore) *AnalysisHandler {
	return &AnalysisHandler{
		captureService: captureService,
		coordinator:    coordinator,
		store:          store,
	}
}

func authenticatedUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDStr, exists := c.Get(middleware.UserIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user id not found"})
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid user id"})
		return uuid.Nil, false
	}
	return userID, true
}

// Analyze ingests a captured image from a device client, runs the analysis
// service and commits the result. POST /api/v1/analysis
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}

	var req models.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}
	if req.Image == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "image is required"})
		return
	}
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "session_id is required"})
		return
	}

	saved, err := h.captureService.AnalyzeAndSave(c.Request.Context(), userID, req.SessionID, req.Image, req.Context)
	if err != nil {
		var analysisErr *analysis.AnalysisError
		var validationErr *persistence.ValidationError
		switch {
		case errors.As(err, &analysisErr):
			// The photo was fine; scoring failed. Reported distinctly so the
			// client does not re-run the capture flow.
			c.JSON(http.StatusBadGateway, models.ErrorResponse{
				Error:   "analysis failed",
				Message: analysisErr.Message,
			})
		case errors.As(err, &validationErr):
			c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
				Error:   "invalid analysis result",
				Message: validationErr.Reason,
			})
		default:
			c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
				Error:     "failed to save analysis",
				Message:   err.Error(),
				Retryable: true,
			})
		}
		return
	}

	c.JSON(http.StatusOK, models.NewRecordResponse(saved.Record, saved.Deduplicated))
}

// Latest returns the authenticated user's most recent record, cache-first.
// GET /api/v1/analysis/latest
func (h *AnalysisHandler) Latest(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}

	rec, err := h.coordinator.Latest(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to load latest record",
			Message: err.Error(),
		})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "no analysis records"})
		return
	}

	c.JSON(http.StatusOK, models.NewRecordResponse(rec, false))
}

// List returns the user's analysis history. GET /api/v1/analysis
func (h *AnalysisHandler) List(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := h.store.ListForUser(userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to list records",
			Message: err.Error(),
		})
		return
	}

	resp := models.RecordListResponse{Records: make([]models.RecordResponse, 0, len(records))}
	for i := range records {
		resp.Records = append(resp.Records, models.NewRecordResponse(&records[i], false))
	}
	c.JSON(http.StatusOK, resp)
}

// Get returns one record by id, scoped to the authenticated user.
// GET /api/v1/analysis/:record_id
func (h *AnalysisHandler) Get(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}

	recordID, err := uuid.Parse(c.Param("record_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid record id"})
		return
	}

	rec, err := h.store.GetByID(recordID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to load record",
			Message: err.Error(),
		})
		return
	}
	if rec == nil || rec.UserID != userID {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "record not found"})
		return
	}

	c.JSON(http.StatusOK, models.NewRecordResponse(rec, false))
}
