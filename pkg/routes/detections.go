package routes

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/dedup"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// DetectionHandler handles duplicate detection endpoints
type DetectionHandler struct {
	detector *dedup.Detector
}

func NewDetectionHandler(detector *dedup.Detector) *DetectionHandler {
	return &DetectionHandler{detector: detector}
}

type DetectRequest struct {
	EntityType    string   `json:"entity_type" validate:"required"`
	MinSimilarity *float64 `json:"min_similarity,omitempty" validate:"omitempty,gte=0,lte=1"`
}

type DetectionFeedbackRequest struct {
	Action models.FeedbackAction `json:"action" validate:"required,oneof=accepted rejected ignored"`
}

// Register registers detection routes
func (h *DetectionHandler) Register(g *echo.Group) {
	g.POST("", h.Detect)
	g.GET("/pending", h.ListPending)
	g.GET("/jobs/:id", h.GetJob)
	g.POST("/jobs/:id/resume", h.Resume)
	g.POST("/:id/feedback", h.Feedback)
}

// Detect runs a detection pass over one entity type. A job that stops at its block budget is
// returned with status running and can be resumed.
func (h *DetectionHandler) Detect(c echo.Context) error {
	req, err := utils.BindRequest[DetectRequest](c)
	if err != nil {
		return err
	}

	minSimilarity := 0.0
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
	}

	job, err := h.detector.Detect(c.Request().Context(), req.EntityType, minSimilarity)
	if err != nil {
		return err
	}
	return jobResponse(c, job)
}

func (h *DetectionHandler) Resume(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	job, err := h.detector.Resume(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return jobResponse(c, job)
}

func (h *DetectionHandler) GetJob(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	job, err := h.detector.GetJob(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, job)
}

func (h *DetectionHandler) ListPending(c echo.Context) error {
	entityType := c.QueryParam("entity_type")
	if entityType == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "entity_type is required")
	}

	runs, err := h.detector.ListPending(c.Request().Context(), entityType)
	if err != nil {
		return err
	}
	return SuccessResponse(c, runs)
}

func (h *DetectionHandler) Feedback(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	req, err := utils.BindRequest[DetectionFeedbackRequest](c)
	if err != nil {
		return err
	}

	result, err := h.detector.Feedback(c.Request().Context(), id, req.Action)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

func jobResponse(c echo.Context, job *models.DetectionJob) error {
	if job.Status == models.JobStatusCompleted {
		return SuccessResponse(c, job)
	}
	return AcceptedResponse(c, job)
}
