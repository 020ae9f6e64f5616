package routes

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/feedback"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// FeedbackHandler handles feedback events and automation suggestions
type FeedbackHandler struct {
	tracker *feedback.Tracker
}

func NewFeedbackHandler(tracker *feedback.Tracker) *FeedbackHandler {
	return &FeedbackHandler{tracker: tracker}
}

type RecordEventRequest struct {
	Action     string             `json:"action" validate:"required"`
	EntityType string             `json:"entity_type" validate:"required"`
	EntityID   string             `json:"entity_id,omitempty"`
	Result     models.EventResult `json:"result" validate:"required,oneof=success error skipped"`
	Context    map[string]any     `json:"context,omitempty"`
}

// Register registers feedback routes
func (h *FeedbackHandler) Register(g *echo.Group) {
	g.POST("", h.Record)
	g.GET("/insights", h.Insights)
}

// RegisterSuggestions registers automation suggestion routes
func (h *FeedbackHandler) RegisterSuggestions(g *echo.Group) {
	g.GET("", h.ListSuggestions)
	g.POST("/:id/accept", h.Accept)
	g.POST("/:id/reject", h.Reject)
}

func (h *FeedbackHandler) Record(c echo.Context) error {
	req, err := utils.BindRequest[RecordEventRequest](c)
	if err != nil {
		return err
	}

	event := &models.FeedbackEvent{
		Action:     req.Action,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Result:     req.Result,
		Context:    database.NewJSONB(req.Context),
	}
	if err := h.tracker.RecordEvent(c.Request().Context(), event); err != nil {
		return err
	}
	return CreatedResponse(c, event)
}

func (h *FeedbackHandler) Insights(c echo.Context) error {
	insights, err := h.tracker.Insights(c.Request().Context())
	if err != nil {
		return err
	}
	return SuccessResponse(c, insights)
}

// ListSuggestions lists pending suggestions unless ?status= names another status or "all".
func (h *FeedbackHandler) ListSuggestions(c echo.Context) error {
	status := models.SuggestionStatus(c.QueryParam("status"))
	switch status {
	case "":
		status = models.SuggestionPending
	case "all":
		status = ""
	case models.SuggestionPending, models.SuggestionAccepted, models.SuggestionRejected:
	default:
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid status %q", status)
	}

	suggestions, err := h.tracker.Suggestions(c.Request().Context(), status)
	if err != nil {
		return err
	}
	return SuccessResponse(c, suggestions)
}

// Accept turns a pending suggestion into an active workflow.
func (h *FeedbackHandler) Accept(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	workflow, err := h.tracker.Accept(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return CreatedResponse(c, workflow)
}

func (h *FeedbackHandler) Reject(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.tracker.Reject(c.Request().Context(), id); err != nil {
		return err
	}
	return NoContentResponse(c)
}
