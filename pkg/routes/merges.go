package routes

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/utils"
)

const maxHistoryLimit = 200

// MergeHandler handles merge and rollback endpoints
type MergeHandler struct {
	engine *merging.Engine
}

func NewMergeHandler(engine *merging.Engine) *MergeHandler {
	return &MergeHandler{engine: engine}
}

// Register registers merge routes
func (h *MergeHandler) Register(g *echo.Group) {
	g.POST("", h.Merge)
	g.GET("/history", h.History)
	g.POST("/:id/rollback", h.Rollback)
}

func (h *MergeHandler) Merge(c echo.Context) error {
	req, err := utils.BindRequest[models.MergeRequest](c)
	if err != nil {
		return err
	}

	result, err := h.engine.Merge(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

func (h *MergeHandler) History(c echo.Context) error {
	limit, err := QueryInt(c, "limit", 50)
	if err != nil {
		return err
	}
	if limit > maxHistoryLimit {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "limit must be at most %d", maxHistoryLimit)
	}
	offset, err := QueryInt(c, "offset", 0)
	if err != nil {
		return err
	}

	entries, err := h.engine.History(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}
	return SuccessResponse(c, entries)
}

// Rollback restores the duplicate recorded by a ledger entry.
func (h *MergeHandler) Rollback(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	restored, err := h.engine.Rollback(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, restored)
}
