package routes

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/syncer"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/utils"
)

const redacted = "********"

// ConnectionHandler handles provider connection endpoints
type ConnectionHandler struct {
	repo       repositories.ConnectionRepo
	service    *syncer.Service
	dispatcher syncer.Dispatcher
	logger     ectologger.Logger
}

func NewConnectionHandler(repo repositories.ConnectionRepo, service *syncer.Service, dispatcher syncer.Dispatcher, logger ectologger.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		repo:       repo,
		service:    service,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

type CreateConnectionRequest struct {
	Provider    string                  `json:"provider" validate:"required"`
	Name        string                  `json:"name" validate:"required"`
	Config      models.ConnectionConfig `json:"config"`
	EntityTypes []string                `json:"entity_types,omitempty"`
	Enabled     *bool                   `json:"enabled,omitempty"`
}

type PushRequest struct {
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
}

type TestConnectionResponse struct {
	OK bool `json:"ok"`
}

// Register registers connection routes
func (h *ConnectionHandler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.POST("/:id/test", h.Test)
	g.POST("/:id/sync", h.Sync)
	g.GET("/:id/runs", h.Runs)
	g.POST("/:id/push", h.Push)
}

func (h *ConnectionHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ConnectionHandler.List")
	defer span.End()

	conns, err := h.repo.List(ctx)
	if err != nil {
		return err
	}
	for i := range conns {
		redact(&conns[i])
	}
	return SuccessResponse(c, conns)
}

func (h *ConnectionHandler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ConnectionHandler.Create")
	defer span.End()

	req, err := utils.BindRequest[CreateConnectionRequest](c)
	if err != nil {
		return err
	}

	conn := &models.Connection{
		Provider:    req.Provider,
		Name:        req.Name,
		Config:      database.NewJSONB(req.Config),
		EntityTypes: pq.StringArray(req.EntityTypes),
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if err := h.service.CreateConnection(ctx, conn); err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"connection_id": conn.ID,
		"provider":      conn.Provider,
	}).Info("connection created")
	redact(conn)
	return CreatedResponse(c, conn)
}

func (h *ConnectionHandler) Get(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	conn, err := h.repo.GetByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	redact(conn)
	return SuccessResponse(c, conn)
}

func (h *ConnectionHandler) Test(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	ok, err := h.service.TestConnection(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, TestConnectionResponse{OK: ok})
}

// Sync runs the connection inline or enqueues it, depending on the configured dispatcher.
func (h *ConnectionHandler) Sync(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	dispatch, err := h.dispatcher.Dispatch(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if dispatch.Queued {
		return AcceptedResponse(c, dispatch)
	}
	return SuccessResponse(c, dispatch)
}

func (h *ConnectionHandler) Runs(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	limit, err := QueryInt(c, "limit", 0)
	if err != nil {
		return err
	}

	runs, err := h.service.Runs(c.Request().Context(), id, limit)
	if err != nil {
		return err
	}
	return SuccessResponse(c, runs)
}

func (h *ConnectionHandler) Push(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	req, err := utils.BindRequest[PushRequest](c)
	if err != nil {
		return err
	}

	entityID, err := uuid.Parse(req.EntityID)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid entity_id: must be a valid UUID")
	}

	result, err := h.service.Push(c.Request().Context(), id, req.EntityType, entityID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

func redact(conn *models.Connection) {
	if conn.Config.Data.APIKey != "" {
		conn.Config.Data.APIKey = redacted
	}
}
