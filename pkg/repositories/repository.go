package repositories

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
)

// NotFound returns a 404 HTTP error with a descriptive message
func NotFound(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf(format, args...))
}

// Conflict returns a 409 HTTP error with a descriptive message
func Conflict(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf(format, args...))
}

func internalError(message string) error {
	return httperror.NewHTTPError(http.StatusInternalServerError, message)
}

// IsNotFound reports whether err is a 404 HTTP error.
func IsNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}

// IsConflict reports whether err is a 409 HTTP error.
func IsConflict(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusConflict
}

// Repository provides common database operations with tenant isolation
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new base repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Conn returns the transaction bound to ctx or the pool.
func (r *Repository) Conn(ctx context.Context) database.Querier {
	return r.db.Conn(ctx)
}

// GetTenantID extracts and validates tenant_id from context
func GetTenantID(ctx context.Context) (uuid.UUID, error) {
	tenantIDStr := appctx.GetTenantID(ctx)
	if tenantIDStr == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	tenantID, err := uuid.Parse(tenantIDStr)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "invalid authentication token")
	}

	return tenantID, nil
}

// NewPostgresStore wires every postgres repository around db.
func NewPostgresStore(db database.DB, logger ectologger.Logger) *Store {
	return &Store{
		Tx:            database.NewTxManager(db),
		Entities:      NewEntityRepository(db, logger),
		Mappings:      NewMappingRepository(db, logger),
		Relationships: NewRelationshipRepository(db, logger),
		DetectionRuns: NewDetectionRunRepository(db, logger),
		DetectionJobs: NewDetectionJobRepository(db, logger),
		Ledger:        NewMergeLedgerRepository(db, logger),
		Feedback:      NewFeedbackRepository(db, logger),
		Suggestions:   NewSuggestionRepository(db, logger),
		Workflows:     NewWorkflowRepository(db, logger),
		Connections:   NewConnectionRepository(db, logger),
		SyncRuns:      NewSyncRunRepository(db, logger),
	}
}
