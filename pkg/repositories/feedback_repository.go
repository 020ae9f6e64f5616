package repositories

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	feedbackRecordsTable = "feedback_records"
	feedbackEventsTable  = "feedback_events"
	feedbackStatsTable   = "feedback_stats"
)

var (
	feedbackRecordStruct = database.NewStruct(new(models.FeedbackRecord))
	feedbackEventStruct  = database.NewStruct(new(models.FeedbackEvent))
	feedbackStatsStruct  = database.NewStruct(new(models.FeedbackStats))
)

const incrementStatsQuery = `
INSERT INTO feedback_stats (tenant_id, action, entity_type, total, success, errors, skipped, last_occurrence)
VALUES ($1, $2, $3, 1, $4, $5, $6, $7)
ON CONFLICT (tenant_id, action, entity_type) DO UPDATE SET
	total = feedback_stats.total + 1,
	success = feedback_stats.success + EXCLUDED.success,
	errors = feedback_stats.errors + EXCLUDED.errors,
	skipped = feedback_stats.skipped + EXCLUDED.skipped,
	last_occurrence = GREATEST(feedback_stats.last_occurrence, EXCLUDED.last_occurrence)
RETURNING tenant_id, action, entity_type, total, success, errors, skipped, last_occurrence`

// FeedbackRepository handles feedback records, events and their counters
type FeedbackRepository struct {
	*Repository
}

// NewFeedbackRepository creates a new feedback repository
func NewFeedbackRepository(db database.DB, logger ectologger.Logger) *FeedbackRepository {
	return &FeedbackRepository{Repository: NewRepository(db, logger)}
}

func (r *FeedbackRepository) CreateRecord(ctx context.Context, record *models.FeedbackRecord) error {
	ctx, span := tracing.StartSpan(ctx, "FeedbackRepository.CreateRecord")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	record.TenantID = tenantID
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.CreatedAt = time.Now().UTC()

	query, args := feedbackRecordStruct.InsertInto(feedbackRecordsTable, record).Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create feedback record")
		return internalError("failed to create feedback record")
	}
	return nil
}

func (r *FeedbackRepository) ListRecords(ctx context.Context, limit int) ([]models.FeedbackRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "FeedbackRepository.ListRecords")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := feedbackRecordStruct.SelectFrom(feedbackRecordsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	records := []models.FeedbackRecord{}
	if err := r.Conn(ctx).SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list feedback records")
		return nil, internalError("failed to list feedback records")
	}
	return records, nil
}

func (r *FeedbackRepository) CreateEvent(ctx context.Context, event *models.FeedbackEvent) error {
	ctx, span := tracing.StartSpan(ctx, "FeedbackRepository.CreateEvent")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	event.TenantID = tenantID
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Context.Data == nil {
		event.Context.Data = map[string]any{}
	}

	query, args := feedbackEventStruct.InsertInto(feedbackEventsTable, event).Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create feedback event")
		return internalError("failed to create feedback event")
	}
	return nil
}

func (r *FeedbackRepository) IncrementStats(ctx context.Context, event *models.FeedbackEvent) (*models.FeedbackStats, error) {
	ctx, span := tracing.StartSpan(ctx, "FeedbackRepository.IncrementStats")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	var success, errs, skipped int
	switch event.Result {
	case models.ResultSuccess:
		success = 1
	case models.ResultError:
		errs = 1
	case models.ResultSkipped:
		skipped = 1
	}
	at := event.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var stats models.FeedbackStats
	err = r.Conn(ctx).GetContext(ctx, &stats, incrementStatsQuery,
		tenantID, event.Action, event.EntityType, success, errs, skipped, at)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to increment feedback stats")
		return nil, internalError("failed to increment feedback stats")
	}
	return &stats, nil
}

// CountSince counts events of action on entityType created at or after since
func (r *FeedbackRepository) CountSince(ctx context.Context, action, entityType string, since time.Time) (models.WindowCounts, error) {
	ctx, span := tracing.StartSpan(ctx, "FeedbackRepository.CountSince")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return models.WindowCounts{}, err
	}

	sb := database.NewSelectBuilder()
	sb.Select(
		sb.As("COUNT(*)", "total"),
		sb.As("COUNT(*) FILTER (WHERE result = 'success')", "success"),
	).From(feedbackEventsTable).Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("action", action),
		sb.Equal("entity_type", entityType),
		sb.GreaterEqualThan("created_at", since),
	)

	query, args := sb.Build()
	var counts models.WindowCounts
	if err := r.Conn(ctx).GetContext(ctx, &counts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count feedback events")
		return models.WindowCounts{}, internalError("failed to count feedback events")
	}
	return counts, nil
}

// TopStats returns the busiest counters first
func (r *FeedbackRepository) TopStats(ctx context.Context, limit int) ([]models.FeedbackStats, error) {
	ctx, span := tracing.StartSpan(ctx, "FeedbackRepository.TopStats")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := feedbackStatsStruct.SelectFrom(feedbackStatsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("total").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	stats := []models.FeedbackStats{}
	if err := r.Conn(ctx).SelectContext(ctx, &stats, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list feedback stats")
		return nil, internalError("failed to list feedback stats")
	}
	return stats, nil
}
