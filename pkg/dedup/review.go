package dedup

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ReviewResult is the outcome of a review decision. Merge is set only for accepted runs.
type ReviewResult struct {
	Run   *models.DetectionRun `json:"run"`
	Merge *models.MergeResult  `json:"merge,omitempty"`
}

// Feedback applies a reviewer's decision to a pending detection run. Accepting merges the group
// into its primary; rejecting closes the run and records the rejection; ignoring only closes it.
func (d *Detector) Feedback(ctx context.Context, runID uuid.UUID, action models.FeedbackAction) (*ReviewResult, error) {
	ctx, span := tracing.StartSpan(ctx, "dedup.Detector.Feedback")
	defer span.End()

	actor := appctx.GetActorID(ctx)
	if actor == "" {
		return nil, httperror.NewHTTPError(http.StatusUnauthorized, "actor is required")
	}

	run, err := d.store.DetectionRuns.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, repositories.Conflict("detection run %s is already %s", runID, run.Status)
	}

	log := d.logger.WithContext(ctx).WithFields(map[string]any{
		"detection_run_id": runID,
		"action":           action,
	})

	var result ReviewResult
	switch action {
	case models.FeedbackAccepted:
		if d.merger == nil {
			return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, "merging is not available")
		}
		merge, err := d.merger.Merge(ctx, models.MergeRequest{
			PrimaryID:      run.PrimaryID,
			DuplicateIDs:   run.DuplicateIDs(),
			EntityType:     run.EntityType,
			DetectionRunID: &runID,
		})
		if err != nil {
			return nil, err
		}
		result.Merge = merge

	case models.FeedbackRejected:
		err := d.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := d.store.DetectionRuns.Resolve(ctx, runID, models.DetectionStatusRejected); err != nil {
				return err
			}
			return d.store.Feedback.CreateRecord(ctx, &models.FeedbackRecord{
				PrimaryID:      run.PrimaryID,
				MergedIDs:      database.NewJSONB(run.DuplicateIDs()),
				Action:         models.FeedbackRejected,
				DetectionRunID: &runID,
				ActorID:        actor,
			})
		})
		if err != nil {
			return nil, err
		}
		metrics.RecordMerge(appctx.GetTenantID(ctx), run.EntityType, string(models.ResultSkipped))
		d.recordSkipped(ctx, run)

	case models.FeedbackIgnored:
		if err := d.store.DetectionRuns.Resolve(ctx, runID, models.DetectionStatusIgnored); err != nil {
			return nil, err
		}

	default:
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown feedback action %q", action)
	}

	result.Run, err = d.store.DetectionRuns.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	d.reportRuns(ctx, run.EntityType)

	log.Info("Detection run reviewed")
	return &result, nil
}

func (d *Detector) recordSkipped(ctx context.Context, run *models.DetectionRun) {
	if d.recorder == nil {
		return
	}
	err := d.recorder.RecordEvent(ctx, &models.FeedbackEvent{
		Action:     models.ActionMerge,
		EntityType: run.EntityType,
		EntityID:   run.PrimaryID.String(),
		Result:     models.ResultSkipped,
		Context: database.NewJSONB(map[string]any{
			"detection_run_id": run.ID.String(),
			"member_count":     len(run.MemberIDs.Data),
		}),
	})
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).Warn("Failed to record feedback event")
	}
}
