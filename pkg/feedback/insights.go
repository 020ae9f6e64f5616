package feedback

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	InsightWarning    = "warning"
	InsightSuggestion = "suggestion"
	InsightAI         = "ai-insight"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"

	highErrorRate       = 0.3
	consistentRate      = 0.9
	consistentMinEvents = 50
)

// Insights inspects the tenant's busiest action counters. When an advisor is configured its
// analysis is appended as a low priority insight; advisor failures only drop that insight.
func (t *Tracker) Insights(ctx context.Context) ([]models.Insight, error) {
	ctx, span := tracing.StartSpan(ctx, "feedback.Tracker.Insights")
	defer span.End()

	stats, err := t.store.Feedback.TopStats(ctx, t.cfg.InsightStats)
	if err != nil {
		return nil, err
	}

	insights := []models.Insight{}
	for _, stat := range stats {
		if stat.Total == 0 {
			continue
		}
		errorRate := stat.ErrorRate()
		successRate := stat.SuccessRate()

		if errorRate > highErrorRate {
			insights = append(insights, models.Insight{
				Type:           InsightWarning,
				Priority:       PriorityHigh,
				Action:         stat.Action,
				EntityType:     stat.EntityType,
				Message:        fmt.Sprintf("High error rate (%.0f%%) for %s on %s", errorRate*100, stat.Action, stat.EntityType),
				Recommendation: "Review process and provide additional training",
				Rate:           errorRate,
			})
		}
		if successRate > consistentRate && stat.Total > consistentMinEvents {
			insights = append(insights, models.Insight{
				Type:           InsightSuggestion,
				Priority:       PriorityMedium,
				Action:         stat.Action,
				EntityType:     stat.EntityType,
				Message:        fmt.Sprintf("%s on %s is highly consistent", stat.Action, stat.EntityType),
				Recommendation: "Consider automating this action",
				Rate:           successRate,
			})
		}
	}

	if t.advisor != nil && len(stats) > 0 {
		analysis, err := t.advisor.Insights(ctx, stats)
		if err != nil {
			t.logger.WithContext(ctx).WithError(err).Warn("Failed to generate AI insights")
		} else if analysis != "" {
			insights = append(insights, models.Insight{Type: InsightAI, Priority: PriorityLow, Message: analysis})
		}
	}
	return insights, nil
}
