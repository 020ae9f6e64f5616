package feedback

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestInsights(t *testing.T) {
	tests := []struct {
		name     string
		advisor  Advisor
		success  int
		errs     int
		expected []string
	}{
		{name: "high error rate", success: 6, errs: 4, expected: []string{InsightWarning}},
		{name: "highly consistent", success: 60, expected: []string{InsightSuggestion}},
		{name: "consistent but too few", success: 40},
		{name: "advisor text appended", success: 5, advisor: stubAdvisor{text: "Merges look healthy"}, expected: []string{InsightAI}},
		{name: "advisor failure dropped", success: 5, advisor: stubAdvisor{err: errors.New("rate limited")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, _, ctx := newTestTracker(tt.advisor)
			tracker.cfg.MinEvents = 1000
			record(t, tracker, ctx, tt.success, "sync.pull", models.ResultSuccess)
			record(t, tracker, ctx, tt.errs, "sync.pull", models.ResultError)

			insights, err := tracker.Insights(ctx)
			require.NoError(t, err)

			types := []string{}
			for _, insight := range insights {
				types = append(types, insight.Type)
			}
			if tt.expected == nil {
				assert.Empty(t, types)
			} else {
				assert.Equal(t, tt.expected, types)
			}
		})
	}
}

func TestInsights_WarningMessage(t *testing.T) {
	tracker, _, ctx := newTestTracker(nil)
	record(t, tracker, ctx, 1, "sync.pull", models.ResultSuccess)
	record(t, tracker, ctx, 1, "sync.pull", models.ResultError)

	insights, err := tracker.Insights(ctx)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "High error rate (50%) for sync.pull on contact", insights[0].Message)
	assert.Equal(t, PriorityHigh, insights[0].Priority)
}
