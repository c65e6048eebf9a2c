package trend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/instapulse/instapulse/internal/models"
)

func testConfig() Config {
	return Config{
		GrowthThresholdPercent: 150,
		MaxPostAge:             24 * time.Hour,
		MinSnapshots:           2,
	}
}

func TestAnalyze_NoSnapshots(t *testing.T) {
	service := NewService(testConfig())

	result := service.Analyze(1, time.Now(), nil, 100)

	assert.Equal(t, int64(1), result.PostID)
	assert.Zero(t, result.CurrentViews)
	assert.Zero(t, result.ViewsPerHour)
	assert.Zero(t, result.GrowthRate)
	assert.False(t, result.IsTrending)
}

func TestAnalyze_SingleSnapshotUsesPublishTime(t *testing.T) {
	service := NewService(testConfig())
	publishedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	snapshots := []models.PostSnapshot{
		{Views: 1000, CheckedAt: publishedAt.Add(2 * time.Hour)},
	}

	result := service.Analyze(1, publishedAt, snapshots, 0)

	assert.Equal(t, int64(1000), result.CurrentViews)
	assert.InDelta(t, 500, result.ViewsPerHour, 0.001)
}

func TestAnalyze_TwoSnapshotsUsesDelta(t *testing.T) {
	service := NewService(testConfig())
	publishedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	snapshots := []models.PostSnapshot{
		{Views: 1000, CheckedAt: publishedAt.Add(1 * time.Hour)},
		{Views: 1500, CheckedAt: publishedAt.Add(2 * time.Hour)},
	}

	result := service.Analyze(1, publishedAt, snapshots, 0)

	assert.InDelta(t, 500, result.ViewsPerHour, 0.001)
	assert.Equal(t, int64(1500), result.CurrentViews)
}

func TestAnalyze_ViewDecreaseFallsBackToPublishTime(t *testing.T) {
	service := NewService(testConfig())
	publishedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	// Views went down between observations (provider correction). The
	// velocity must fall back to views since publish, never go negative.
	snapshots := []models.PostSnapshot{
		{Views: 1500, CheckedAt: publishedAt.Add(4 * time.Hour)},
		{Views: 1000, CheckedAt: publishedAt.Add(5 * time.Hour)},
	}

	result := service.Analyze(1, publishedAt, snapshots, 0)

	assert.InDelta(t, 200, result.ViewsPerHour, 0.001)
	assert.GreaterOrEqual(t, result.ViewsPerHour, 0.0)
}

func TestAnalyze_UnorderedSnapshotsAreSorted(t *testing.T) {
	service := NewService(testConfig())
	publishedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	snapshots := []models.PostSnapshot{
		{Views: 1500, CheckedAt: publishedAt.Add(2 * time.Hour)},
		{Views: 1000, CheckedAt: publishedAt.Add(1 * time.Hour)},
	}

	result := service.Analyze(1, publishedAt, snapshots, 0)

	assert.InDelta(t, 500, result.ViewsPerHour, 0.001)
	assert.Equal(t, int64(1500), result.CurrentViews)
}

func TestAnalyze_TrendingVerdict(t *testing.T) {
	publishedAt := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		baseline   float64
		snapshots  []models.PostSnapshot
		wantGrowth float64
		trending   bool
	}{
		{
			name:     "growth above threshold within age window",
			baseline: 100,
			snapshots: []models.PostSnapshot{
				{Views: 2700, CheckedAt: publishedAt.Add(9 * time.Hour)},
				{Views: 3000, CheckedAt: publishedAt.Add(10 * time.Hour)},
			},
			wantGrowth: 200,
			trending:   true,
		},
		{
			name:     "zero baseline never trends",
			baseline: 0,
			snapshots: []models.PostSnapshot{
				{Views: 2700, CheckedAt: publishedAt.Add(9 * time.Hour)},
				{Views: 3000, CheckedAt: publishedAt.Add(10 * time.Hour)},
			},
			wantGrowth: 0,
			trending:   false,
		},
		{
			name:     "too few snapshots",
			baseline: 100,
			snapshots: []models.PostSnapshot{
				{Views: 3000, CheckedAt: publishedAt.Add(10 * time.Hour)},
			},
			wantGrowth: 200,
			trending:   false,
		},
		{
			name:     "post too old",
			baseline: 100,
			snapshots: []models.PostSnapshot{
				{Views: 2700, CheckedAt: publishedAt.Add(29 * time.Hour)},
				{Views: 3000, CheckedAt: publishedAt.Add(30 * time.Hour)},
			},
			wantGrowth: 200,
			trending:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewService(testConfig())
			result := service.Analyze(7, publishedAt, tt.snapshots, tt.baseline)

			assert.InDelta(t, tt.wantGrowth, result.GrowthRate, 0.001)
			assert.Equal(t, tt.trending, result.IsTrending)
		})
	}
}

func TestAccountAverageSpeed(t *testing.T) {
	tests := []struct {
		name     string
		speeds   []float64
		expected float64
	}{
		{
			name:     "mean of positive speeds",
			speeds:   []float64{100, 200, 300},
			expected: 200,
		},
		{
			name:     "zeros and negatives excluded",
			speeds:   []float64{0, -50, 100, 300},
			expected: 200,
		},
		{
			name:     "no positive speeds",
			speeds:   []float64{0, 0, -1},
			expected: 0,
		},
		{
			name:     "empty pass",
			speeds:   nil,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, AccountAverageSpeed(tt.speeds), 0.001)
		})
	}
}
