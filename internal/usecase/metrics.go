package usecase

import (
	"context"
	"math"
	"time"
)

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	Window                     string  `json:"window"`
	TotalRequests              int64   `json:"total_requests"`
	SuccessfulRequests         int64   `json:"successful_requests"`
	RejectedRequests           int64   `json:"rejected_requests"`
	SuccessRate                float64 `json:"success_rate"`
	AverageScore               float64 `json:"average_score"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates verification metrics over the trailing window.
// A zero window covers every persisted log.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context, window time.Duration) (*MetricsSummary, error) {
	var since time.Time
	label := "all"
	if window > 0 {
		since = uc.now().Add(-window)
		label = window.String()
	}

	aggregation, err := uc.repo.AggregateMetrics(ctx, since)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		Window:                     label,
		TotalRequests:              aggregation.TotalCount,
		SuccessfulRequests:         aggregation.SuccessCount,
		RejectedRequests:           aggregation.TotalCount - aggregation.SuccessCount,
		AverageScore:               round(aggregation.AverageScore, 4),
		AverageProcessingLatencyMs: round(aggregation.AverageProcessingLatencyMs, 2),
	}
	if aggregation.TotalCount > 0 {
		summary.SuccessRate = round(float64(aggregation.SuccessCount)/float64(aggregation.TotalCount), 4)
	}
	return summary, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
