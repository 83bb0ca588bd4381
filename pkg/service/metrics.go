package service

import (
	"fmt"
	"time"

	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/pkg/errors"
)

// MetricsSnapshot is a point-in-time view over the run store. It is computed
// on demand, not incrementally maintained.
type MetricsSnapshot struct {
	TotalRuns   int    `json:"total_runs"`
	SuccessRate string `json:"success_rate"` // e.g. "87.5%"
	AvgDuration string `json:"avg_duration"` // e.g. "350ms" or "1.2s"
	ActiveRuns  int    `json:"active_runs"`
}

// metricsWindow caps how many recent runs the snapshot considers.
const metricsWindow = 1000

// Metrics derives counts, success rate and average completed-run duration
// from the run store.
func (s *ExecutionService) Metrics() (MetricsSnapshot, error) {
	runs, err := s.store.ListRuns(metricsWindow, 0)
	if err != nil {
		return MetricsSnapshot{}, errors.Wrap(err, "list runs")
	}
	active, err := s.store.ListActiveRuns()
	if err != nil {
		return MetricsSnapshot{}, errors.Wrap(err, "list active runs")
	}

	var successes, completed int
	var totalDuration time.Duration
	for _, r := range runs {
		if r.Status == models.SuccessRunStatus {
			successes++
		}
		if r.CompletedAt != nil {
			completed++
			totalDuration += r.CompletedAt.Sub(r.StartedAt)
		}
	}

	rate := 0.0
	if len(runs) > 0 {
		rate = float64(successes) / float64(len(runs)) * 100
	}
	avg := time.Duration(0)
	if completed > 0 {
		avg = totalDuration / time.Duration(completed)
	}
	avgText := fmt.Sprintf("%dms", avg.Milliseconds())
	if avg >= time.Second {
		avgText = FormatDuration(avg)
	}

	return MetricsSnapshot{
		TotalRuns:   len(runs),
		SuccessRate: fmt.Sprintf("%.1f%%", rate),
		AvgDuration: avgText,
		ActiveRuns:  len(active),
	}, nil
}
