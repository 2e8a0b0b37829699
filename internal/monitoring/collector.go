// Package monitoring summarizes recent assessment outcomes from the store.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/flood-cli/internal/model"
	"github.com/sells-group/flood-cli/internal/store"
)

// pageSize is the number of assessments read per store call.
const pageSize = 500

// Lister is the store method the collector needs.
type Lister interface {
	ListAssessments(ctx context.Context, filter store.Filter) ([]model.Assessment, error)
}

// StageFailures counts failed assessments that stopped at one stage.
type StageFailures struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

// Snapshot holds a point-in-time view of recent assessments.
type Snapshot struct {
	Total    int     `json:"total"`
	Complete int     `json:"complete"`
	Failed   int     `json:"failed"`
	FailRate float64 `json:"fail_rate"`

	// Failures by stage, most frequent first.
	FailedStages []StageFailures `json:"failed_stages,omitempty"`

	// Complete assessments that ran at least one stage at a coarser scale.
	Approximated int     `json:"approximated"`
	Baseline     float64 `json:"baseline_population"`
	Affected     float64 `json:"affected_population"`

	Lookback    time.Duration `json:"lookback"`
	CollectedAt time.Time     `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store Lister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st Lister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect summarizes the assessments created within lookback. A zero
// lookback covers every stored assessment.
func (c *Collector) Collect(ctx context.Context, lookback time.Duration) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{Lookback: lookback, CollectedAt: now}
	var cutoff time.Time
	if lookback > 0 {
		cutoff = now.Add(-lookback)
	}

	stages := map[string]int{}
	for offset := 0; ; offset += pageSize {
		page, err := c.store.ListAssessments(ctx, store.Filter{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list assessments")
		}

		for _, a := range page {
			// Pages are newest first.
			if !cutoff.IsZero() && a.CreatedAt.Before(cutoff) {
				return snap.finish(stages), nil
			}
			snap.add(a, stages)
		}
		if len(page) < pageSize {
			return snap.finish(stages), nil
		}
	}
}

func (s *Snapshot) add(a model.Assessment, stages map[string]int) {
	s.Total++
	switch a.Status {
	case model.AssessmentComplete:
		s.Complete++
		s.Baseline += a.Baseline
		s.Affected += a.Affected
		if len(a.Warnings) > 0 {
			s.Approximated++
		}
	case model.AssessmentFailed:
		s.Failed++
		stage := "unknown"
		if a.Failure != nil && a.Failure.Stage != "" {
			stage = a.Failure.Stage
		}
		stages[stage]++
	}
}

func (s *Snapshot) finish(stages map[string]int) *Snapshot {
	if finished := s.Complete + s.Failed; finished > 0 {
		s.FailRate = float64(s.Failed) / float64(finished)
	}
	for stage, n := range stages {
		s.FailedStages = append(s.FailedStages, StageFailures{Stage: stage, Count: n})
	}
	sort.Slice(s.FailedStages, func(i, j int) bool {
		if s.FailedStages[i].Count != s.FailedStages[j].Count {
			return s.FailedStages[i].Count > s.FailedStages[j].Count
		}
		return s.FailedStages[i].Stage < s.FailedStages[j].Stage
	})
	return s
}
