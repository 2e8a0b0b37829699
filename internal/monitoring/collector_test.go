package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/flood-cli/internal/flood"
	"github.com/sells-group/flood-cli/internal/model"
	"github.com/sells-group/flood-cli/internal/store"
)

// mockStore pages through a fixed, newest-first list of assessments.
type mockStore struct {
	assessments []model.Assessment
	listErr     error
	calls       int
}

func (m *mockStore) ListAssessments(_ context.Context, filter store.Filter) ([]model.Assessment, error) {
	m.calls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	if filter.Offset >= len(m.assessments) {
		return nil, nil
	}
	end := min(filter.Offset+filter.Limit, len(m.assessments))
	return m.assessments[filter.Offset:end], nil
}

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestCollector(st Lister) *Collector {
	c := NewCollector(st)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestCollect(t *testing.T) {
	warn := &flood.ApproximationAppliedWarning{Stage: "zonal", Region: "r1"}
	st := &mockStore{assessments: []model.Assessment{
		{Status: model.AssessmentComplete, Baseline: 100, Affected: 10, CreatedAt: fixedNow.Add(-1 * time.Hour)},
		{Status: model.AssessmentFailed, Failure: &model.Failure{Stage: "histogram"}, CreatedAt: fixedNow.Add(-2 * time.Hour)},
		{Status: model.AssessmentComplete, Baseline: 50, Affected: 5, Warnings: []*flood.ApproximationAppliedWarning{warn}, CreatedAt: fixedNow.Add(-3 * time.Hour)},
		{Status: model.AssessmentFailed, Failure: &model.Failure{Stage: "sar"}, CreatedAt: fixedNow.Add(-4 * time.Hour)},
		{Status: model.AssessmentFailed, Failure: &model.Failure{Stage: "histogram"}, CreatedAt: fixedNow.Add(-5 * time.Hour)},
		{Status: model.AssessmentComplete, Baseline: 1000, Affected: 1000, CreatedAt: fixedNow.Add(-48 * time.Hour)},
	}}

	snap, err := newTestCollector(st).Collect(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.Total)
	assert.Equal(t, 2, snap.Complete)
	assert.Equal(t, 3, snap.Failed)
	assert.InDelta(t, 0.6, snap.FailRate, 1e-9)
	assert.Equal(t, 1, snap.Approximated)
	assert.Equal(t, 150.0, snap.Baseline)
	assert.Equal(t, 15.0, snap.Affected)
	assert.Equal(t, []StageFailures{{Stage: "histogram", Count: 2}, {Stage: "sar", Count: 1}}, snap.FailedStages)
	assert.Equal(t, fixedNow, snap.CollectedAt)
}

func TestCollect_NoLookbackReadsAllPages(t *testing.T) {
	st := &mockStore{}
	for i := 0; i < pageSize+1; i++ {
		st.assessments = append(st.assessments, model.Assessment{
			Status:    model.AssessmentComplete,
			Baseline:  1,
			CreatedAt: fixedNow.Add(-time.Duration(i) * 24 * time.Hour),
		})
	}

	snap, err := newTestCollector(st).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, pageSize+1, snap.Total)
	assert.Equal(t, float64(pageSize+1), snap.Baseline)
	assert.Equal(t, 2, st.calls)
	assert.Zero(t, snap.FailRate)
}

func TestCollect_Empty(t *testing.T) {
	snap, err := newTestCollector(&mockStore{}).Collect(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
	assert.Empty(t, snap.FailedStages)
}

func TestCollect_FailedWithoutStage(t *testing.T) {
	st := &mockStore{assessments: []model.Assessment{
		{Status: model.AssessmentFailed, CreatedAt: fixedNow},
	}}

	snap, err := newTestCollector(st).Collect(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []StageFailures{{Stage: "unknown", Count: 1}}, snap.FailedStages)
}

func TestCollect_StoreError(t *testing.T) {
	st := &mockStore{listErr: errors.New("connection refused")}

	_, err := newTestCollector(st).Collect(context.Background(), time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list assessments")
}
