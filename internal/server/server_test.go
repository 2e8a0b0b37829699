package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/flood-cli/internal/export"
	"github.com/sells-group/flood-cli/internal/flood"
	"github.com/sells-group/flood-cli/internal/model"
	"github.com/sells-group/flood-cli/internal/store"
)

func sampleAssessment() *model.Assessment {
	return &model.Assessment{
		ID:        "a1",
		Name:      "harvey",
		Status:    model.AssessmentComplete,
		Polarity:  flood.LowIsFlood,
		Threshold: &flood.Threshold{Value: -17.2, Split: 40, Variance: 12},
		Baseline:  300,
		Affected:  90,
		Zones: []model.Zone{
			{RegionID: "north", RegionName: "North", Baseline: 200, Affected: 90},
			{RegionID: "south", RegionName: "South", Baseline: 100},
		},
		CreatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func do(t *testing.T, h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	st := new(mockStore)
	rec := do(t, New(st, Options{}), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealth_PingFails(t *testing.T) {
	st := new(pingStore)
	st.On("Ping", mock.Anything).Return(eris.New("connection refused"))

	rec := do(t, New(st, Options{}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	st.AssertExpectations(t)
}

func TestListAssessments(t *testing.T) {
	st := new(mockStore)
	st.On("ListAssessments", mock.Anything, store.Filter{Name: "harvey", Status: model.AssessmentComplete, Limit: 10, Offset: 5}).
		Return([]model.Assessment{*sampleAssessment()}, nil)

	rec := do(t, New(st, Options{}), http.MethodGet, "/assessments?name=harvey&status=complete&limit=10&offset=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.Assessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, -17.2, got[0].Threshold.Value)
	st.AssertExpectations(t)
}

func TestListAssessments_EmptyIsArray(t *testing.T) {
	st := new(mockStore)
	st.On("ListAssessments", mock.Anything, store.Filter{}).Return(nil, nil)

	rec := do(t, New(st, Options{}), http.MethodGet, "/assessments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListAssessments_BadParams(t *testing.T) {
	st := new(mockStore)
	h := New(st, Options{MaxListLimit: 100})

	for _, q := range []string{"status=running", "limit=-1", "limit=abc", "limit=101", "offset=x"} {
		rec := do(t, h, http.MethodGet, "/assessments?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	st.AssertNotCalled(t, "ListAssessments", mock.Anything, mock.Anything)
}

func TestListAssessments_StoreError(t *testing.T) {
	st := new(mockStore)
	st.On("ListAssessments", mock.Anything, mock.Anything).Return(nil, eris.New("disk full"))

	rec := do(t, New(st, Options{}), http.MethodGet, "/assessments", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk full")
}

func TestGetAssessment(t *testing.T) {
	st := new(mockStore)
	st.On("GetAssessment", mock.Anything, "a1").Return(sampleAssessment(), nil)

	rec := do(t, New(st, Options{}), http.MethodGet, "/assessments/a1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.Assessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "harvey", got.Name)
	assert.Len(t, got.Zones, 2)
}

func TestGetAssessment_NotFound(t *testing.T) {
	st := new(mockStore)
	st.On("GetAssessment", mock.Anything, "nope").Return(nil, eris.Wrap(store.ErrNotFound, "sqlite: assessment nope"))

	rec := do(t, New(st, Options{}), http.MethodGet, "/assessments/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")
}

func TestZonesCSV(t *testing.T) {
	st := new(mockStore)
	st.On("GetAssessment", mock.Anything, "a1").Return(sampleAssessment(), nil)

	rec := do(t, New(st, Options{}), http.MethodGet, "/assessments/a1/zones.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "harvey-zones.csv")

	rows, err := export.ReadZonalCSV(rec.Body)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "north", rows[0].RegionID)
	assert.Equal(t, 90.0, rows[0].Affected)
}

func TestCORS(t *testing.T) {
	st := new(mockStore)
	st.On("GetAssessment", mock.Anything, "a1").Return(sampleAssessment(), nil)
	h := New(st, Options{CORSOrigins: []string{"https://maps.example.org"}})

	rec := do(t, h, http.MethodGet, "/assessments/a1", map[string]string{"Origin": "https://maps.example.org"})
	assert.Equal(t, "https://maps.example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/assessments/a1", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	rec := do(t, New(new(mockStore), Options{}), http.MethodGet, "/flood", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
