package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/services"
)

type stubSystemService struct {
	report    services.SystemHealthReport
	err       error
	reconcile func(context.Context, services.Pagination) (domain.CursorPage[services.StockReconciliation], error)
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func (s *stubSystemService) ReconcileStock(ctx context.Context, pager services.Pagination) (domain.CursorPage[services.StockReconciliation], error) {
	if s.reconcile != nil {
		return s.reconcile(ctx, pager)
	}
	return domain.CursorPage[services.StockReconciliation]{}, nil
}

var _ services.SystemService = (*stubSystemService)(nil)

var fixedNow = time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)

func TestHealthzReportsBuildAndUptime(t *testing.T) {
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   fixedNow.Add(-30 * time.Second),
		}),
		WithHealthClock(func() time.Time { return fixedNow }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, domain.HealthStatusOK, body["status"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "abc123", body["commitSha"])
	assert.Equal(t, "prod", body["environment"])
	assert.Equal(t, "30s", body["uptime"])
}

func TestReadyzWithoutSystemServiceFallsBackToLiveness(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandlers().Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

type readyzBody struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Status    string `json:"status"`
		LatencyMS int64  `json:"latencyMs"`
	} `json:"checks"`
	Details []string `json:"details"`
}

func TestReadyz(t *testing.T) {
	cases := []struct {
		name        string
		svc         *stubSystemService
		wantCode    int
		wantStatus  string
		wantDetails []string
	}{
		{
			name: "all checks ok",
			svc: &stubSystemService{report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: fixedNow,
				Checks: map[string]domain.SystemHealthCheck{
					"store": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: fixedNow},
				},
			}},
			wantCode:   http.StatusOK,
			wantStatus: domain.HealthStatusOK,
		},
		{
			name: "degraded pubsub",
			svc: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"pubsub": {Status: domain.HealthStatusDegraded, Error: "publish failed"},
					"store":  {Status: domain.HealthStatusOK},
				},
			}},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  domain.HealthStatusDegraded,
			wantDetails: []string{"pubsub: publish failed"},
		},
		{
			name: "store timed out",
			svc: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"store": {Status: domain.HealthStatusError, Detail: "context deadline exceeded"},
				},
			}},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  domain.HealthStatusError,
			wantDetails: []string{"store: context deadline exceeded"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(
				WithHealthSystemService(tc.svc),
				WithHealthClock(func() time.Time { return fixedNow }),
			)
			rr := httptest.NewRecorder()
			h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			require.Equal(t, tc.wantCode, rr.Code)
			var body readyzBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tc.wantStatus, body.Status)
			assert.Equal(t, tc.wantDetails, body.Details)
			for name, check := range tc.svc.report.Checks {
				assert.Equal(t, check.Status, body.Checks[name].Status, name)
				assert.Equal(t, check.Latency.Milliseconds(), body.Checks[name].LatencyMS, name)
			}
		})
	}
}

func TestReadyzReportError(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("boom")}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "health_unavailable")
}
