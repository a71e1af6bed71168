package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/stockline/api/internal/domain"
)

func TestNewDependencyHealthRepositoryValidation(t *testing.T) {
	tests := []struct {
		name   string
		checks []DependencyCheck
	}{
		{name: "empty", checks: nil},
		{name: "missing name", checks: []DependencyCheck{{Check: func(context.Context) error { return nil }}}},
		{name: "missing check", checks: []DependencyCheck{{Name: "postgres"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewDependencyHealthRepository(tc.checks); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestDependencyHealthRepositoryCollect(t *testing.T) {
	now := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	boom := errors.New("connection refused")
	ok := func(context.Context) error { return nil }
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(50 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	tests := []struct {
		name       string
		checks     []DependencyCheck
		wantStatus string
		checkName  string
		wantCheck  string
		wantDetail string
	}{
		{
			name:       "all healthy",
			checks:     []DependencyCheck{{Name: "store", Check: ok}, {Name: "pubsub", Check: ok}},
			wantStatus: domain.HealthStatusOK,
			checkName:  "store",
			wantCheck:  domain.HealthStatusOK,
			wantDetail: "ok",
		},
		{
			name:       "failing dependency degrades",
			checks:     []DependencyCheck{{Name: "store", Check: func(context.Context) error { return boom }}, {Name: "pubsub", Check: ok}},
			wantStatus: domain.HealthStatusDegraded,
			checkName:  "store",
			wantCheck:  domain.HealthStatusDegraded,
			wantDetail: boom.Error(),
		},
		{
			name:       "timeout is an error",
			checks:     []DependencyCheck{{Name: "store", Timeout: 5 * time.Millisecond, Check: slow}, {Name: "pubsub", Check: func(context.Context) error { return boom }}},
			wantStatus: domain.HealthStatusError,
			checkName:  "store",
			wantCheck:  domain.HealthStatusError,
			wantDetail: "timeout",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks, WithDependencyClock(func() time.Time { return now }))
			if err != nil {
				t.Fatalf("NewDependencyHealthRepository: %v", err)
			}
			report, err := repo.Collect(context.Background())
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			if report.Status != tc.wantStatus {
				t.Fatalf("expected status %s, got %s", tc.wantStatus, report.Status)
			}
			if len(report.Checks) != len(tc.checks) {
				t.Fatalf("expected %d checks, got %d", len(tc.checks), len(report.Checks))
			}
			check := report.Checks[tc.checkName]
			if check.Status != tc.wantCheck {
				t.Fatalf("expected %s status %s, got %s", tc.checkName, tc.wantCheck, check.Status)
			}
			if check.Detail != tc.wantDetail {
				t.Fatalf("expected detail %q, got %q", tc.wantDetail, check.Detail)
			}
			if !report.GeneratedAt.Equal(now) {
				t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
			}
		})
	}
}
