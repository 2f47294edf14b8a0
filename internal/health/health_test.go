package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func probe(t *testing.T, h *Handler, path string) (int, Report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, rep
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New([]Checker{{Name: "database", Check: failWith("down")}}, WithVersion("v1.2.3"))
	code, rep := probe(t, h, "/healthz")
	if code != http.StatusOK || rep.Status != StatusOK {
		t.Errorf("healthz = %d %q, want 200 ok", code, rep.Status)
	}
	if rep.Version != "v1.2.3" {
		t.Errorf("version = %q", rep.Version)
	}
	if rep.Checks != nil {
		t.Errorf("liveness ran checks: %v", rep.Checks)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "database", Check: pass}, {Name: "archive", Check: pass, Optional: true}},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{"database": StatusOK, "archive": StatusOK},
		},
		{
			name:       "required fails",
			checkers:   []Checker{{Name: "database", Check: failWith("connection refused")}, {Name: "archive", Check: pass, Optional: true}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"database": StatusFail, "archive": StatusOK},
		},
		{
			name:       "optional fails",
			checkers:   []Checker{{Name: "archive", Check: failWith("dropping turns"), Optional: true}},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"archive": StatusDegraded},
		},
		{
			name: "required failure outranks degraded",
			checkers: []Checker{
				{Name: "archive", Check: failWith("dropping turns"), Optional: true},
				{Name: "database", Check: failWith("timeout")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"archive": StatusDegraded, "database": StatusFail},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, rep := probe(t, New(tt.checkers), "/readyz")
			if code != tt.wantCode || rep.Status != tt.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, rep.Status, tt.wantCode, tt.wantStatus)
			}
			if len(rep.Checks) != len(tt.wantChecks) {
				t.Fatalf("checks = %v, want %v", rep.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if got := rep.Checks[name].Status; got != want {
					t.Errorf("%s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ErrorText(t *testing.T) {
	t.Parallel()
	_, rep := probe(t, New([]Checker{{Name: "database", Check: failWith("connection refused")}}), "/readyz")
	if got := rep.Checks["database"].Error; got != "connection refused" {
		t.Errorf("error = %q", got)
	}
}

func TestCheck_Timeout(t *testing.T) {
	t.Parallel()
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	h := New([]Checker{{Name: "database", Check: slow}}, WithCheckTimeout(20*time.Millisecond))

	start := time.Now()
	rep := h.Check(context.Background())
	if time.Since(start) > 2*time.Second {
		t.Error("check timeout not applied")
	}
	if rep.Status != StatusFail {
		t.Errorf("status = %q, want fail", rep.Status)
	}
	if got := rep.Checks["database"].Error; got != context.DeadlineExceeded.Error() {
		t.Errorf("error = %q", got)
	}
}

func TestCheck_CancelledRequest(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := New([]Checker{{Name: "database", Check: func(ctx context.Context) error { return ctx.Err() }}})
	if rep := h.Check(ctx); rep.Status != StatusFail {
		t.Errorf("status = %q, want fail", rep.Status)
	}
}

func TestReadyz_Draining(t *testing.T) {
	t.Parallel()
	var calls int
	h := New([]Checker{{Name: "database", Check: func(context.Context) error {
		calls++
		return nil
	}}})

	h.SetDraining(true)
	code, rep := probe(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || rep.Status != StatusDraining {
		t.Errorf("draining readyz = %d %q", code, rep.Status)
	}
	if calls != 0 {
		t.Error("checkers ran while draining")
	}

	h.SetDraining(false)
	if code, _ := probe(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("readyz after drain cleared = %d, want 200", code)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestCheck_RunsConcurrently(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	check := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New([]Checker{{Name: "a", Check: check}, {Name: "b", Check: check}})

	done := make(chan Report)
	go func() { done <- h.Check(context.Background()) }()

	<-started
	<-started
	close(release)
	if rep := <-done; rep.Status != StatusOK {
		t.Errorf("status = %q, want ok", rep.Status)
	}
}
