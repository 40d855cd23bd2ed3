package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kinoteka/kinoteka/internal/audit"
	"github.com/kinoteka/kinoteka/internal/authz"
	"github.com/kinoteka/kinoteka/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

type stubAuditRBAC struct {
	perms []string
}

func (s stubAuditRBAC) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return s.perms, nil
}

func newAuditHandler(service *stubTimelineService, perms []string) *Handler {
	handler := NewHandler(nil, service, stubAuditRBAC{perms: perms})
	handler.now = func() time.Time { return time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC) }
	return handler
}

func withActor(req *http.Request, id int64) *http.Request {
	actor := shared.Actor{Principal: authz.Principal{ID: id, Active: true, Role: &authz.Role{ID: 2, Name: "admin", Hierarchy: 80}}}
	return req.WithContext(shared.ContextWithActor(req.Context(), actor))
}

func TestTimelineRequiresActor(t *testing.T) {
	handler := newAuditHandler(&stubTimelineService{}, []string{shared.PermAuditView})
	rr := httptest.NewRecorder()
	handler.handleTimeline(rr, httptest.NewRequest(http.MethodGet, "/admin/audit", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestTimelineRequiresPermission(t *testing.T) {
	handler := newAuditHandler(&stubTimelineService{}, []string{shared.PermUsersView})
	rr := httptest.NewRecorder()
	handler.handleTimeline(rr, withActor(httptest.NewRequest(http.MethodGet, "/admin/audit", nil), 1))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestTimelineReturnsRows(t *testing.T) {
	rows := []audit.TimelineRow{{ID: 1, At: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), ActorID: 1, Action: "bulk_ban", Outcome: "approved"}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	handler := newAuditHandler(service, []string{shared.PermAuditView})

	req := withActor(httptest.NewRequest(http.MethodGet, "/admin/audit?actor_id=1&outcome=approved&page=2", nil), 1)
	rr := httptest.NewRecorder()
	handler.handleTimeline(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "bulk_ban") {
		t.Fatalf("expected row in body, got %s", rr.Body.String())
	}
	f := service.lastFilters
	if f.ActorID != 1 || f.Outcome != "approved" || f.Page != 2 {
		t.Fatalf("unexpected filters: %+v", f)
	}
	if !f.From.Equal(time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)) || !f.To.Equal(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected default range: %s - %s", f.From, f.To)
	}
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	handler := newAuditHandler(&stubTimelineService{}, []string{shared.PermAuditView})
	cases := map[string]string{
		"/admin/audit?from=2026-03-10&to=2026-03-01": "range",
		"/admin/audit?from=2025-01-01&to=2026-03-01": "range",
		"/admin/audit?outcome=maybe":                 "outcome",
		"/admin/audit?page=0":                        "page",
		"/admin/audit?to=yesterday":                  "to",
	}
	for url, field := range cases {
		rr := httptest.NewRecorder()
		handler.handleTimeline(rr, withActor(httptest.NewRequest(http.MethodGet, url, nil), 1))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422, got %d", url, rr.Code)
		}
		var body struct {
			Errors map[string][]string `json:"errors"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if _, ok := body.Errors[field]; !ok {
			t.Fatalf("%s: expected error on %s, got %v", url, field, body.Errors)
		}
	}
}

func TestExportWritesCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.TimelineRow{{ID: 4, At: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), ActorID: 1, Action: "role_delete", Outcome: "denied", Reason: "role is in use"}}}
	handler := newAuditHandler(service, []string{shared.PermAuditView})

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, withActor(r, 1))
		})
	})
	handler.MountRoutes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "role_delete,denied") {
		t.Fatalf("expected csv row, got %s", rr.Body.String())
	}
}

func TestExportIsRateLimitedPerActor(t *testing.T) {
	handler := newAuditHandler(&stubTimelineService{}, []string{shared.PermAuditView})
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, withActor(r, 42))
		})
	})
	handler.MountRoutes(router)

	var last *httptest.ResponseRecorder
	for i := 0; i < exportLimit+1; i++ {
		last = httptest.NewRecorder()
		router.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d exports, got %d", exportLimit, last.Code)
	}
	if last.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", last.Header().Get("Retry-After"))
	}
}
