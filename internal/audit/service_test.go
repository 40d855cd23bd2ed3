package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kinoteka/kinoteka/internal/authz"
)

type stubTimelineRepo struct {
	rows       []TimelineRow
	lastLimit  int
	lastOffset int
	lastFilter TimelineFilters
}

func (s *stubTimelineRepo) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	s.lastFilter = filters
	s.lastLimit = limit
	s.lastOffset = offset
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

func (s *stubTimelineRepo) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	s.lastFilter = filters
	return s.rows, nil
}

func mockRow(id int64, at string, action, outcome string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{ID: id, At: ts, ActorID: 7, Action: action, Outcome: outcome, TargetType: "user", TargetID: "12"}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{
		mockRow(3, "2026-03-10T10:00:00Z", "bulk_delete", "approved"),
		mockRow(2, "2026-03-09T09:00:00Z", "user_role_change", "denied"),
		mockRow(1, "2026-03-08T08:00:00Z", "role_create", "approved"),
	}}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("expected next page 2, got %+v", result.Paging)
	}
	if repo.lastLimit != 3 || repo.lastOffset != 0 {
		t.Fatalf("expected limit 3 offset 0, got %d %d", repo.lastLimit, repo.lastOffset)
	}

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 1 || result.Paging.HasNext || result.Paging.PrevPage != 1 {
		t.Fatalf("unexpected second page: %+v", result)
	}
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if result.Paging.PageSize != maxPageSize || repo.lastLimit != maxPageSize+1 {
		t.Fatalf("expected clamped page size, got %d (limit %d)", result.Paging.PageSize, repo.lastLimit)
	}
	if result.Paging.Page != 1 {
		t.Fatalf("expected default page 1, got %d", result.Paging.Page)
	}
	if result.Rows == nil {
		t.Fatalf("expected empty slice, got nil")
	}

	if _, err := svc.Timeline(context.Background(), TimelineFilters{}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastLimit != defaultPageSize+1 {
		t.Fatalf("expected default limit, got %d", repo.lastLimit)
	}
}

func TestServiceWithoutRepository(t *testing.T) {
	svc := NewService(nil)
	if _, err := svc.Timeline(context.Background(), TimelineFilters{}); err == nil {
		t.Fatalf("expected error without repository")
	}
	if _, err := svc.Export(context.Background(), TimelineFilters{}); err == nil {
		t.Fatalf("expected error without repository")
	}
}

func TestWriteCSV(t *testing.T) {
	row := mockRow(9, "2026-03-10T10:00:00Z", "user_role_change", "approved")
	row.OldValues = map[string]any{"role_id": 3}
	row.NewValues = map[string]any{"role_id": 4}
	row.Reason = "promotion, overdue"

	var buf bytes.Buffer
	if err := WriteCSV(&buf, []TimelineRow{row}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header and one row, got %d", len(records))
	}
	got := records[1]
	if got[0] != "9" || got[1] != "2026-03-10T10:00:00Z" || got[7] != "promotion, overdue" {
		t.Fatalf("unexpected record: %v", got)
	}
	if got[8] != `{"role_id":3}` || got[9] != `{"role_id":4}` {
		t.Fatalf("unexpected values: %v", got[8:])
	}
}

type recordingRecorder struct {
	facts []authz.Fact
	err   error
}

func (r *recordingRecorder) Record(ctx context.Context, fact authz.Fact) error {
	r.facts = append(r.facts, fact)
	return r.err
}

type countingObserver map[string]int

func (c countingObserver) ObserveDecision(action, outcome string) {
	c[action+"/"+outcome]++
}

func TestSinkEmitRecordsAndCounts(t *testing.T) {
	rec := &recordingRecorder{}
	obs := countingObserver{}
	var logs bytes.Buffer
	sink := NewSink(rec, slog.New(slog.NewTextHandler(&logs, nil)), obs)

	denial := authz.Deny(authz.KindAuthorization, "", authz.ReasonCannotManage)
	sink.Emit(context.Background(), authz.Denied("user_role_change", 5, authz.UserRef{ID: 9}, denial))

	if len(rec.facts) != 1 || rec.facts[0].Outcome != authz.OutcomeDenied {
		t.Fatalf("expected denied fact recorded, got %+v", rec.facts)
	}
	if obs["user_role_change/denied"] != 1 {
		t.Fatalf("expected decision counted, got %v", obs)
	}
	if !strings.Contains(logs.String(), "level=INFO msg=\"admin action denied\"") {
		t.Fatalf("expected denial logged at info, got %s", logs.String())
	}
}

func TestSinkSwallowsRecorderFailure(t *testing.T) {
	rec := &recordingRecorder{err: errors.New("db down")}
	var logs bytes.Buffer
	sink := NewSink(rec, slog.New(slog.NewTextHandler(&logs, nil)), nil)

	sink.Emit(context.Background(), authz.Approved("role_create", 1, authz.RoleRef{ID: 2}, nil, map[string]any{"name": "curator"}))

	if !strings.Contains(logs.String(), "audit record failed") {
		t.Fatalf("expected failure to be logged, got %s", logs.String())
	}
}

func TestNilSinkIsNoop(t *testing.T) {
	var sink *Sink
	sink.Emit(context.Background(), authz.Fact{Action: "x"})
	NewSink(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), nil).Emit(context.Background(), authz.Fact{Action: "x"})
}
