package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/logdesk/internal/usagelog"
)

// --- fake backend ---

type call struct {
	path  string
	query string
}

type fakeBackend struct {
	mu    sync.Mutex
	calls []call

	logs func(path, query string) ([]*usagelog.Record, error)
	stat func(path, query string) (*usagelog.Stat, error)
}

func (f *fakeBackend) Logs(ctx context.Context, path, rawQuery string) ([]*usagelog.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{path, rawQuery})
	fn := f.logs
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(path, rawQuery)
}

func (f *fakeBackend) Stat(ctx context.Context, path, rawQuery string) (*usagelog.Stat, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{path, rawQuery})
	fn := f.stat
	f.mu.Unlock()
	if fn == nil {
		return &usagelog.Stat{}, nil
	}
	return fn(path, rawQuery)
}

func (f *fakeBackend) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func records(n int, firstID int64) []*usagelog.Record {
	out := make([]*usagelog.Record, n)
	for i := range out {
		out[i] = &usagelog.Record{ID: firstID + int64(i), Username: "alice", Type: usagelog.TypeConsume}
	}
	return out
}

func newTestTable(b Backend, role Role) *Table {
	return NewTable(b, Options{
		Role:     role,
		PageSize: 10,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})
}

// --- tests ---

func TestActivateLoadsFirstPage(t *testing.T) {
	b := &fakeBackend{logs: func(path, query string) ([]*usagelog.Record, error) {
		return records(3, 1), nil
	}}
	tbl := newTestTable(b, RoleSelf)

	if err := tbl.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	calls := b.recorded()
	if len(calls) != 1 {
		t.Fatalf("expected 1 request, got %d", len(calls))
	}
	if calls[0].path != SelfLogsPath || !strings.HasPrefix(calls[0].query, "p=0&") {
		t.Errorf("unexpected request %+v", calls[0])
	}
	if tbl.ActivePage() != 1 || len(tbl.VisibleRows()) != 3 {
		t.Errorf("expected page 1 with 3 rows, got page %d with %d rows", tbl.ActivePage(), len(tbl.VisibleRows()))
	}
	if tbl.Loading() {
		t.Error("loading should be cleared after the request")
	}
}

func TestAdminPagingScenario(t *testing.T) {
	b := &fakeBackend{logs: func(path, query string) ([]*usagelog.Record, error) {
		if strings.HasPrefix(query, "p=1&") {
			return records(5, 11), nil
		}
		return records(10, 1), nil
	}}
	tbl := newTestTable(b, RoleAdmin)
	ctx := context.Background()

	if err := tbl.SetField(FieldUsername, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := tbl.SetField(FieldLogType, "2"); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	calls := b.recorded()
	if calls[0].path != AdminLogsPath || !strings.HasPrefix(calls[0].query, "p=0&type=2&username=alice&") {
		t.Fatalf("unexpected first request %+v", calls[0])
	}
	if got := tbl.TotalPages(); got != 2 {
		t.Fatalf("expected 2 pages after a full first page, got %d", got)
	}

	if err := tbl.ChangePage(ctx, 2); err != nil {
		t.Fatalf("ChangePage: %v", err)
	}
	calls = b.recorded()
	if len(calls) != 2 || !strings.HasPrefix(calls[1].query, "p=1&type=2&username=alice&") {
		t.Fatalf("expected one page-1 request, got %+v", calls)
	}
	if got := len(tbl.Rows()); got != 15 {
		t.Errorf("expected 15 cached rows, got %d", got)
	}
	if got := tbl.TotalPages(); got != 2 {
		t.Errorf("expected 2 pages after a partial page, got %d", got)
	}
	if got := ids(tbl.VisibleRows()); !equalIDs(got, []int64{11, 12, 13, 14, 15}) {
		t.Errorf("unexpected visible rows %v", got)
	}

	if err := tbl.ChangePage(ctx, 1); err != nil {
		t.Fatalf("ChangePage back: %v", err)
	}
	if err := tbl.ChangePage(ctx, 2); err != nil {
		t.Fatalf("ChangePage forward: %v", err)
	}
	if n := len(b.recorded()); n != 2 {
		t.Errorf("revisiting fetched pages should not request, got %d requests", n)
	}
}

func TestChangePageOutOfRange(t *testing.T) {
	b := &fakeBackend{logs: func(path, query string) ([]*usagelog.Record, error) {
		return records(4, 1), nil
	}}
	tbl := newTestTable(b, RoleSelf)
	if err := tbl.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, page := range []int{0, 2} {
		if err := tbl.ChangePage(context.Background(), page); !errors.Is(err, ErrPageOutOfRange) {
			t.Errorf("ChangePage(%d) error = %v, want ErrPageOutOfRange", page, err)
		}
	}
	if tbl.ActivePage() != 1 {
		t.Errorf("active page moved to %d", tbl.ActivePage())
	}
}

func TestChangePageFailedLoadStillMoves(t *testing.T) {
	backendErr := errors.New("database is locked")
	b := &fakeBackend{logs: func(path, query string) ([]*usagelog.Record, error) {
		if strings.HasPrefix(query, "p=1&") {
			return nil, backendErr
		}
		return records(10, 1), nil
	}}
	var notified []string
	tbl := NewTable(b, Options{
		PageSize: 10,
		Location: time.UTC,
		Notify:   func(msg string) { notified = append(notified, msg) },
	})
	ctx := context.Background()
	if err := tbl.Activate(ctx); err != nil {
		t.Fatal(err)
	}

	err := tbl.ChangePage(ctx, 2)
	if !errors.Is(err, backendErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if tbl.ActivePage() != 2 {
		t.Errorf("expected active page 2, got %d", tbl.ActivePage())
	}
	if len(tbl.VisibleRows()) != 0 {
		t.Error("expected empty page after failed load")
	}
	if len(notified) != 1 || notified[0] != "database is locked" {
		t.Errorf("expected backend message to be surfaced, got %v", notified)
	}
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	fail := false
	b := &fakeBackend{logs: func(path, query string) ([]*usagelog.Record, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return records(7, 1), nil
	}}
	tbl := newTestTable(b, RoleSelf)
	ctx := context.Background()
	if err := tbl.Activate(ctx); err != nil {
		t.Fatal(err)
	}

	fail = true
	if err := tbl.Refresh(ctx); err == nil {
		t.Fatal("expected refresh error")
	}
	if len(tbl.Rows()) != 7 {
		t.Errorf("cache should be untouched, got %d rows", len(tbl.Rows()))
	}
	if tbl.Loading() {
		t.Error("loading should be cleared after a failure")
	}
}

func TestRefreshStat(t *testing.T) {
	b := &fakeBackend{stat: func(path, query string) (*usagelog.Stat, error) {
		return &usagelog.Stat{Quota: 500000, Token: 1234}, nil
	}}
	tbl := newTestTable(b, RoleAdmin)

	if err := tbl.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, c := range b.recorded() {
		if c.path == AdminStatPath {
			t.Fatal("Refresh must not request the stat summary")
		}
	}

	stat, err := tbl.RefreshStat(context.Background())
	if err != nil {
		t.Fatalf("RefreshStat: %v", err)
	}
	if stat.Quota != 500000 || stat.Token != 1234 || tbl.Stat() != stat {
		t.Errorf("unexpected stat %+v", stat)
	}

	calls := b.recorded()
	last := calls[len(calls)-1]
	if last.path != AdminStatPath || !strings.HasPrefix(last.query, "type=0&username=&") {
		t.Errorf("unexpected stat request %+v", last)
	}
}

func TestRefreshStatFailureKeepsPrevious(t *testing.T) {
	fail := false
	b := &fakeBackend{stat: func(path, query string) (*usagelog.Stat, error) {
		if fail {
			return nil, errors.New("no")
		}
		return &usagelog.Stat{Quota: 1, Token: 2}, nil
	}}
	tbl := newTestTable(b, RoleSelf)
	if _, err := tbl.RefreshStat(context.Background()); err != nil {
		t.Fatal(err)
	}
	fail = true
	if _, err := tbl.RefreshStat(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if tbl.Stat() != (usagelog.Stat{Quota: 1, Token: 2}) {
		t.Errorf("stat should be unchanged, got %+v", tbl.Stat())
	}
	if b.recorded()[0].path != SelfStatPath {
		t.Errorf("expected self stat path, got %s", b.recorded()[0].path)
	}
}

func TestSortBySortsWholeCache(t *testing.T) {
	b := &fakeBackend{logs: func(path, query string) ([]*usagelog.Record, error) {
		recs := records(10, 1)
		for i, r := range recs {
			r.Quota = int64(i)
		}
		return recs, nil
	}}
	tbl := newTestTable(b, RoleSelf)
	if err := tbl.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	tbl.SortBy("quota")
	rows := tbl.VisibleRows()
	if rows[0].Log.Quota != 9 || rows[9].Log.Quota != 0 {
		t.Errorf("expected descending quota, got first=%d last=%d", rows[0].Log.Quota, rows[9].Log.Quota)
	}
	if tbl.Loading() {
		t.Error("loading should be cleared after sort")
	}
}

func TestExport(t *testing.T) {
	b := &fakeBackend{logs: func(path, query string) ([]*usagelog.Record, error) {
		return []*usagelog.Record{
			{TokenName: "ci", ModelName: "gpt-4o", PromptTokens: 1, CompletionTokens: 2, Quota: 3, CreatedAt: 0},
			{TokenName: "ci", ModelName: "gpt-4o", Deleted: true, CreatedAt: 0},
		}, nil
	}}
	tbl := newTestTable(b, RoleSelf)

	var buf bytes.Buffer
	n, err := tbl.Export(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 exported records, got %d", n)
	}

	calls := b.recorded()
	if len(calls) != 1 || calls[0].path != SelfLogsPath || !strings.HasPrefix(calls[0].query, "p=0&num=10000&type=0&") {
		t.Fatalf("unexpected export request %+v", calls)
	}

	lines := strings.Split(strings.TrimPrefix(buf.String(), "\uFEFF"), "\r\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "Key,Model,Prompt,Completion,Quota,Time" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if lines[2] != "ci,gpt-4o,0,0,0,1970-01-01 00:00:00" {
		t.Errorf("deleted rows should be exported as fetched, got %q", lines[2])
	}
	if tbl.DownloadLoading() {
		t.Error("download loading should be cleared")
	}
	if len(tbl.Rows()) != 0 {
		t.Error("export must not touch the page cache")
	}
}

func TestExportIndependentLoadingFlags(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	b := &fakeBackend{logs: func(path, query string) ([]*usagelog.Record, error) {
		if strings.Contains(query, "num=") {
			close(entered)
			<-release
		}
		return records(1, 1), nil
	}}
	tbl := newTestTable(b, RoleSelf)

	done := make(chan error, 1)
	go func() {
		_, err := tbl.Export(context.Background(), &bytes.Buffer{})
		done <- err
	}()

	<-entered
	if !tbl.DownloadLoading() {
		t.Error("expected download loading during export")
	}
	if tbl.Loading() {
		t.Error("table loading must stay independent of export")
	}
	if err := tbl.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh during export: %v", err)
	}
	if !tbl.DownloadLoading() {
		t.Error("refresh must not clear download loading")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Export: %v", err)
	}
	if tbl.DownloadLoading() {
		t.Error("download loading should be cleared")
	}
}

func TestLastResponseWins(t *testing.T) {
	slowEntered := make(chan struct{})
	releaseSlow := make(chan struct{})
	b := &fakeBackend{logs: func(path, query string) ([]*usagelog.Record, error) {
		if strings.Contains(query, "model_name=old") {
			close(slowEntered)
			<-releaseSlow
			return records(2, 100), nil
		}
		return records(3, 1), nil
	}}
	tbl := newTestTable(b, RoleSelf)
	ctx := context.Background()

	if err := tbl.SetField(FieldModelName, "old"); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- tbl.Refresh(ctx) }()
	<-slowEntered

	if err := tbl.SetField(FieldModelName, "new"); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if got := ids(tbl.Rows()); !equalIDs(got, []int64{1, 2, 3}) {
		t.Fatalf("expected fresh rows, got %v", got)
	}

	close(releaseSlow)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := ids(tbl.Rows()); !equalIDs(got, []int64{100, 101}) {
		t.Errorf("expected the late stale response to win, got %v", got)
	}
}

func TestTableDefaults(t *testing.T) {
	tbl := NewTable(&fakeBackend{}, Options{Role: RoleAdmin})
	if tbl.TotalPages() != 1 || tbl.ActivePage() != 1 {
		t.Errorf("expected 1 page, active 1; got %d, %d", tbl.TotalPages(), tbl.ActivePage())
	}
	if len(tbl.Columns()) != 10 {
		t.Errorf("expected admin columns, got %d", len(tbl.Columns()))
	}
	if tbl.Criteria().Get(FieldLogType) != "0" {
		t.Error("expected default log type 0")
	}
}
