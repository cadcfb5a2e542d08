package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/logdesk/internal/console"
	"github.com/alecgard/logdesk/internal/usagelog"
)

// pagedBackend serves total records split into pages of num (or 10) rows.
type pagedBackend struct {
	mu    sync.Mutex
	total int
	err   error
	stat  usagelog.Stat
}

func (b *pagedBackend) Logs(_ context.Context, _, rawQuery string) ([]*usagelog.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	q, _ := url.ParseQuery(rawQuery)
	page, _ := strconv.Atoi(q.Get("p"))
	num := 10
	if n, err := strconv.Atoi(q.Get("num")); err == nil {
		num = n
	}

	var recs []*usagelog.Record
	for i := page * num; i < b.total && i < (page+1)*num; i++ {
		recs = append(recs, &usagelog.Record{
			ID:        int64(b.total - i),
			Type:      usagelog.TypeConsume,
			Username:  "alice",
			ModelName: "gpt-4o",
			Quota:     500000,
		})
	}
	return recs, nil
}

func (b *pagedBackend) Stat(context.Context, string, string) (*usagelog.Stat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	st := b.stat
	return &st, nil
}

func (b *pagedBackend) fail(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

func newBrowseTable(b *pagedBackend, rep *errorReporter) *console.Table {
	return console.NewTable(b, console.Options{
		Role:     console.RoleAdmin,
		PageSize: 10,
		Location: time.UTC,
		Now:      func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) },
		Notify:   rep.notify,
	})
}

func TestBrowse_Paging(t *testing.T) {
	var out bytes.Buffer
	rep := &errorReporter{out: &out}
	table := newBrowseTable(&pagedBackend{total: 15}, rep)

	in := strings.NewReader("n\nn\np\nq\n")
	if err := browse(context.Background(), table, rep, in, &out, false); err != nil {
		t.Fatalf("browse() error: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"page 1 of 2",
		"page 2 of 2",
		"error: page out of range: 3",
		"Channel",
		"$1.000000",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "> ") {
		t.Error("non-interactive browse should not print prompts")
	}
	if table.ActivePage() != 1 {
		t.Errorf("expected to end on page 1, got %d", table.ActivePage())
	}
}

func TestBrowse_BackendFailureReportedOnce(t *testing.T) {
	var out bytes.Buffer
	rep := &errorReporter{out: &out}
	backend := &pagedBackend{total: 3}
	table := newBrowseTable(backend, rep)

	in := &scriptedReader{lines: []string{"r", "q"}, before: map[int]func(){
		0: func() { backend.fail(errors.New("service unavailable")) },
	}}
	if err := browse(context.Background(), table, rep, in, &out, false); err != nil {
		t.Fatalf("browse() error: %v", err)
	}

	if n := strings.Count(out.String(), "service unavailable"); n != 1 {
		t.Errorf("expected the failure once, got %d times:\n%s", n, out.String())
	}
	if len(table.Rows()) != 3 {
		t.Errorf("failed refresh should keep cached rows, got %d", len(table.Rows()))
	}
}

func TestBrowse_FiltersStatAndExport(t *testing.T) {
	var out bytes.Buffer
	rep := &errorReporter{out: &out}
	table := newBrowseTable(&pagedBackend{total: 2, stat: usagelog.Stat{Quota: 1000000, Token: 42}}, rep)

	exportPath := filepath.Join(t.TempDir(), "out.csv")
	script := strings.Join([]string{
		"f model_name=gpt-4o",
		"f nonsense=1",
		"f missing-equals",
		"filters",
		"t",
		"e " + exportPath,
		"bogus",
		"q",
	}, "\n")

	if err := browse(context.Background(), table, rep, strings.NewReader(script), &out, false); err != nil {
		t.Fatalf("browse() error: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		`model_name = "gpt-4o"`,
		"unknown filter field",
		"want FIELD=VALUE",
		"quota:  $2.00",
		"tokens: 42",
		"exported 2 records to " + exportPath,
		`unknown command "bogus"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	if !strings.HasPrefix(string(data), "\uFEFFChannel,User,") {
		t.Errorf("unexpected export header %q", strings.SplitN(string(data), "\r\n", 2)[0])
	}
}

func TestRenderRows_AlignsColumns(t *testing.T) {
	cols := []console.Column{{Title: "Model", Field: "model_name"}, {Title: "Quota", Field: "quota"}}
	rows := []console.Row{
		console.NewRow(&usagelog.Record{ModelName: "gpt-4o", Quota: 250000}, time.UTC),
		console.Row{},
	}

	var buf bytes.Buffer
	if err := renderRows(&buf, cols, rows); err != nil {
		t.Fatalf("renderRows() error: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], "gpt-4o  $0.500000") {
		t.Errorf("unexpected row %q", lines[1])
	}
	if strings.TrimSpace(lines[2]) != "" {
		t.Errorf("placeholder row should render blank, got %q", lines[2])
	}
}

// scriptedReader yields one line per Read call and runs hooks before
// handing out a given line, so tests can change backend state between
// commands.
type scriptedReader struct {
	lines  []string
	before map[int]func()
	next   int
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if r.next >= len(r.lines) {
		return 0, io.EOF
	}
	if fn := r.before[r.next]; fn != nil {
		fn()
	}
	n := copy(p, r.lines[r.next]+"\n")
	r.next++
	return n, nil
}
