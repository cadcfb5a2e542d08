package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/alecgard/logdesk/internal/usagelog"
)

// ErrPageOutOfRange is returned by ChangePage for pages the pagination
// control would not offer.
var ErrPageOutOfRange = errors.New("page out of range")

// Endpoints of the log service, by role.
const (
	AdminLogsPath = "/api/log/"
	SelfLogsPath  = "/api/log/self/"
	AdminStatPath = "/api/log/stat"
	SelfStatPath  = "/api/log/self/stat"
)

// Backend performs the log service requests. path is one of the endpoint
// constants and rawQuery is already encoded.
type Backend interface {
	Logs(ctx context.Context, path, rawQuery string) ([]*usagelog.Record, error)
	Stat(ctx context.Context, path, rawQuery string) (*usagelog.Stat, error)
}

// Options configures a Table.
type Options struct {
	Role        Role
	PageSize    int
	ExportLimit int
	Location    *time.Location
	Now         func() time.Time

	// Notify receives the message of every failed request. It runs with the
	// table locked and must not call back into it.
	Notify func(msg string)
}

// Table is the log table model: filters, the page cache, pagination, sorting,
// stat summary and export. Its mutex guards state only and is never held
// across a request, so responses apply in arrival order and the last one wins.
type Table struct {
	backend     Backend
	role        Role
	exportLimit int
	loc         *time.Location
	notify      func(string)

	mu              sync.Mutex
	criteria        *Criteria
	cache           *PageCache
	activePage      int
	stat            usagelog.Stat
	loading         bool
	downloadLoading bool
}

// NewTable creates a table with default filters. Call Activate to load the
// first page.
func NewTable(backend Backend, opts Options) *Table {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ExportLimit <= 0 {
		opts.ExportLimit = 10000
	}
	return &Table{
		backend:     backend,
		role:        opts.Role,
		exportLimit: opts.ExportLimit,
		loc:         opts.Location,
		notify:      opts.Notify,
		criteria:    NewCriteria(opts.Now(), opts.Location),
		cache:       NewPageCache(opts.PageSize),
		activePage:  1,
	}
}

func (t *Table) Role() Role { return t.role }

// Columns returns the column set for the table's role.
func (t *Table) Columns() []Column { return Columns(t.role) }

// Activate clears the cache and loads the first page.
func (t *Table) Activate(ctx context.Context) error {
	t.mu.Lock()
	t.cache.Reset()
	t.mu.Unlock()
	return t.Refresh(ctx)
}

// Refresh returns to page 1 and reloads it with the current filters. The
// cache is replaced only if the request succeeds.
func (t *Table) Refresh(ctx context.Context) error {
	t.mu.Lock()
	t.loading = true
	t.activePage = 1
	t.mu.Unlock()
	return t.LoadPage(ctx, 0)
}

// LoadPage fetches the 0-based page with the current filters and splices it
// into the cache.
func (t *Table) LoadPage(ctx context.Context, pageIndex int) error {
	t.mu.Lock()
	query := t.criteria.Query(t.role, pageIndex, 0)
	t.mu.Unlock()

	recs, err := t.backend.Logs(ctx, t.logsPath(), query)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.loading = false
	if err != nil {
		t.fail(err)
		return fmt.Errorf("loading page %d: %w", pageIndex, err)
	}
	t.cache.Merge(pageIndex, t.rows(recs))
	return nil
}

// ChangePage moves to a 1-based page. Moving one past the fetched pages
// loads it first. The page changes even if that load fails.
func (t *Table) ChangePage(ctx context.Context, page int) error {
	t.mu.Lock()
	length, size := t.cache.Len(), t.cache.PageSize()
	t.mu.Unlock()

	if page < 1 || page > TotalPages(length, size) {
		return fmt.Errorf("%w: %d", ErrPageOutOfRange, page)
	}

	var err error
	if page == ceilDiv(length, size)+1 {
		err = t.LoadPage(ctx, page-1)
	}

	t.mu.Lock()
	t.activePage = page
	t.mu.Unlock()
	return err
}

// SortBy reorders every cached row by field. See PageCache.SortBy.
func (t *Table) SortBy(field string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loading = true
	t.cache.SortBy(field)
	t.loading = false
}

// RefreshStat fetches the quota and token totals for the current filters.
func (t *Table) RefreshStat(ctx context.Context) (usagelog.Stat, error) {
	t.mu.Lock()
	query := t.criteria.Query(t.role, -1, 0)
	t.mu.Unlock()

	stat, err := t.backend.Stat(ctx, t.statPath(), query)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.fail(err)
		return t.stat, fmt.Errorf("loading stat: %w", err)
	}
	t.stat = *stat
	return t.stat, nil
}

// Export fetches up to the export limit of records matching the current
// filters, starting at the first page, and writes them as CSV. It returns
// the number of records written.
func (t *Table) Export(ctx context.Context, w io.Writer) (int, error) {
	t.mu.Lock()
	t.downloadLoading = true
	query := t.criteria.Query(t.role, 0, t.exportLimit)
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.downloadLoading = false
		t.mu.Unlock()
	}()

	recs, err := t.backend.Logs(ctx, t.logsPath(), query)
	if err != nil {
		t.mu.Lock()
		t.fail(err)
		t.mu.Unlock()
		return 0, fmt.Errorf("exporting logs: %w", err)
	}

	if err := WriteCSV(w, t.Columns(), t.rows(recs)); err != nil {
		return 0, fmt.Errorf("writing export: %w", err)
	}
	return len(recs), nil
}

// SetField updates one filter value. Nothing is fetched.
func (t *Table) SetField(name, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.criteria.SetField(name, value)
}

// Fields returns a copy of the current filter values.
func (t *Table) Fields() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.criteria.Fields()
}

// Criteria returns a snapshot of the current filters.
func (t *Table) Criteria() *Criteria {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.criteria.clone()
}

// VisibleRows returns the rows of the active page.
func (t *Table) VisibleRows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return VisibleRows(t.cache.rows, t.activePage, t.cache.PageSize())
}

// Rows returns every cached row.
func (t *Table) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Rows()
}

func (t *Table) TotalPages() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TotalPages(t.cache.Len(), t.cache.PageSize())
}

func (t *Table) ActivePage() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activePage
}

// Stat returns the last fetched summary.
func (t *Table) Stat() usagelog.Stat {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stat
}

func (t *Table) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

func (t *Table) DownloadLoading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.downloadLoading
}

func (t *Table) logsPath() string {
	if t.role == RoleAdmin {
		return AdminLogsPath
	}
	return SelfLogsPath
}

func (t *Table) statPath() string {
	if t.role == RoleAdmin {
		return AdminStatPath
	}
	return SelfStatPath
}

func (t *Table) rows(recs []*usagelog.Record) []Row {
	rows := make([]Row, len(recs))
	for i, rec := range recs {
		rows[i] = NewRow(rec, t.loc)
	}
	return rows
}

// fail reports a request error. Callers hold t.mu.
func (t *Table) fail(err error) {
	if t.notify != nil {
		t.notify(err.Error())
	}
}
