package console

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alecgard/logdesk/internal/usagelog"
)

// Row is one entry of the page cache: a fetched record plus its creation
// time rendered in the console's location. A nil Log marks a placeholder
// standing in for a position that was never fetched.
type Row struct {
	Log       *usagelog.Record
	CreatedAt string
}

// NewRow wraps a record and formats its creation time.
func NewRow(rec *usagelog.Record, loc *time.Location) Row {
	if rec == nil {
		return Row{}
	}
	return Row{Log: rec, CreatedAt: FormatTimestamp(rec.CreatedAt, loc)}
}

// Placeholder reports whether the row fills a gap left by an out-of-order merge.
func (r Row) Placeholder() bool {
	return r.Log == nil
}

// Blank reports whether the row renders with no cell content: placeholders
// and soft-deleted records keep their slot but show nothing.
func (r Row) Blank() bool {
	return r.Log == nil || r.Log.Deleted
}

// Value returns the raw field value used for sorting and export: a string,
// an int64 or a bool. Unknown fields and placeholders yield nil.
func (r Row) Value(field string) any {
	if r.Log == nil {
		return nil
	}
	l := r.Log
	switch field {
	case "id":
		return l.ID
	case "user_id":
		return l.UserID
	case "created_at":
		return r.CreatedAt
	case "type":
		return int64(l.Type)
	case "content":
		return l.Content
	case "username":
		return l.Username
	case "token_name":
		return l.TokenName
	case "model_name":
		return l.ModelName
	case "quota":
		return l.Quota
	case "prompt_tokens":
		return l.PromptTokens
	case "completion_tokens":
		return l.CompletionTokens
	case "channel":
		return l.Channel
	case "duration":
		return l.Duration
	case "deleted":
		return l.Deleted
	}
	return nil
}

// Text renders the raw field value as it appears in exports.
func (r Row) Text(field string) string {
	v := r.Value(field)
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// PageCache is the ordered sequence of rows fetched so far. It is not safe
// for concurrent use; Table serializes access.
type PageCache struct {
	rows     []Row
	pageSize int
}

// NewPageCache creates an empty cache. Non-positive sizes fall back to 10.
func NewPageCache(pageSize int) *PageCache {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &PageCache{pageSize: pageSize}
}

func (c *PageCache) PageSize() int { return c.pageSize }

func (c *PageCache) Len() int { return len(c.rows) }

// Rows returns a copy of the sequence.
func (c *PageCache) Rows() []Row {
	return append([]Row(nil), c.rows...)
}

func (c *PageCache) Reset() {
	c.rows = nil
}

// Merge splices a fetched page into the sequence. Page 0 replaces everything.
// Any other page overwrites the positions starting at pageIndex*pageSize and
// leaves the rest alone, growing the sequence with placeholders when the
// offset lies past its end.
func (c *PageCache) Merge(pageIndex int, rows []Row) {
	if pageIndex <= 0 {
		c.rows = append([]Row(nil), rows...)
		return
	}
	start := pageIndex * c.pageSize
	end := start + len(rows)
	if end > len(c.rows) {
		grown := make([]Row, end)
		copy(grown, c.rows)
		c.rows = grown
	}
	copy(c.rows[start:end], rows)
}

// SortBy orders the whole sequence by field. String fields sort ascending,
// everything else descending; placeholders always sort last. Sorting again
// by a field whose result leaves the same record on top reverses the order,
// so repeated sorts toggle.
func (c *PageCache) SortBy(field string) {
	if len(c.rows) == 0 {
		return
	}
	top := c.rows[0].Log

	var first Row
	for _, r := range c.rows {
		if !r.Placeholder() {
			first = r
			break
		}
	}
	_, byString := first.Value(field).(string)

	sort.SliceStable(c.rows, func(i, j int) bool {
		ri, rj := c.rows[i], c.rows[j]
		if ri.Placeholder() || rj.Placeholder() {
			return !ri.Placeholder() && rj.Placeholder()
		}
		if byString {
			return strings.Compare(stringValue(ri.Value(field)), stringValue(rj.Value(field))) < 0
		}
		a, aok := numericValue(ri.Value(field))
		b, bok := numericValue(rj.Value(field))
		if aok != bok {
			return aok
		}
		return aok && a > b
	})

	if top != nil && c.rows[0].Log == top {
		for i, j := 0, len(c.rows)-1; i < j; i, j = i+1, j-1 {
			c.rows[i], c.rows[j] = c.rows[j], c.rows[i]
		}
	}
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
