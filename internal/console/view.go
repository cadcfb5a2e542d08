package console

import "strconv"

// TotalPages is the page count offered by the pagination control. When the
// fetched rows fill their last page exactly, one extra page is offered so the
// user can request more; a partial last page means the backend is exhausted.
func TotalPages(length, pageSize int) int {
	n := ceilDiv(length, pageSize)
	if length%pageSize == 0 {
		n++
	}
	return n
}

// VisibleRows returns the slice of rows shown for a 1-based page, clipped to
// the sequence.
func VisibleRows(rows []Row, activePage, pageSize int) []Row {
	if activePage < 1 {
		return nil
	}
	start := (activePage - 1) * pageSize
	if start >= len(rows) {
		return nil
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return append([]Row(nil), rows[start:end]...)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// QuotaPerUnit is the number of quota points worth one currency unit.
const QuotaPerUnit = 500000

// Display renders a cell for on-screen tables: type as its label, quota as
// currency. Blank rows render empty.
func (r Row) Display(field string) string {
	if r.Blank() {
		return ""
	}
	switch field {
	case "type":
		return r.Log.Type.String()
	case "quota":
		return RenderQuota(r.Log.Quota, 6)
	}
	return r.Text(field)
}

// RenderQuota formats quota points as a dollar amount.
func RenderQuota(quota int64, digits int) string {
	return "$" + strconv.FormatFloat(float64(quota)/QuotaPerUnit, 'f', digits, 64)
}
