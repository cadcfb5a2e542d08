package console

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Role selects endpoints, editable filters and visible columns.
type Role int

const (
	RoleSelf Role = iota
	RoleAdmin
)

// ParseRole converts "admin" or "self" to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "self", "":
		return RoleSelf, nil
	}
	return RoleSelf, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "self"
}

// Filter field names.
const (
	FieldUsername  = "username"
	FieldTokenName = "token_name"
	FieldModelName = "model_name"
	FieldChannel   = "channel"
	FieldLogType   = "log_type"
	FieldStart     = "start_timestamp"
	FieldEnd       = "end_timestamp"
)

// DisplayLayout is the local date-time format used for editing filter
// timestamps and for rendering record creation times.
const DisplayLayout = "2006-01-02 15:04:05"

// ErrUnknownField is returned by SetField for names outside the filter set.
var ErrUnknownField = errors.New("unknown filter field")

var allFields = []string{
	FieldTokenName, FieldModelName, FieldLogType, FieldStart, FieldEnd,
	FieldChannel, FieldUsername,
}

// EnabledFields lists the filter fields the role may edit, in form order.
func EnabledFields(role Role) []string {
	if role == RoleAdmin {
		return append([]string(nil), allFields...)
	}
	return append([]string(nil), allFields[:5]...)
}

// Criteria is the editable filter state. Values are stored exactly as typed
// and are not validated; malformed input reaches the backend unchanged.
type Criteria struct {
	values map[string]string
	loc    *time.Location
}

// NewCriteria returns the default filter: every log type, from the epoch to
// one hour past now, so records stamped by a slightly fast server clock still
// match.
func NewCriteria(now time.Time, loc *time.Location) *Criteria {
	if loc == nil {
		loc = time.Local
	}
	return &Criteria{
		loc: loc,
		values: map[string]string{
			FieldUsername:  "",
			FieldTokenName: "",
			FieldModelName: "",
			FieldChannel:   "",
			FieldLogType:   "0",
			FieldStart:     FormatTimestamp(0, loc),
			FieldEnd:       FormatTimestamp(now.Add(time.Hour).Unix(), loc),
		},
	}
}

// SetField replaces one field. Other fields are left untouched.
func (c *Criteria) SetField(name, value string) error {
	if _, ok := c.values[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	c.values[name] = value
	return nil
}

// Get returns the current value of a field.
func (c *Criteria) Get(name string) string {
	return c.values[name]
}

// Fields returns a copy of the field name to value mapping.
func (c *Criteria) Fields() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

func (c *Criteria) clone() *Criteria {
	return &Criteria{values: c.Fields(), loc: c.loc}
}

// Query serializes the criteria for the role's endpoint. A negative page
// omits p (stat endpoints) and a non-positive num omits num.
func (c *Criteria) Query(role Role, page, num int) string {
	var q queryBuilder
	if page >= 0 {
		q.add("p", strconv.Itoa(page))
	}
	if num > 0 {
		q.add("num", strconv.Itoa(num))
	}
	q.add("type", c.values[FieldLogType])
	if role == RoleAdmin {
		q.add("username", c.values[FieldUsername])
	}
	q.add("token_name", c.values[FieldTokenName])
	q.add("model_name", c.values[FieldModelName])
	q.add("start_timestamp", unixParam(c.values[FieldStart], c.loc))
	q.add("end_timestamp", unixParam(c.values[FieldEnd], c.loc))
	if role == RoleAdmin {
		q.add("channel", c.values[FieldChannel])
	}
	return q.String()
}

// queryBuilder keeps parameters in insertion order, unlike url.Values.
type queryBuilder struct {
	parts []string
}

func (q *queryBuilder) add(key, value string) {
	q.parts = append(q.parts, key+"="+url.QueryEscape(value))
}

func (q *queryBuilder) String() string {
	return strings.Join(q.parts, "&")
}

// inputLayouts are tried in order when converting an edited timestamp.
var inputLayouts = []string{
	DisplayLayout,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseLocal converts a local date-time string to Unix seconds.
func ParseLocal(s string, loc *time.Location) (int64, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range inputLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}

// unixParam renders a timestamp query value. Unparseable input becomes NaN
// and is sent as is.
func unixParam(s string, loc *time.Location) string {
	sec, ok := ParseLocal(s, loc)
	if !ok {
		return "NaN"
	}
	return strconv.FormatInt(sec, 10)
}

// FormatTimestamp renders Unix seconds as a local date-time string.
func FormatTimestamp(sec int64, loc *time.Location) string {
	return time.Unix(sec, 0).In(loc).Format(DisplayLayout)
}
