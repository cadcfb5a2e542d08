package console

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestNewCriteriaDefaults(t *testing.T) {
	c := NewCriteria(testNow, time.UTC)

	want := map[string]string{
		FieldUsername:  "",
		FieldTokenName: "",
		FieldModelName: "",
		FieldChannel:   "",
		FieldLogType:   "0",
		FieldStart:     "1970-01-01 00:00:00",
		FieldEnd:       "2024-01-01 13:00:00",
	}
	got := c.Fields()
	if len(got) != len(want) {
		t.Fatalf("expected %d fields, got %d", len(want), len(got))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("field %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestSetField(t *testing.T) {
	c := NewCriteria(testNow, time.UTC)
	before := c.Fields()

	if err := c.SetField(FieldModelName, "gpt-4o"); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	after := c.Fields()
	for k, v := range before {
		if k == FieldModelName {
			continue
		}
		if after[k] != v {
			t.Errorf("field %s changed from %q to %q", k, v, after[k])
		}
	}
	if after[FieldModelName] != "gpt-4o" {
		t.Errorf("model_name = %q, want gpt-4o", after[FieldModelName])
	}

	err := c.SetField("quota", "1")
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestFieldsReturnsCopy(t *testing.T) {
	c := NewCriteria(testNow, time.UTC)
	f := c.Fields()
	f[FieldUsername] = "mallory"
	if c.Get(FieldUsername) != "" {
		t.Error("mutating Fields() result changed the criteria")
	}
}

func TestEnabledFields(t *testing.T) {
	has := func(fields []string, name string) bool {
		for _, f := range fields {
			if f == name {
				return true
			}
		}
		return false
	}

	self := EnabledFields(RoleSelf)
	if has(self, FieldUsername) || has(self, FieldChannel) {
		t.Errorf("self fields should not include username or channel: %v", self)
	}
	admin := EnabledFields(RoleAdmin)
	if !has(admin, FieldUsername) || !has(admin, FieldChannel) {
		t.Errorf("admin fields should include username and channel: %v", admin)
	}
	if len(admin) != 7 || len(self) != 5 {
		t.Errorf("unexpected field counts admin=%d self=%d", len(admin), len(self))
	}
}

func TestQuery(t *testing.T) {
	const end = "1704114000" // 2024-01-01 13:00:00 UTC

	tests := []struct {
		name   string
		role   Role
		page   int
		num    int
		modify func(*Criteria)
		want   string
	}{
		{
			name: "admin list",
			role: RoleAdmin,
			page: 0,
			modify: func(c *Criteria) {
				_ = c.SetField(FieldUsername, "alice")
				_ = c.SetField(FieldLogType, "2")
			},
			want: "p=0&type=2&username=alice&token_name=&model_name=&start_timestamp=0&end_timestamp=" + end + "&channel=",
		},
		{
			name: "self list omits username and channel",
			role: RoleSelf,
			page: 3,
			modify: func(c *Criteria) {
				_ = c.SetField(FieldUsername, "alice")
				_ = c.SetField(FieldChannel, "7")
			},
			want: "p=3&type=0&token_name=&model_name=&start_timestamp=0&end_timestamp=" + end,
		},
		{
			name: "admin stat omits p",
			role: RoleAdmin,
			page: -1,
			modify: func(c *Criteria) {
				_ = c.SetField(FieldChannel, "7")
			},
			want: "type=0&username=&token_name=&model_name=&start_timestamp=0&end_timestamp=" + end + "&channel=7",
		},
		{
			name: "export carries num",
			role: RoleSelf,
			page: 0,
			num:  10000,
			want: "p=0&num=10000&type=0&token_name=&model_name=&start_timestamp=0&end_timestamp=" + end,
		},
		{
			name: "unparseable timestamp sent as NaN",
			role: RoleSelf,
			page: -1,
			modify: func(c *Criteria) {
				_ = c.SetField(FieldStart, "yesterday")
			},
			want: "type=0&token_name=&model_name=&start_timestamp=NaN&end_timestamp=" + end,
		},
		{
			name: "values are escaped but not validated",
			role: RoleSelf,
			page: 0,
			modify: func(c *Criteria) {
				_ = c.SetField(FieldTokenName, "ci key&x")
				_ = c.SetField(FieldLogType, "banana")
			},
			want: "p=0&type=banana&token_name=ci+key%26x&model_name=&start_timestamp=0&end_timestamp=" + end,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCriteria(testNow, time.UTC)
			if tt.modify != nil {
				tt.modify(c)
			}
			if got := c.Query(tt.role, tt.page, tt.num); got != tt.want {
				t.Errorf("Query() =\n  %s\nwant\n  %s", got, tt.want)
			}
		})
	}
}

func TestParseLocal(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)

	tests := []struct {
		in     string
		loc    *time.Location
		want   int64
		wantOK bool
	}{
		{"1970-01-01 00:00:00", time.UTC, 0, true},
		{"1970-01-01 08:00:00", shanghai, 0, true},
		{"2024-01-01T13:00:00", time.UTC, 1704114000, true},
		{"2024-01-01T13:00", time.UTC, 1704114000, true},
		{"2024-01-01 13:00", time.UTC, 1704114000, true},
		{"2024-01-01", time.UTC, 1704067200, true},
		{" 2024-01-01 ", time.UTC, 1704067200, true},
		{"", time.UTC, 0, false},
		{"01/02/2024", time.UTC, 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseLocal(tt.in, tt.loc)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseLocal(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"admin", RoleAdmin, false},
		{"ADMIN", RoleAdmin, false},
		{"self", RoleSelf, false},
		{"", RoleSelf, false},
		{"root", RoleSelf, true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseRole(%q) = %v, %v", tt.in, got, err)
		}
	}
	if RoleAdmin.String() != "admin" || RoleSelf.String() != "self" {
		t.Error("unexpected Role.String output")
	}
}
