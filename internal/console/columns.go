package console

// Column describes one table column: its header and the record field it shows.
type Column struct {
	Title string
	Field string
	Width int
}

var adminColumns = []Column{
	{Title: "Channel", Field: "channel", Width: 1},
	{Title: "User", Field: "username", Width: 1},
	{Title: "Detail", Field: "content", Width: 4},
	{Title: "Type", Field: "type", Width: 1},
}

var defaultColumns = []Column{
	{Title: "Key", Field: "token_name", Width: 1},
	{Title: "Model", Field: "model_name", Width: 2},
	{Title: "Prompt", Field: "prompt_tokens", Width: 1},
	{Title: "Completion", Field: "completion_tokens", Width: 1},
	{Title: "Quota", Field: "quota", Width: 1},
	{Title: "Time", Field: "created_at", Width: 3},
}

// Columns returns the column set for a role. Admins see the admin columns
// followed by the default ones.
func Columns(role Role) []Column {
	cols := make([]Column, 0, len(adminColumns)+len(defaultColumns))
	if role == RoleAdmin {
		cols = append(cols, adminColumns...)
	}
	return append(cols, defaultColumns...)
}
