package usagelog

// Type classifies a log record.
type Type int

const (
	TypeUnknown Type = iota // matches every type when used as a filter
	TypeTopup
	TypeConsume
	TypeManage
	TypeSystem
)

// String returns the display label of the log type.
func (t Type) String() string {
	switch t {
	case TypeTopup:
		return "topup"
	case TypeConsume:
		return "consume"
	case TypeManage:
		return "manage"
	case TypeSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Record is a single usage or audit log entry as stored and served.
type Record struct {
	ID               int64  `json:"id"`
	UserID           int64  `json:"user_id"`
	CreatedAt        int64  `json:"created_at"`
	Type             Type   `json:"type"`
	Content          string `json:"content"`
	Username         string `json:"username"`
	TokenName        string `json:"token_name"`
	ModelName        string `json:"model_name"`
	Quota            int64  `json:"quota"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	Channel          int64  `json:"channel"`
	Duration         int64  `json:"duration"`
	Deleted          bool   `json:"deleted"`
}

// Stat holds aggregate consumption for a set of log records.
type Stat struct {
	Quota int64 `json:"quota"`
	Token int64 `json:"token"`
}

// Query defines the filters and offset pagination for listing records.
// Zero values mean "no filter" for every field.
type Query struct {
	UserID    int64
	Type      Type
	Username  string
	TokenName string
	ModelName string
	Channel   int64
	Start     int64
	End       int64
	Offset    int
	Limit     int
}
