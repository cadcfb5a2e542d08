package usagelog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultLimit is used by List when the query carries no limit.
const DefaultLimit = 10

// Store provides database operations for usage logs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const recordColumns = `id, user_id, created_at, type, content, username, token_name,
	model_name, quota, prompt_tokens, completion_tokens, channel_id, duration, deleted`

// BatchInsert writes a slice of records in a single multi-row INSERT
// statement. It is a no-op when recs is empty.
func (s *Store) BatchInsert(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	const cols = 12 // columns per row, id and deleted are server-side
	args := make([]any, 0, len(recs)*cols)
	rows := make([]string, 0, len(recs))

	for i, r := range recs {
		base := i * cols
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = "$" + strconv.Itoa(base+j+1)
		}
		rows = append(rows, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			r.UserID,
			r.CreatedAt,
			int(r.Type),
			r.Content,
			r.Username,
			r.TokenName,
			r.ModelName,
			r.Quota,
			r.PromptTokens,
			r.CompletionTokens,
			r.Channel,
			r.Duration,
		)
	}

	query := `INSERT INTO logs
		(user_id, created_at, type, content, username, token_name, model_name,
		 quota, prompt_tokens, completion_tokens, channel_id, duration)
		VALUES ` + strings.Join(rows, ", ")

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch inserting logs: %w", err)
	}
	return nil
}

// List returns records matching q ordered by id DESC with offset pagination.
func (s *Store) List(ctx context.Context, q Query) ([]*Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where, args := buildWhereClause(q)
	args = append(args, limit, offset)
	query := `SELECT ` + recordColumns + ` FROM logs` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return s.queryRecords(ctx, query, args...)
}

// Stat sums quota and tokens over consumption logs matching q. The type filter
// of q is ignored: only consumption carries billable usage.
func (s *Store) Stat(ctx context.Context, q Query) (*Stat, error) {
	q.Type = TypeConsume
	where, args := buildWhereClause(q)

	query := `SELECT
		COALESCE(SUM(quota), 0),
		COALESCE(SUM(prompt_tokens), 0) + COALESCE(SUM(completion_tokens), 0)
	FROM logs` + where

	var st Stat
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&st.Quota, &st.Token); err != nil {
		return nil, fmt.Errorf("querying log stat: %w", err)
	}
	return &st, nil
}

// Search returns the most recent records whose type equals keyword or whose
// content starts with it. A non-zero userID restricts the search to that user
// and matches on type only.
func (s *Store) Search(ctx context.Context, keyword string, userID int64, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	logType, _ := strconv.Atoi(keyword)

	var query string
	var args []any
	if userID != 0 {
		query = `SELECT ` + recordColumns + ` FROM logs
			WHERE user_id = $1 AND type = $2 ORDER BY id DESC LIMIT $3`
		args = []any{userID, logType, limit}
	} else {
		query = `SELECT ` + recordColumns + ` FROM logs
			WHERE type = $1 OR content LIKE $2 ORDER BY id DESC LIMIT $3`
		args = []any{logType, keyword + "%", limit}
	}
	return s.queryRecords(ctx, query, args...)
}

// DeleteBefore removes every record created before ts and returns the number
// of rows deleted.
func (s *Store) DeleteBefore(ctx context.Context, ts int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM logs WHERE created_at < $1`, ts)
	if err != nil {
		return 0, fmt.Errorf("deleting logs before %d: %w", ts, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}
	defer rows.Close()

	recs := make([]*Record, 0)
	for rows.Next() {
		var r Record
		var logType int
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.CreatedAt, &logType, &r.Content, &r.Username,
			&r.TokenName, &r.ModelName, &r.Quota, &r.PromptTokens,
			&r.CompletionTokens, &r.Channel, &r.Duration, &r.Deleted,
		); err != nil {
			return nil, fmt.Errorf("scanning log row: %w", err)
		}
		r.Type = Type(logType)
		recs = append(recs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating log rows: %w", err)
	}
	return recs, nil
}

// buildWhereClause constructs a WHERE clause and positional arguments from a
// Query. The returned string starts with " WHERE" or is empty. Soft-deleted
// rows are still returned; clients decide how to render them.
func buildWhereClause(q Query) (string, []any) {
	var conditions []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if q.UserID != 0 {
		add("user_id = $%d", q.UserID)
	}
	if q.Type != TypeUnknown {
		add("type = $%d", int(q.Type))
	}
	if q.ModelName != "" {
		add("model_name = $%d", q.ModelName)
	}
	if q.Username != "" {
		add("username = $%d", q.Username)
	}
	if q.TokenName != "" {
		add("token_name = $%d", q.TokenName)
	}
	if q.Start != 0 {
		add("created_at >= $%d", q.Start)
	}
	if q.End != 0 {
		add("created_at <= $%d", q.End)
	}
	if q.Channel != 0 {
		add("channel_id = $%d", q.Channel)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
