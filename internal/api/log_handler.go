package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alecgard/logdesk/internal/auth"
	"github.com/alecgard/logdesk/internal/metrics"
	"github.com/alecgard/logdesk/internal/usagelog"
)

// LogStore is the storage the log handlers read from and purge.
type LogStore interface {
	List(ctx context.Context, q usagelog.Query) ([]*usagelog.Record, error)
	Stat(ctx context.Context, q usagelog.Query) (*usagelog.Stat, error)
	Search(ctx context.Context, keyword string, userID int64, limit int) ([]*usagelog.Record, error)
	DeleteBefore(ctx context.Context, ts int64) (int64, error)
}

// Recorder accepts new log records for asynchronous persistence.
type Recorder interface {
	Add(rec usagelog.Record)
}

// logHandler groups the log listing, stat, search, purge and ingest handlers.
type logHandler struct {
	store       LogStore
	recorder    Recorder
	metrics     *metrics.Metrics
	pageSize    int
	searchLimit int
	now         func() time.Time
}

func newLogHandler(store LogStore, recorder Recorder, m *metrics.Metrics, pageSize, searchLimit int) *logHandler {
	if pageSize <= 0 {
		pageSize = usagelog.DefaultLimit
	}
	if searchLimit <= 0 {
		searchLimit = 100
	}
	return &logHandler{
		store:       store,
		recorder:    recorder,
		metrics:     m,
		pageSize:    pageSize,
		searchLimit: searchLimit,
		now:         time.Now,
	}
}

// queryInt64 parses an integer query parameter. Missing or malformed values
// yield 0, which the store treats as "no filter".
func queryInt64(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}

// buildLogQuery translates the request's filter and paging parameters into a
// store query. Username and channel are only honoured for admins; self
// queries are pinned to the caller.
func (h *logHandler) buildLogQuery(r *http.Request, self bool) usagelog.Query {
	params := r.URL.Query()

	page, _ := strconv.Atoi(params.Get("p"))
	if page < 0 {
		page = 0
	}
	num := h.pageSize
	if s := params.Get("num"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			num = n
		}
	}

	q := usagelog.Query{
		Type:      usagelog.Type(queryInt64(r, "type")),
		TokenName: params.Get("token_name"),
		ModelName: params.Get("model_name"),
		Start:     queryInt64(r, "start_timestamp"),
		End:       queryInt64(r, "end_timestamp"),
		Offset:    page * num,
		Limit:     num,
	}

	if self {
		if u := auth.UserFromContext(r.Context()); u != nil {
			q.UserID = u.ID
		}
	} else {
		q.Username = params.Get("username")
		q.Channel = queryInt64(r, "channel")
	}
	return q
}

// ListLogs handles GET /api/log/ (admin).
func (h *logHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

// ListSelfLogs handles GET /api/log/self/.
func (h *logHandler) ListSelfLogs(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

func (h *logHandler) list(w http.ResponseWriter, r *http.Request, self bool) {
	recs, err := h.store.List(r.Context(), h.buildLogQuery(r, self))
	if err != nil {
		h.backendFailure(w, r, "list", err)
		return
	}
	h.served(recs, self)
	writeOK(w, recs)
}

// Stat handles GET /api/log/stat (admin).
func (h *logHandler) Stat(w http.ResponseWriter, r *http.Request) {
	h.stat(w, r, h.buildLogQuery(r, false))
}

// SelfStat handles GET /api/log/self/stat. The sum is scoped to the caller's
// username rather than the user id.
func (h *logHandler) SelfStat(w http.ResponseWriter, r *http.Request) {
	q := h.buildLogQuery(r, false)
	q.Username = ""
	if u := auth.UserFromContext(r.Context()); u != nil {
		q.Username = u.Username
	}
	h.stat(w, r, q)
}

func (h *logHandler) stat(w http.ResponseWriter, r *http.Request, q usagelog.Query) {
	q.Offset, q.Limit = 0, 0
	st, err := h.store.Stat(r.Context(), q)
	if err != nil {
		h.backendFailure(w, r, "stat", err)
		return
	}
	writeOK(w, st)
}

// SearchLogs handles GET /api/log/search?keyword= (admin).
func (h *logHandler) SearchLogs(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, false)
}

// SearchSelfLogs handles GET /api/log/self/search?keyword=.
func (h *logHandler) SearchSelfLogs(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, true)
}

func (h *logHandler) search(w http.ResponseWriter, r *http.Request, self bool) {
	var userID int64
	if self {
		u := auth.UserFromContext(r.Context())
		if u == nil {
			writeFail(w, http.StatusUnauthorized, "authentication required")
			return
		}
		userID = u.ID
	}

	recs, err := h.store.Search(r.Context(), r.URL.Query().Get("keyword"), userID, h.searchLimit)
	if err != nil {
		h.backendFailure(w, r, "search", err)
		return
	}
	h.served(recs, self)
	writeOK(w, recs)
}

// DeleteHistory handles DELETE /api/log/?target_timestamp= (admin). The reply
// data is the number of deleted records.
func (h *logHandler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	target := queryInt64(r, "target_timestamp")
	if target == 0 {
		writeFail(w, http.StatusOK, "target timestamp is required")
		return
	}

	n, err := h.store.DeleteBefore(r.Context(), target)
	h.metrics.ObservePurge(n, err)
	if err != nil {
		h.backendFailure(w, r, "delete", err)
		return
	}

	auditLog(r, "logs.purge", "target_timestamp", target, "deleted", n)
	writeOK(w, n)
}

// ingestRequest is the body of POST /api/log/.
type ingestRequest struct {
	UserID           int64         `json:"user_id"`
	CreatedAt        int64         `json:"created_at"`
	Type             usagelog.Type `json:"type"`
	Content          string        `json:"content"`
	Username         string        `json:"username"`
	TokenName        string        `json:"token_name"`
	ModelName        string        `json:"model_name"`
	Quota            int64         `json:"quota"`
	PromptTokens     int64         `json:"prompt_tokens"`
	CompletionTokens int64         `json:"completion_tokens"`
	Channel          int64         `json:"channel"`
	Duration         int64         `json:"duration"`
}

// RecordLog handles POST /api/log/ (admin). The record is queued on the
// collector and persisted with the next batch.
func (h *logHandler) RecordLog(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := readJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Type < usagelog.TypeTopup || req.Type > usagelog.TypeSystem {
		writeFail(w, http.StatusBadRequest, "type must be between 1 and 4")
		return
	}
	if req.Username == "" {
		writeFail(w, http.StatusBadRequest, "username is required")
		return
	}
	if req.CreatedAt == 0 {
		req.CreatedAt = h.now().Unix()
	}

	h.recorder.Add(usagelog.Record{
		UserID:           req.UserID,
		CreatedAt:        req.CreatedAt,
		Type:             req.Type,
		Content:          req.Content,
		Username:         req.Username,
		TokenName:        req.TokenName,
		ModelName:        req.ModelName,
		Quota:            req.Quota,
		PromptTokens:     req.PromptTokens,
		CompletionTokens: req.CompletionTokens,
		Channel:          req.Channel,
		Duration:         req.Duration,
	})
	writeOK(w, nil)
}

// served records served rows and hides ids from self-scoped replies.
func (h *logHandler) served(recs []*usagelog.Record, self bool) {
	scope := "admin"
	if self {
		scope = "self"
		for _, rec := range recs {
			rec.ID = 0
		}
	}
	h.metrics.AddRowsServed(scope, len(recs))
}

// backendFailure reports a store error inside a success=false envelope with
// HTTP 200, matching how clients distinguish transport from backend errors.
func (h *logHandler) backendFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.metrics.IncQueryError(op)
	slog.Error("log query failed",
		"operation", op,
		"error", err,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeFail(w, http.StatusOK, err.Error())
}
