package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/arkilian/docrune/internal/cost"
	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/query/executor"
	"github.com/arkilian/docrune/pkg/types"
)

// QueryRequest represents a query request.
type QueryRequest struct {
	SQL string `json:"sql"`
	// PartitionKey confines the query to one logical partition.
	PartitionKey *types.Value `json:"partition_key,omitempty"`
	// Parameters bind @name parameters, keyed with or without the @.
	Parameters map[string]types.Value `json:"parameters,omitempty"`
	// MaxItemCount is the page size.
	MaxItemCount int `json:"max_item_count,omitempty"`
	// Continuation resumes a paged read where the previous page ended.
	Continuation         string `json:"continuation,omitempty"`
	PopulateIndexMetrics *bool  `json:"populate_index_metrics,omitempty"`
}

// QueryResponse represents one page of query results.
type QueryResponse struct {
	Documents          []types.Document   `json:"documents"`
	Count              int                `json:"count"`
	RequestCharge      float64            `json:"request_charge"`
	Continuation       string             `json:"continuation,omitempty"`
	IndexMetrics       *cost.IndexMetrics `json:"index_metrics,omitempty"`
	IndexMetricsReport string             `json:"index_metrics_report,omitempty"`
	RequestID          string             `json:"request_id"`
}

// ExplainResponse describes a query plan without running it.
type ExplainResponse struct {
	Plan         string             `json:"plan"`
	Kind         string             `json:"kind"`
	Scope        string             `json:"scope"`
	Partitions   int                `json:"partitions"`
	IndexMetrics *cost.IndexMetrics `json:"index_metrics,omitempty"`
	RequestID    string             `json:"request_id"`
}

// QueryHandler handles POST /v1/query requests.
type QueryHandler struct {
	executor Executor
	opts     Options
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(exec Executor, opts Options) *QueryHandler {
	return &QueryHandler{executor: exec, opts: opts}
}

// ServeHTTP runs the query and returns one page of results. A page that is
// not the last carries a continuation token; sending it back re-runs the
// query and returns the next page.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	req, q, ok := h.decode(w, r)
	if !ok {
		return
	}
	offset, err := decodeContinuation(req.Continuation)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), errors.CodeInvalidQuery, requestID)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	result, err := h.executor.Execute(ctx, q)
	if err != nil {
		writeDocError(w, r, err)
		return
	}
	defer result.Close()

	docs, more, err := result.Window(offset, q.PageSize)
	if err != nil {
		writeDocError(w, r, err)
		return
	}

	resp := QueryResponse{
		Documents:     docs,
		Count:         len(docs),
		RequestCharge: result.RequestCharge(),
		RequestID:     requestID,
	}
	if more {
		resp.Continuation = encodeContinuation(offset + len(docs))
	}
	populate := h.opts.PopulateIndexMetrics
	if req.PopulateIndexMetrics != nil {
		populate = *req.PopulateIndexMetrics
	}
	if populate {
		m := result.IndexMetrics()
		resp.IndexMetrics = m
		resp.IndexMetricsReport = m.String()
	}

	w.Header().Set("X-Request-Charge", strconv.FormatFloat(resp.RequestCharge, 'f', 2, 64))
	writeJSON(w, http.StatusOK, resp)
}

// Explain handles POST /v1/query/explain.
func (h *QueryHandler) Explain(w http.ResponseWriter, r *http.Request) {
	_, q, ok := h.decode(w, r)
	if !ok {
		return
	}
	plan, err := h.executor.Explain(r.Context(), q)
	if err != nil {
		writeDocError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExplainResponse{
		Plan:         plan.String(),
		Kind:         plan.Kind(),
		Scope:        plan.ScopeLabel(),
		Partitions:   plan.PartitionCount(),
		IndexMetrics: plan.Metrics,
		RequestID:    GetRequestID(r.Context()),
	})
}

func (h *QueryHandler) decode(w http.ResponseWriter, r *http.Request) (QueryRequest, executor.Query, bool) {
	requestID := GetRequestID(r.Context())

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
		return req, executor.Query{}, false
	}
	if req.SQL == "" {
		writeError(w, http.StatusBadRequest, "sql is required", errors.CodeInvalidQuery, requestID)
		return req, executor.Query{}, false
	}

	params := make(map[string]types.Value, len(req.Parameters))
	for name, v := range req.Parameters {
		if len(name) > 0 && name[0] == '@' {
			name = name[1:]
		}
		params[name] = v
	}
	if req.MaxItemCount > h.opts.MaxPageSize {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("max_item_count %d exceeds the limit of %d", req.MaxItemCount, h.opts.MaxPageSize),
			errors.CodeInvalidQuery, requestID)
		return req, executor.Query{}, false
	}
	pageSize := req.MaxItemCount
	if pageSize <= 0 {
		pageSize = h.opts.MaxItemCount
	}
	return req, executor.Query{
		SQL:          req.SQL,
		PartitionKey: req.PartitionKey,
		Parameters:   params,
		PageSize:     pageSize,
	}, true
}

func (h *QueryHandler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.opts.QueryTimeout > 0 {
		return context.WithTimeout(ctx, h.opts.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

func encodeContinuation(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeContinuation(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("invalid continuation token")
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid continuation token")
	}
	return offset, nil
}
