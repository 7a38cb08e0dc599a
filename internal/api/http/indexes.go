package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/cost"
	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/logger"
	"github.com/arkilian/docrune/internal/observability"
	"github.com/arkilian/docrune/pkg/types"
)

// IndexRequest names an index path.
type IndexRequest struct {
	Path string `json:"path"`
}

// Recommendation is a path that queries used without an index.
type Recommendation struct {
	Path      string         `json:"path"`
	Spec      string         `json:"spec"`
	Frequency int64          `json:"frequency"`
	Unindexed int64          `json:"unindexed"`
	Operators map[string]int `json:"operators"`
}

// IndexHandler serves the index endpoints.
type IndexHandler struct {
	indexes IndexAdmin
	catalog IndexCatalog
	stats   *observability.QueryStats
}

// NewIndexHandler creates an index handler. catalog and stats may be nil.
func NewIndexHandler(indexes IndexAdmin, catalog IndexCatalog, stats *observability.QueryStats) *IndexHandler {
	return &IndexHandler{indexes: indexes, catalog: catalog, stats: stats}
}

// List handles GET /v1/indexes.
func (h *IndexHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"indexes":    h.indexes.Indexes(),
		"request_id": GetRequestID(r.Context()),
	})
}

// Create handles POST /v1/indexes. The index is built from the stored
// documents before the response is sent and recorded in the catalog.
func (h *IndexHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required", errors.CodeInvalidQuery, GetRequestID(r.Context()))
		return
	}
	info, err := h.indexes.CreateIndex(r.Context(), req.Path)
	if err != nil {
		writeDocError(w, r, err)
		return
	}
	if h.catalog != nil {
		if err := h.catalog.SaveIndex(r.Context(), info.Path, false); err != nil {
			writeDocError(w, r, err)
			return
		}
	}
	if h.stats != nil {
		h.stats.Forget(info.Path)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"index":      info,
		"request_id": GetRequestID(r.Context()),
	})
}

// Drop handles DELETE /v1/indexes?path=<path>.
func (h *IndexHandler) Drop(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "path is required", errors.CodeInvalidQuery, GetRequestID(r.Context()))
		return
	}
	path, err := types.ParsePath(raw)
	if err != nil {
		writeDocError(w, r, errors.InvalidQuery("invalid index path %q: %v", raw, err))
		return
	}
	if err := h.indexes.DropIndex(raw); err != nil {
		writeDocError(w, r, err)
		return
	}
	if h.catalog != nil {
		err := h.catalog.DeleteIndex(r.Context(), path.String())
		if err != nil && errors.GetCode(err) != errors.CodeIndexNotFound {
			logger.FromContext(r.Context()).Warn("index dropped but catalog not updated",
				zap.String("path", path.String()), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Recommendations handles GET /v1/indexes/recommendations?limit=&min=.
func (h *IndexHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	limit, minUnindexed := 10, int64(1)
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", s), "", GetRequestID(r.Context()))
			return
		}
		limit = n
	}
	if s := r.URL.Query().Get("min"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid min %q", s), "", GetRequestID(r.Context()))
			return
		}
		minUnindexed = n
	}

	recs := []Recommendation{}
	if h.stats != nil {
		for _, s := range h.stats.Recommendations(limit, minUnindexed) {
			spec := s.Path
			if p, err := types.ParsePath(s.Path); err == nil {
				spec = cost.SingleIndexSpec(p)
			}
			recs = append(recs, Recommendation{
				Path:      s.Path,
				Spec:      spec,
				Frequency: s.Frequency,
				Unindexed: s.Unindexed,
				Operators: s.Operators,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recommendations": recs,
		"request_id":      GetRequestID(r.Context()),
	})
}
