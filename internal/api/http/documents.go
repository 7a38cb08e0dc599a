package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/store"
	"github.com/arkilian/docrune/pkg/types"
)

// DocumentResponse is the outcome of a single-document operation.
type DocumentResponse struct {
	Document      types.Document `json:"document,omitempty"`
	ID            string         `json:"id"`
	PartitionKey  types.Value    `json:"partition_key"`
	RequestCharge float64        `json:"request_charge"`
	RequestID     string         `json:"request_id"`
}

// DocumentHandler serves the point operations.
type DocumentHandler struct {
	store DocumentStore
}

// NewDocumentHandler creates a document handler.
func NewDocumentHandler(s DocumentStore) *DocumentHandler {
	return &DocumentHandler{store: s}
}

// Create handles POST /v1/docs. It fails with 409 when the document exists.
func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	doc, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	resp, err := h.store.Insert(r.Context(), doc)
	if err != nil {
		writeDocError(w, r, err)
		return
	}
	writeItem(w, r, http.StatusCreated, resp)
}

// Upsert handles PUT /v1/partitions/{pk}/docs/{id}. The id is filled in
// when the body has none; a body naming another id or partition key is
// rejected.
func (h *DocumentHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	pk, id := routeKey(r)
	doc, ok := decodeDocument(w, r)
	if !ok {
		return
	}

	if existing, has := doc.ID(); !has {
		doc["id"] = types.String(id)
	} else if existing != id {
		writeDocError(w, r, errors.NewValidationError(errors.CodeInvalidDocument,
			fmt.Sprintf("document id %q does not match %q", existing, id)))
		return
	}
	docPK, err := h.store.PartitionKeyOf(doc)
	if err != nil {
		writeDocError(w, r, err)
		return
	}
	if !types.Equal(docPK, pk) {
		writeDocError(w, r, errors.NewValidationError(errors.CodeInvalidPartitionKey,
			fmt.Sprintf("document partition key %s does not match %s", docPK, pk)))
		return
	}

	resp, err := h.store.Upsert(r.Context(), doc)
	if err != nil {
		writeDocError(w, r, err)
		return
	}
	writeItem(w, r, http.StatusOK, resp)
}

// Read handles GET /v1/partitions/{pk}/docs/{id}.
func (h *DocumentHandler) Read(w http.ResponseWriter, r *http.Request) {
	pk, id := routeKey(r)
	resp, err := h.store.ReadItem(r.Context(), pk, id)
	if err != nil {
		writeDocError(w, r, err)
		return
	}
	writeItem(w, r, http.StatusOK, resp)
}

// Delete handles DELETE /v1/partitions/{pk}/docs/{id}.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	pk, id := routeKey(r)
	resp, err := h.store.Delete(r.Context(), pk, id)
	if err != nil {
		writeDocError(w, r, err)
		return
	}
	resp.Document = nil
	writeItem(w, r, http.StatusOK, resp)
}

func decodeDocument(w http.ResponseWriter, r *http.Request) (types.Document, bool) {
	var doc types.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid document: %v", err),
			errors.CodeInvalidDocument, GetRequestID(r.Context()))
		return nil, false
	}
	if doc == nil {
		writeError(w, http.StatusBadRequest, "document must be a JSON object",
			errors.CodeInvalidDocument, GetRequestID(r.Context()))
		return nil, false
	}
	return doc, true
}

func writeItem(w http.ResponseWriter, r *http.Request, status int, resp *store.ItemResponse) {
	w.Header().Set("X-Request-Charge", strconv.FormatFloat(resp.RequestCharge, 'f', 2, 64))
	writeJSON(w, status, DocumentResponse{
		Document:      resp.Document,
		ID:            resp.Key.ID,
		PartitionKey:  resp.PartitionKey,
		RequestCharge: resp.RequestCharge,
		RequestID:     GetRequestID(r.Context()),
	})
}

// routeKey reads the partition key and id from the route. A partition key
// segment that parses as a JSON scalar (1, true, null, "quoted") takes that
// value; anything else is a string.
func routeKey(r *http.Request) (types.Value, string) {
	rawPK := chi.URLParam(r, "pk")
	if s, err := url.PathUnescape(rawPK); err == nil {
		rawPK = s
	}
	id := chi.URLParam(r, "id")
	if s, err := url.PathUnescape(id); err == nil {
		id = s
	}
	return ParsePartitionKey(rawPK), id
}

// ParsePartitionKey converts a textual partition key into a value.
func ParsePartitionKey(s string) types.Value {
	var v types.Value
	if err := json.Unmarshal([]byte(s), &v); err == nil && v.IsScalar() {
		return v
	}
	return types.String(s)
}
