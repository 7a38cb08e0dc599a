package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/index"
	"github.com/arkilian/docrune/internal/observability"
	"github.com/arkilian/docrune/internal/query/executor"
	"github.com/arkilian/docrune/internal/store"
	"github.com/arkilian/docrune/pkg/types"
)

// observability.Register only registers once per process.
var testRegistry = func() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	observability.Register(reg)
	return reg
}()

type fakeCatalog struct {
	saved   []string
	deleted []string
}

func (c *fakeCatalog) SaveIndex(_ context.Context, path string, _ bool) error {
	c.saved = append(c.saved, path)
	return nil
}

func (c *fakeCatalog) DeleteIndex(_ context.Context, path string) error {
	c.deleted = append(c.deleted, path)
	return nil
}

type apiFixture struct {
	srv     *httptest.Server
	store   *store.Store
	catalog *fakeCatalog
	stats   *observability.QueryStats
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st, err := store.New(store.Options{PartitionKeyPath: "/foodGroup"})
	require.NoError(t, err)
	ix, err := index.NewManager(index.ModeConsistent, []string{"foodGroup", "description", "manufacturerName"}, nil)
	require.NoError(t, err)
	st.SetIndexer(ix)
	ix.Attach(st)

	stats := observability.NewQueryStats(time.Hour)
	exec, err := executor.New(st, ix, executor.Options{Concurrency: 2, Ranges: 2, Stats: stats})
	require.NoError(t, err)
	t.Cleanup(exec.Close)

	catalog := &fakeCatalog{}
	srv := httptest.NewServer(NewRouter(Deps{
		Executor: exec,
		Store:    st,
		Indexes:  ix,
		Catalog:  catalog,
		Stats:    stats,
		Gatherer: testRegistry,
		Options:  Options{MaxItemCount: 10, PopulateIndexMetrics: true, QueryTimeout: 5 * time.Second},
	}))
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, store: st, catalog: catalog, stats: stats}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *apiFixture) seed(t *testing.T, raws ...string) {
	t.Helper()
	for _, raw := range raws {
		resp := f.do(t, http.MethodPost, "/v1/docs", raw)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
}

func TestQuery_FoodExample(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t,
		`{"id": "19293", "foodGroup": "Sweets", "description": "Candy"}`,
		`{"id": "19294", "foodGroup": "Baby Foods", "description": "Puree", "manufacturerName": "Acme"}`,
	)

	resp := f.do(t, http.MethodPost, "/v1/query", QueryRequest{
		SQL: `SELECT * FROM c WHERE c.foodGroup = 'Baby Foods' AND IS_DEFINED(c.description) AND IS_DEFINED(c.manufacturerName)`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Charge"))

	body := decode[QueryResponse](t, resp)
	require.Len(t, body.Documents, 1)
	id, _ := body.Documents[0].ID()
	assert.Equal(t, "19294", id)
	assert.Greater(t, body.RequestCharge, 0.0)
	assert.Empty(t, body.Continuation)
	require.NotNil(t, body.IndexMetrics)
	assert.Len(t, body.IndexMetrics.Clauses, 3)
	assert.NotEmpty(t, body.IndexMetricsReport)
}

func TestQuery_ContinuationPaging(t *testing.T) {
	f := newAPIFixture(t)
	for _, raw := range []string{
		`{"id": "1", "foodGroup": "A", "version": 1}`,
		`{"id": "2", "foodGroup": "B", "version": 1}`,
		`{"id": "3", "foodGroup": "C", "version": 1}`,
		`{"id": "4", "foodGroup": "A", "version": 1}`,
		`{"id": "5", "foodGroup": "B", "version": 2}`,
	} {
		f.seed(t, raw)
	}

	var got []string
	req := QueryRequest{SQL: "SELECT * FROM c WHERE c.version = 1", MaxItemCount: 2}
	for page := 0; page < 5; page++ {
		body := decode[QueryResponse](t, f.do(t, http.MethodPost, "/v1/query", req))
		for _, d := range body.Documents {
			id, _ := d.ID()
			got = append(got, id)
		}
		if body.Continuation == "" {
			break
		}
		req.Continuation = body.Continuation
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, got)
}

func TestQuery_Errors(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/query", QueryRequest{SQL: "SELEC * FROM c"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errors.CodeInvalidQuery, decode[ErrorResponse](t, resp).Code)

	resp = f.do(t, http.MethodPost, "/v1/query", QueryRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/query", QueryRequest{SQL: "SELECT * FROM c", Continuation: "!!"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuery_RejectsOversizedPage(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t, `{"id": "1", "foodGroup": "Dairy"}`)

	resp := f.do(t, http.MethodPost, "/v1/query", `{"sql": "SELECT * FROM c", "max_item_count": 1099511627776}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errors.CodeInvalidQuery, decode[ErrorResponse](t, resp).Code)

	resp = f.do(t, http.MethodPost, "/v1/query", QueryRequest{SQL: "SELECT * FROM c", MaxItemCount: DefaultMaxPageSize + 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/query", QueryRequest{SQL: "SELECT * FROM c", MaxItemCount: DefaultMaxPageSize})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[QueryResponse](t, resp).Count)
}

func TestDocuments_PointOperations(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPut, "/v1/partitions/Baby%20Foods/docs/42", `{"foodGroup": "Baby Foods", "description": "Oats"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	put := decode[DocumentResponse](t, resp)
	assert.Equal(t, "42", put.ID)
	assert.Greater(t, put.RequestCharge, 0.0)

	resp = f.do(t, http.MethodGet, "/v1/partitions/Baby%20Foods/docs/42", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[DocumentResponse](t, resp)
	assert.Equal(t, "Oats", got.Document["description"].AsString())

	resp = f.do(t, http.MethodPost, "/v1/docs", `{"id": "42", "foodGroup": "Baby Foods"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, errors.CodeDuplicateKey, decode[ErrorResponse](t, resp).Code)

	resp = f.do(t, http.MethodPut, "/v1/partitions/Sweets/docs/42", `{"foodGroup": "Baby Foods"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/v1/partitions/Baby%20Foods/docs/42", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/v1/partitions/X/docs/Y", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, errors.CodeNotFound, decode[ErrorResponse](t, resp).Code)

	resp = f.do(t, http.MethodGet, "/v1/partitions/Baby%20Foods/docs/42", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocuments_NumericPartitionKey(t *testing.T) {
	st, err := store.New(store.Options{PartitionKeyPath: "/version"})
	require.NoError(t, err)
	srv := httptest.NewServer(NewRouter(Deps{Store: st}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/partitions/2/docs/a", strings.NewReader(`{"version": 2}`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = st.Get(context.Background(), types.Number(2), "a")
	assert.NoError(t, err)
}

func TestIndexes_CreateDropRecommend(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t, `{"id": "1", "foodGroup": "A", "version": 3}`)

	// an unindexed filter on version shows up as a recommendation
	resp := f.do(t, http.MethodPost, "/v1/query", QueryRequest{SQL: "SELECT * FROM c WHERE c.version = 3"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	recs := decode[struct {
		Recommendations []Recommendation `json:"recommendations"`
	}](t, f.do(t, http.MethodGet, "/v1/indexes/recommendations", nil))
	require.Len(t, recs.Recommendations, 1)
	assert.Equal(t, "version", recs.Recommendations[0].Path)

	resp = f.do(t, http.MethodPost, "/v1/indexes", IndexRequest{Path: "/version"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{"version"}, f.catalog.saved)

	resp = f.do(t, http.MethodPost, "/v1/indexes", IndexRequest{Path: "version"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	list := decode[struct {
		Indexes []index.Info `json:"indexes"`
	}](t, f.do(t, http.MethodGet, "/v1/indexes", nil))
	assert.Len(t, list.Indexes, 4)

	resp = f.do(t, http.MethodDelete, "/v1/indexes?path=/version", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"version"}, f.catalog.deleted)

	resp = f.do(t, http.MethodDelete, "/v1/indexes?path=/version", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t, `{"id": "1", "foodGroup": "A"}`)

	resp := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "docrune_request_units_total")
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))

	now = now.Add(time.Second)
	assert.True(t, rl.allow("a"))
}

func TestParsePartitionKey(t *testing.T) {
	assert.Equal(t, types.String("Baby Foods"), ParsePartitionKey("Baby Foods"))
	assert.Equal(t, types.Number(7), ParsePartitionKey("7"))
	assert.Equal(t, types.String("7"), ParsePartitionKey(`"7"`))
	assert.Equal(t, types.Bool(true), ParsePartitionKey("true"))
	assert.Equal(t, types.String("[1]"), ParsePartitionKey("[1]"))
}
