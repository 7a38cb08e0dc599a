package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/docrune/internal/config"
	"github.com/arkilian/docrune/internal/query/executor"
	"github.com/arkilian/docrune/pkg/types"
)

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeHTTP
	cfg.DataDir = dir
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.GRPC.Enabled = false
	cfg.Logging.Level = "error"
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	return a
}

func post(t *testing.T, a *App, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(fmt.Sprintf("http://%s%s", a.HTTPAddr(), path), "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func insertFood(t *testing.T, a *App, id, group string) {
	t.Helper()
	resp := post(t, a, "/v1/docs", map[string]interface{}{"id": id, "foodGroup": group, "version": 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func countGroup(t *testing.T, a *App, group string) int {
	t.Helper()
	pk := types.String(group)
	result, err := a.Executor().Execute(context.Background(), executor.Query{
		SQL:          "SELECT * FROM c",
		PartitionKey: &pk,
	})
	require.NoError(t, err)
	docs, err := result.Collect()
	require.NoError(t, err)
	return len(docs)
}

func TestApp_RecoversFromJournal(t *testing.T) {
	dir := t.TempDir()

	a := startApp(t, testConfig(t, dir))
	insertFood(t, a, "1", "Dairy")
	insertFood(t, a, "2", "Dairy")
	insertFood(t, a, "3", "Snacks")
	require.NoError(t, a.Stop(context.Background()))

	b := startApp(t, testConfig(t, dir))
	defer b.Stop(context.Background())

	assert.EqualValues(t, 3, b.Store().Count())
	assert.Equal(t, 2, countGroup(t, b, "Dairy"))
}

func TestApp_RestoresSnapshotThenJournal(t *testing.T) {
	dir := t.TempDir()

	a := startApp(t, testConfig(t, dir))
	insertFood(t, a, "1", "Dairy")
	insertFood(t, a, "2", "Dairy")
	resp := post(t, a, "/v1/snapshots", map[string]interface{}{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	insertFood(t, a, "3", "Dairy")
	require.NoError(t, a.Stop(context.Background()))

	b := startApp(t, testConfig(t, dir))
	defer b.Stop(context.Background())

	assert.EqualValues(t, 3, b.Store().Count())
	assert.Equal(t, 3, countGroup(t, b, "Dairy"))
}

func TestApp_CreatedIndexSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	a := startApp(t, testConfig(t, dir))
	resp := post(t, a, "/v1/indexes", map[string]interface{}{"path": "/nutrients/calories"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, a.Stop(context.Background()))

	b := startApp(t, testConfig(t, dir))
	defer b.Stop(context.Background())

	var paths []string
	for _, info := range b.indexes.Indexes() {
		paths = append(paths, info.Path)
	}
	assert.Contains(t, paths, "nutrients.calories")
}

func TestApp_RejectsPartitionKeyChange(t *testing.T) {
	dir := t.TempDir()

	a := startApp(t, testConfig(t, dir))
	require.NoError(t, a.Stop(context.Background()))

	cfg := testConfig(t, dir)
	cfg.Container.PartitionKeyPath = "/manufacturerName"
	b, err := New(cfg)
	require.NoError(t, err)
	err = b.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/foodGroup")
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Container.PartitionKeyPath = "foodGroup"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestPricingFrom(t *testing.T) {
	p := pricingFrom(config.CostConfig{})
	assert.Equal(t, 2.0, p.QueryBase)

	p = pricingFrom(config.CostConfig{QueryBase: 3, PerDocumentRead: 1})
	assert.Equal(t, 3.0, p.QueryBase)
	assert.Zero(t, p.PerKB)
}
