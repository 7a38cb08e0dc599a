// Package main implements docrune-query, a command line tool that runs SQL
// against a JSON file of documents or a running docrune server and prints
// the results with their request charge and index metrics.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/arkilian/docrune/internal/api/http"
	"github.com/arkilian/docrune/internal/index"
	"github.com/arkilian/docrune/internal/query/executor"
	"github.com/arkilian/docrune/internal/store"
	"github.com/arkilian/docrune/pkg/types"
)

var rootCmd = &cobra.Command{
	Use:           "docrune-query",
	Short:         "Run docrune SQL queries",
	SilenceUsage:  true,
	SilenceErrors: true,
}

type localFlags struct {
	docsFile     string
	pkPath       string
	partitionKey string
	indexes      []string
	noIndex      bool
	params       []string
	explain      bool
}

type remoteFlags struct {
	addr         string
	partitionKey string
	params       []string
	maxItems     int
	all          bool
	timeout      time.Duration
}

func main() {
	rootCmd.AddCommand(newRunCmd(), newRemoteCmd())
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	f := &localFlags{}
	cmd := &cobra.Command{
		Use:   "run [flags] SQL",
		Short: "Load a JSON array of documents and query it in memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(cmd.Context(), cmd.OutOrStdout(), f, args[0])
		},
	}
	cmd.Flags().StringVarP(&f.docsFile, "docs", "d", "", "JSON file holding an array of documents")
	cmd.Flags().StringVar(&f.pkPath, "partition-key-path", "/foodGroup", "Partition key path")
	cmd.Flags().StringVar(&f.partitionKey, "pk", "", "Confine the query to this partition key value")
	cmd.Flags().StringSliceVar(&f.indexes, "index", nil, "Paths to index (repeatable)")
	cmd.Flags().BoolVar(&f.noIndex, "no-index", false, "Keep no secondary indexes")
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "Parameter as name=json (repeatable)")
	cmd.Flags().BoolVar(&f.explain, "explain", false, "Print the plan instead of running the query")
	_ = cmd.MarkFlagRequired("docs")
	return cmd
}

func newRemoteCmd() *cobra.Command {
	f := &remoteFlags{}
	cmd := &cobra.Command{
		Use:   "remote [flags] SQL",
		Short: "Run a query against a docrune server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemote(cmd.Context(), cmd.OutOrStdout(), f, args[0])
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "http://localhost:8081", "Server base URL")
	cmd.Flags().StringVar(&f.partitionKey, "pk", "", "Confine the query to this partition key value")
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "Parameter as name=json (repeatable)")
	cmd.Flags().IntVar(&f.maxItems, "max-items", 0, "Page size")
	cmd.Flags().BoolVar(&f.all, "all", false, "Follow continuations until every page is read")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "Request timeout")
	return cmd
}

func runLocal(ctx context.Context, out io.Writer, f *localFlags, sql string) error {
	data, err := os.ReadFile(f.docsFile)
	if err != nil {
		return err
	}
	docs, err := types.ParseDocuments(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", f.docsFile, err)
	}

	mode := index.ModeConsistent
	if f.noIndex {
		mode = index.ModeNone
	}
	st, err := store.New(store.Options{PartitionKeyPath: f.pkPath})
	if err != nil {
		return err
	}
	ix, err := index.NewManager(mode, f.indexes, nil)
	if err != nil {
		return err
	}
	ix.Attach(st)
	st.SetIndexer(ix)

	var loadCharge float64
	for _, doc := range docs {
		resp, err := st.Upsert(ctx, doc)
		if err != nil {
			return err
		}
		loadCharge += resp.RequestCharge
	}

	exec, err := executor.New(st, ix, executor.Options{})
	if err != nil {
		return err
	}
	defer exec.Close()

	q := executor.Query{SQL: sql}
	if q.Parameters, err = parseParams(f.params); err != nil {
		return err
	}
	if f.partitionKey != "" {
		pk := httpapi.ParsePartitionKey(f.partitionKey)
		q.PartitionKey = &pk
	}

	if f.explain {
		plan, err := exec.Explain(ctx, q)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, plan.String())
		return nil
	}

	result, err := exec.Execute(ctx, q)
	if err != nil {
		return err
	}
	defer result.Close()
	results, err := result.Collect()
	if err != nil {
		return err
	}

	if err := printDocuments(out, results); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nLoaded %d documents (%.2f RU)\n", len(docs), loadCharge)
	fmt.Fprintf(out, "Returned %d documents, request charge %.2f RU\n\n", len(results), result.RequestCharge())
	fmt.Fprint(out, result.IndexMetrics().String())
	return nil
}

func runRemote(ctx context.Context, out io.Writer, f *remoteFlags, sql string) error {
	params, err := parseParams(f.params)
	if err != nil {
		return err
	}
	req := httpapi.QueryRequest{SQL: sql, MaxItemCount: f.maxItems}
	if len(params) > 0 {
		req.Parameters = make(map[string]types.Value, len(params))
		for k, v := range params {
			req.Parameters["@"+k] = v
		}
	}
	if f.partitionKey != "" {
		pk := httpapi.ParsePartitionKey(f.partitionKey)
		req.PartitionKey = &pk
	}

	client := &http.Client{Timeout: f.timeout}
	var total float64
	var docs []types.Document
	var report string
	for {
		page, err := postQuery(ctx, client, strings.TrimRight(f.addr, "/")+"/v1/query", req)
		if err != nil {
			return err
		}
		docs = append(docs, page.Documents...)
		total += page.RequestCharge
		if page.IndexMetricsReport != "" {
			report = page.IndexMetricsReport
		}
		if !f.all || page.Continuation == "" {
			break
		}
		req.Continuation = page.Continuation
	}

	if err := printDocuments(out, docs); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nReturned %d documents, request charge %.2f RU\n\n", len(docs), total)
	fmt.Fprint(out, report)
	return nil
}

func postQuery(ctx context.Context, client *http.Client, url string, q httpapi.QueryRequest) (*httpapi.QueryResponse, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("query failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var page httpapi.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &page, nil
}

// parseParams turns name=json pairs into parameters keyed without the @.
// A value that is not valid JSON is taken as a string.
func parseParams(raw []string) (map[string]types.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]types.Value, len(raw))
	for _, p := range raw {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, want name=value", p)
		}
		name = strings.TrimPrefix(name, "@")
		var v types.Value
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = types.String(value)
		}
		params[name] = v
	}
	return params, nil
}

func printDocuments(out io.Writer, docs []types.Document) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(docs)
}
