package grpc

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/logger"
	"github.com/arkilian/docrune/internal/query/executor"
	"github.com/arkilian/docrune/internal/store"
	"github.com/arkilian/docrune/pkg/types"
)

// Executor runs queries.
type Executor interface {
	Execute(ctx context.Context, q executor.Query) (*executor.QueryResult, error)
}

// DocumentStore is the document store behind the point operations.
type DocumentStore interface {
	Upsert(ctx context.Context, doc types.Document) (*store.ItemResponse, error)
	Delete(ctx context.Context, pk types.Value, id string) (*store.ItemResponse, error)
	ReadItem(ctx context.Context, pk types.Value, id string) (*store.ItemResponse, error)
}

// Options tune the service.
type Options struct {
	QueryTimeout         time.Duration
	MaxItemCount         int
	MaxPageSize          int
	PopulateIndexMetrics bool
}

// DocumentServer implements DocumentServiceServer.
type DocumentServer struct {
	exec  Executor
	store DocumentStore
	opts  Options
}

// NewDocumentServer creates a gRPC document server.
func NewDocumentServer(exec Executor, st DocumentStore, opts Options) *DocumentServer {
	if opts.MaxItemCount <= 0 {
		opts.MaxItemCount = 100
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 1000
	}
	opts.MaxPageSize = max(opts.MaxPageSize, opts.MaxItemCount)
	return &DocumentServer{exec: exec, store: st, opts: opts}
}

// NewServer builds a grpc.Server with the document service and the
// request id, logging and recovery interceptors installed.
func NewServer(srv DocumentServiceServer, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(requestInterceptor(logger.OrNop(log))))
	s := grpc.NewServer(opts...)
	RegisterDocumentServiceServer(s, srv)
	return s
}

// Query expects {sql, partition_key?, parameters?, max_item_count?,
// continuation?} and returns {documents, count, request_charge,
// continuation?, index_metrics?}.
func (s *DocumentServer) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	sql := fields["sql"].GetStringValue()
	if sql == "" {
		return nil, status.Error(codes.InvalidArgument, "sql is required")
	}

	q := executor.Query{SQL: sql, PageSize: s.opts.MaxItemCount}
	if v, ok := fields["partition_key"]; ok {
		pk, err := types.FromAny(v.AsInterface())
		if err != nil || !pk.IsScalar() {
			return nil, status.Error(codes.InvalidArgument, "partition_key must be a scalar")
		}
		q.PartitionKey = &pk
	}
	if p := fields["parameters"].GetStructValue(); p != nil {
		q.Parameters = make(map[string]types.Value, len(p.GetFields()))
		for name, v := range p.GetFields() {
			val, err := types.FromAny(v.AsInterface())
			if err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "parameter %s: %v", name, err)
			}
			if len(name) > 0 && name[0] == '@' {
				name = name[1:]
			}
			q.Parameters[name] = val
		}
	}
	if n := fields["max_item_count"].GetNumberValue(); n > float64(s.opts.MaxPageSize) {
		return nil, status.Errorf(codes.InvalidArgument, "max_item_count %.0f exceeds the limit of %d", n, s.opts.MaxPageSize)
	} else if n >= 1 {
		q.PageSize = int(n)
	}
	cont := fields["continuation"].GetNumberValue()
	if cont < 0 || cont > math.MaxInt32 {
		return nil, status.Error(codes.InvalidArgument, "invalid continuation")
	}
	offset := int(cont)

	if s.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.QueryTimeout)
		defer cancel()
	}
	result, err := s.exec.Execute(ctx, q)
	if err != nil {
		return nil, toStatus(err)
	}
	defer result.Close()

	docs, more, err := result.Window(offset, q.PageSize)
	if err != nil {
		return nil, toStatus(err)
	}

	list := make([]interface{}, len(docs))
	for i, d := range docs {
		list[i] = d.ToMap()
	}
	out := map[string]interface{}{
		"documents":      list,
		"count":          len(docs),
		"request_charge": result.RequestCharge(),
	}
	if more {
		out["continuation"] = offset + len(docs)
	}
	if s.opts.PopulateIndexMetrics {
		out["index_metrics"] = result.IndexMetrics().String()
	}
	return newStruct(out)
}

// Upsert expects {document} and returns {id, partition_key, request_charge}.
func (s *DocumentServer) Upsert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw := req.GetFields()["document"].GetStructValue()
	if raw == nil {
		return nil, status.Error(codes.InvalidArgument, "document is required")
	}
	doc, err := types.DocumentFromMap(raw.AsMap())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid document: %v", err)
	}
	resp, err := s.store.Upsert(ctx, doc)
	if err != nil {
		return nil, toStatus(err)
	}
	return itemStruct(resp, false)
}

// Read expects {partition_key, id} and returns {document, id,
// partition_key, request_charge}.
func (s *DocumentServer) Read(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pk, id, err := pointKey(req)
	if err != nil {
		return nil, err
	}
	resp, err := s.store.ReadItem(ctx, pk, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return itemStruct(resp, true)
}

// Delete expects {partition_key, id} and returns {id, partition_key,
// request_charge}.
func (s *DocumentServer) Delete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pk, id, err := pointKey(req)
	if err != nil {
		return nil, err
	}
	resp, err := s.store.Delete(ctx, pk, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return itemStruct(resp, false)
}

func pointKey(req *structpb.Struct) (types.Value, string, error) {
	fields := req.GetFields()
	id := fields["id"].GetStringValue()
	if id == "" {
		return types.Value{}, "", status.Error(codes.InvalidArgument, "id is required")
	}
	v, ok := fields["partition_key"]
	if !ok {
		return types.Value{}, "", status.Error(codes.InvalidArgument, "partition_key is required")
	}
	pk, err := types.FromAny(v.AsInterface())
	if err != nil || !pk.IsScalar() {
		return types.Value{}, "", status.Error(codes.InvalidArgument, "partition_key must be a scalar")
	}
	return pk, id, nil
}

func itemStruct(resp *store.ItemResponse, withDoc bool) (*structpb.Struct, error) {
	out := map[string]interface{}{
		"id":             resp.Key.ID,
		"partition_key":  resp.PartitionKey.ToAny(),
		"request_charge": resp.RequestCharge,
	}
	if withDoc {
		out["document"] = resp.Document.ToMap()
	}
	return newStruct(out)
}

func newStruct(m map[string]interface{}) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// toStatus maps store and query errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case stderrors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errors.CodeDuplicateKey:
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.CodeInvalidQuery, errors.CodeInvalidDocument,
		errors.CodeInvalidPartitionKey, errors.CodeSchemaViolation:
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.CodeCancelled:
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.IsRetryable(err) {
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// requestInterceptor tags each call with a request id, puts a logger on the
// context and turns panics into Internal errors.
func requestInterceptor(base *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		requestID := extractRequestID(ctx)
		log := base.With(zap.String("request_id", requestID), zap.String("method", info.FullMethod))
		ctx = logger.ContextWithLogger(ctx, log)
		_ = grpc.SetHeader(ctx, metadata.Pairs("x-request-id", requestID))

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panic", zap.Any("panic", r))
				err = status.Error(codes.Internal, fmt.Sprintf("internal error: %v", r))
			}
			if err != nil && status.Code(err) == codes.Internal {
				log.Error("call failed", zap.Error(err))
			}
			log.Debug("call", zap.Duration("elapsed", time.Since(start)), zap.Stringer("code", status.Code(err)))
		}()
		return handler(ctx, req)
	}
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}
