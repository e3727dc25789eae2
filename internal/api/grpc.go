package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"meridian/internal/domain"
	"meridian/internal/engine"
	"meridian/internal/rpc"
)

// BacktesterService implements the meridian.v1.Backtester gRPC service on
// top of an Engine.
type BacktesterService struct {
	engine *engine.Engine
}

var _ rpc.BacktesterServer = (*BacktesterService)(nil)

// NewBacktesterService creates a BacktesterService backed by eng.
func NewBacktesterService(eng *engine.Engine) *BacktesterService {
	return &BacktesterService{engine: eng}
}

// RunBacktest runs and records one backtest. The input is a BacktestRequest.
func (s *BacktesterService) RunBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req BacktestRequest
	if err := rpc.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	ereq, err := req.toEngine()
	if err != nil {
		return nil, grpcError(err)
	}
	run, err := s.engine.RunBacktest(ctx, ereq)
	if err != nil {
		return nil, grpcError(err)
	}
	return encode(run)
}

// GetRun returns a stored run. The input is a GetRunRequest.
func (s *BacktesterService) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req GetRunRequest
	if err := rpc.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	run, err := s.engine.GetRun(ctx, req.ID)
	if err != nil {
		return nil, grpcError(err)
	}
	return encode(run)
}

// ListRuns lists stored runs. The input is a ListRunsRequest.
func (s *BacktesterService) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListRunsRequest
	if err := rpc.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	runs, err := s.engine.ListRuns(ctx, req.filter())
	if err != nil {
		return nil, grpcError(err)
	}
	if runs == nil {
		runs = []domain.BacktestRun{}
	}
	return encode(RunsResponse{Runs: runs})
}

// ListComponents lists the registered strategies and policies.
func (s *BacktesterService) ListComponents(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(ComponentsResponse{Strategies: s.engine.Strategies(), Policies: s.engine.Policies()})
}

func encode(v any) (*structpb.Struct, error) {
	out, err := rpc.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// grpcError maps domain errors to gRPC status codes.
func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInput),
		errors.Is(err, domain.ErrConfig),
		errors.Is(err, domain.ErrUnsupportedSignal):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
