package live

import (
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"meridian/internal/rpc"
)

// WatchRequest filters a WatchRuns stream. Empty fields match everything.
type WatchRequest struct {
	Symbol   string `json:"symbol,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	// SkipSnapshot suppresses the retained events sent on connect.
	SkipSnapshot bool `json:"skip_snapshot,omitempty"`
}

func (w WatchRequest) matches(ev RunEvent) bool {
	if w.Symbol != "" && !strings.EqualFold(w.Symbol, ev.Symbol) {
		return false
	}
	return w.Strategy == "" || w.Strategy == ev.Strategy
}

// Server implements the WatchRuns gRPC endpoint.
type Server struct {
	model *Model
	log   *slog.Logger
}

var _ rpc.RunStreamServer = (*Server)(nil)

// NewServer creates a gRPC server backed by the given Model.
func NewServer(model *Model, log *slog.Logger) *Server {
	return &Server{model: model, log: log}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	rpc.RegisterRunStreamServer(gs, s)
}

// WatchRuns sends a snapshot of recent runs, then streams new runs as they
// finish. The stream ends when the client disconnects.
func (s *Server) WatchRuns(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var req WatchRequest
	if err := rpc.FromStruct(in, &req); err != nil {
		return err
	}

	send := func(ev RunEvent) error {
		if !req.matches(ev) {
			return nil
		}
		msg, err := rpc.ToStruct(ev)
		if err != nil {
			return err
		}
		return stream.Send(msg)
	}

	// Subscribe before the snapshot so no run falls in between; the client
	// model dedups by ID.
	subID, ch := s.model.Subscribe(256)
	defer s.model.Unsubscribe(subID)

	if !req.SkipSnapshot {
		for _, ev := range s.model.Snapshot() {
			if err := send(ev); err != nil {
				return err
			}
		}
	}

	s.log.Info("grpc client subscribed", "subID", subID, "symbol", req.Symbol, "strategy", req.Strategy)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := send(ev); err != nil {
				return err
			}
		}
	}
}
