package live

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"meridian/internal/rpc"
)

// Client connects to a run stream gRPC server and populates a local Model,
// providing an automatic mirror of the server-side model.
type Client struct {
	addr  string
	model *Model
	log   *slog.Logger
	opts  []grpc.DialOption
}

// NewClient creates a client targeting the given gRPC address. Extra dial
// options are appended to the insecure transport default.
func NewClient(addr string, model *Model, log *slog.Logger, opts ...grpc.DialOption) *Client {
	return &Client{addr: addr, model: model, log: log, opts: opts}
}

// Sync connects to the gRPC server and streams runs matching req into the
// local model. It blocks until ctx is cancelled or the stream ends.
func (c *Client) Sync(ctx context.Context, req WatchRequest) error {
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, c.opts...)
	conn, err := grpc.NewClient(c.addr, opts...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	in, err := rpc.ToStruct(req)
	if err != nil {
		return err
	}
	stream, err := rpc.NewRunStreamClient(conn).WatchRuns(ctx, in)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}

	c.log.Info("connected to run stream", "addr", c.addr)

	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving run: %w", err)
		}

		var ev RunEvent
		if err := rpc.FromStruct(msg, &ev); err != nil {
			c.log.Warn("skipping malformed run event", "error", err)
			continue
		}
		c.model.Add(ev)
	}
}
