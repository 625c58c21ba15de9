package remote

import (
	"context"
	"errors"
	"log"

	"github.com/openhazard/engine/internal/parallel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// #region service-desc

const (
	serviceName   = "hazard.Worker"
	methodExecute = "/hazard.Worker/Execute"
	methodPing    = "/hazard.Worker/Ping"
)

type workerServer interface {
	execute(ctx context.Context, req *TaskRequest) (*TaskResponse, error)
	ping(ctx context.Context, req *PingRequest) (*PingResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*workerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TaskRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(workerServer).execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodExecute}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(workerServer).execute(ctx, req.(*TaskRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(workerServer).ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPing}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(workerServer).ping(ctx, req.(*PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion service-desc

// #region server

// Server executes shipped tasks against a local runner. The worker daemon
// loads the same model files as the coordinator, so a task reference
// resolves to identical work on either side.
type Server struct {
	runner parallel.Runner
	levels int
	gsims  int
}

var _ workerServer = (*Server)(nil)

// NewServer wraps a runner; levels and gsims describe the loaded curve
// shape, reported on Ping.
func NewServer(runner parallel.Runner, levels, gsims int) *Server {
	return &Server{runner: runner, levels: levels, gsims: gsims}
}

// Register attaches the worker service to a gRPC server.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

func (s *Server) execute(ctx context.Context, req *TaskRequest) (*TaskResponse, error) {
	pm, err := s.runner.Run(ctx, decodeTask(req))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Errorf(codes.Internal, "task %d (%s): %v", req.Seq, req.Kind, err)
	}
	log.Printf("[WORKER] task %d (%s) done: %d curves", req.Seq, req.Kind, len(pm.Data))
	return encodeMap(pm), nil
}

func (s *Server) ping(ctx context.Context, req *PingRequest) (*PingResponse, error) {
	return &PingResponse{Levels: s.levels, Gsims: s.gsims}, nil
}

// #endregion server
