package grpc_control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
	"quote-relay/src/models"
)

const ServiceName = "quoterelay.control.v1.Control"

// IStatsSource reports the live relay state.
type IStatsSource interface {
	Stats() models.MRelayStats
}

// ICachePurger drops cached upstream responses by key prefix.
type ICachePurger interface {
	InvalidateCache(ctx context.Context, prefix string) (int, error)
}

// ControlServer is the operator API. Messages are well-known protobuf types, so
// there is no generated code.
type ControlServer interface {
	GetStats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetMarketStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	PurgeCache(context.Context, *wrapperspb.StringValue) (*wrapperspb.Int64Value, error)
}

// -----------------------------------------------------------------------------

// ControlService implements ControlServer
type ControlService struct {
	Stats  IStatsSource
	Clock  interfaces.IMarketClock
	Cache  ICachePurger
	Logger *logger.Logger
}

// NewControlService creates a new instance of ControlService
func NewControlService(stats IStatsSource, clock interfaces.IMarketClock, cache ICachePurger, log *logger.Logger) *ControlService {
	if log == nil {
		log = logger.Nop()
	}
	return &ControlService{
		Stats:  stats,
		Clock:  clock,
		Cache:  cache,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

// toStruct converts v through its JSON form so field names match the REST API.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "unmarshal: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "struct: %v", err)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetStats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.Stats.Stats())
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetMarketStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.Clock.Status(time.Now()))
}

// -----------------------------------------------------------------------------

func (s *ControlService) PurgeCache(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
	prefix := req.GetValue()
	if prefix == "" {
		return nil, status.Error(codes.InvalidArgument, "prefix is required")
	}
	if s.Cache == nil {
		return nil, status.Error(codes.Unavailable, "cache not configured")
	}

	n, err := s.Cache.InvalidateCache(ctx, prefix)
	if err != nil {
		s.Logger.Error("gRPC: PurgeCache %q failed: %v", prefix, err)
		return nil, status.Errorf(codes.Internal, "purge failed: %v", err)
	}
	s.Logger.Info("gRPC: PurgeCache %q removed %d entries", prefix, n)
	return wrapperspb.Int64(int64(n)), nil
}

// -----------------------------------------------------------------------------
// Service registration
// -----------------------------------------------------------------------------

func unaryHandler[Req any](method string, call func(ControlServer, context.Context, *Req) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ControlServer), ctx, req.(*Req))
			})
		},
	}
}

var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("GetStats", func(s ControlServer, ctx context.Context, in *emptypb.Empty) (interface{}, error) {
			return s.GetStats(ctx, in)
		}),
		unaryHandler("GetMarketStatus", func(s ControlServer, ctx context.Context, in *emptypb.Empty) (interface{}, error) {
			return s.GetMarketStatus(ctx, in)
		}),
		unaryHandler("PurgeCache", func(s ControlServer, ctx context.Context, in *wrapperspb.StringValue) (interface{}, error) {
			return s.PurgeCache(ctx, in)
		}),
	},
	Streams: []grpc.StreamDesc{},
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

type ControlClient struct {
	cc grpc.ClientConnInterface
}

func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) GetStats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetStats", &emptypb.Empty{}, out, opts...)
	return out, err
}

func (c *ControlClient) GetMarketStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetMarketStatus", &emptypb.Empty{}, out, opts...)
	return out, err
}

func (c *ControlClient) PurgeCache(ctx context.Context, prefix string, opts ...grpc.CallOption) (int64, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/PurgeCache", wrapperspb.String(prefix), out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server hosts the control service and the standard health service.
type Server struct {
	GRPC   *grpc.Server
	Health *health.Server
	Logger *logger.Logger
}

func NewServer(svc ControlServer, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	gs := grpc.NewServer()
	gs.RegisterService(&ControlServiceDesc, svc)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{GRPC: gs, Health: hs, Logger: log}
}

// Serve blocks until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.Logger.Info("gRPC control listening on %s", lis.Addr())
	return s.GRPC.Serve(lis)
}

func (s *Server) ListenAndServe(host string, port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(lis)
}

func (s *Server) Stop() {
	s.Health.Shutdown()
	s.GRPC.GracefulStop()
}
