package bridge

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/attendance-ping/event"
	"github.com/user/attendance-ping/logger"
)

const (
	ServiceName      = "attendance.v1.Bridge"
	invokeFullMethod = "/" + ServiceName + "/Invoke"
	eventsFullMethod = "/" + ServiceName + "/Events"
)

// BridgeServer is the server API of attendance.v1.Bridge. Messages are
// structpb so no generated code is needed:
//
//	Invoke  {channel, method, args{...}} -> {result}
//	Events  {} -> stream of event.ToStruct
type BridgeServer interface {
	Invoke(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Events(*structpb.Struct, EventStream) error
}

// EventStream is the server side of Events
type EventStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

// ServiceDesc is registered on a grpc.Server by RegisterBridgeServer
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Events", Handler: eventsHandler, ServerStreams: true},
	},
	Metadata: "attendance/v1/bridge.proto",
}

func RegisterBridgeServer(s grpc.ServiceRegistrar, srv BridgeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BridgeServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: invokeFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BridgeServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func eventsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BridgeServer).Events(in, &eventStream{stream})
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// service adapts a Bridge to BridgeServer
type service struct {
	b *Bridge
}

func NewService(b *Bridge) BridgeServer {
	return &service{b: b}
}

func (s *service) Invoke(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	channel := fields["channel"].GetStringValue()
	method := fields["method"].GetStringValue()
	args := fields["args"].GetStructValue().AsMap()

	result, err := s.b.Invoke(ctx, channel, method, args)
	if err != nil {
		return nil, toStatus(err)
	}
	v, err := structpb.NewValue(result)
	if err != nil {
		return nil, toStatus(fmt.Errorf("encode result: %w", err))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"result": v}}, nil
}

// Events forwards relay events until the client leaves or another consumer
// attaches, which ends this stream.
func (s *service) Events(_ *structpb.Struct, stream EventStream) error {
	ch, detach := s.b.Events()
	defer detach()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m, err := event.ToStruct(e)
			if err != nil {
				logger.Warn(s.b.tag(), "drop unencodable event %s: %v", e, err)
				continue
			}
			if err := stream.Send(m); err != nil {
				return err
			}
		}
	}
}

// Server serves the bridge over TCP
type Server struct {
	addr string
	srv  *grpc.Server

	mu  sync.Mutex
	lis net.Listener
}

func NewServer(addr string, b *Bridge, opts ...grpc.ServerOption) (*Server, error) {
	if addr == "" || !strings.Contains(addr, ":") {
		return nil, fmt.Errorf("invalid address: %s", addr)
	}
	srv := grpc.NewServer(opts...)
	RegisterBridgeServer(srv, NewService(b))
	return &Server{addr: addr, srv: srv}, nil
}

// Listen binds the address without serving yet
func (s *Server) Listen() (net.Addr, error) {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()
	return lis.Addr(), nil
}

// Serve blocks until Stop. It listens first if Listen was not called.
func (s *Server) Serve() error {
	s.mu.Lock()
	lis := s.lis
	s.mu.Unlock()
	if lis == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		lis = s.lis
		s.mu.Unlock()
	}
	logger.Info("Bridge", "🌉 Serving %s on %s", ServiceName, lis.Addr())
	return s.srv.Serve(lis)
}

func (s *Server) Stop() {
	s.srv.GracefulStop()
}

// Client calls a remote bridge
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes channel.method and returns the decoded result. Bridge
// failures come back as *Error.
func (c *Client) Call(ctx context.Context, channel, method string, args map[string]interface{}, opts ...grpc.CallOption) (interface{}, error) {
	in, err := structpb.NewStruct(map[string]interface{}{
		"channel": channel,
		"method":  method,
		"args":    args,
	})
	if err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, invokeFullMethod, in, out, opts...); err != nil {
		return nil, fromStatus(err)
	}
	return out.GetFields()["result"].AsInterface(), nil
}

// EventsClient receives flattened events
type EventsClient struct {
	stream grpc.ClientStream
}

func (c *Client) Events(ctx context.Context, opts ...grpc.CallOption) (*EventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], eventsFullMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&structpb.Struct{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventsClient{stream: stream}, nil
}

func (e *EventsClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := e.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
