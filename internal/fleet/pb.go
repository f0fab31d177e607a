package fleet

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype the docking feed speaks.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// DockingReport is one streamed update: spaceship SpaceshipID is docked at
// LocationCode.
type DockingReport struct {
	SpaceshipID  string `json:"spaceship_id"`
	LocationCode string `json:"location_code"`
	Ts           int64  `json:"ts"`
}

// DockingAck closes the stream with per-report outcomes.
type DockingAck struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// DockingServer defines the gRPC contract.
type DockingServer interface {
	ReportDocking(Docking_ReportDockingServer) error
}

const serviceName = "fleet.Docking"

var dockingServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DockingServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "ReportDocking",
		Handler:       _Docking_ReportDocking_Handler,
		ClientStreams: true,
	}},
}

// RegisterDockingServer registers service implementation.
func RegisterDockingServer(s grpc.ServiceRegistrar, srv DockingServer) {
	s.RegisterService(&dockingServiceDesc, srv)
}

// Docking_ReportDockingServer is the server side of the client stream.
type Docking_ReportDockingServer interface {
	grpc.ServerStream
	SendAndClose(*DockingAck) error
	Recv() (*DockingReport, error)
}

func _Docking_ReportDocking_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(DockingServer).ReportDocking(&dockingStreamServer{ServerStream: stream})
}

type dockingStreamServer struct {
	grpc.ServerStream
}

func (s *dockingStreamServer) SendAndClose(ack *DockingAck) error {
	return s.ServerStream.SendMsg(ack)
}

func (s *dockingStreamServer) Recv() (*DockingReport, error) {
	msg := new(DockingReport)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Docking_ReportDockingClient is the client side of the stream.
type Docking_ReportDockingClient interface {
	Send(*DockingReport) error
	CloseAndRecv() (*DockingAck, error)
	grpc.ClientStream
}

// DockingClient opens docking streams.
type DockingClient struct {
	cc grpc.ClientConnInterface
}

// NewDockingClient wraps a connection.
func NewDockingClient(cc grpc.ClientConnInterface) *DockingClient {
	return &DockingClient{cc: cc}
}

// ReportDocking opens a stream that speaks the JSON codec.
func (c *DockingClient) ReportDocking(ctx context.Context, opts ...grpc.CallOption) (Docking_ReportDockingClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &dockingServiceDesc.Streams[0], "/"+serviceName+"/ReportDocking", opts...)
	if err != nil {
		return nil, err
	}
	return &dockingStreamClient{ClientStream: stream}, nil
}

type dockingStreamClient struct {
	grpc.ClientStream
}

func (c *dockingStreamClient) Send(m *DockingReport) error {
	return c.ClientStream.SendMsg(m)
}

func (c *dockingStreamClient) CloseAndRecv() (*DockingAck, error) {
	if err := c.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	ack := new(DockingAck)
	if err := c.ClientStream.RecvMsg(ack); err != nil {
		return nil, err
	}
	return ack, nil
}
