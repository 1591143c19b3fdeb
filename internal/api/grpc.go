package api

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/victornm/geeko/internal/domain"
)

const ServiceName = "geeko.v1.GeekoService"

// GeekoServer is the gRPC service. Messages are the JSON structs of this package, exchanged
// with the "json" content subtype.
type GeekoServer interface {
	CreateSession(context.Context, *CreateSessionRequest) (*SessionResponse, error)
	JoinSession(context.Context, *JoinSessionRequest) (*JoinSessionResponse, error)
	StartSession(context.Context, *HostRequest) (*SessionResponse, error)
	AdvanceQuestion(context.Context, *HostRequest) (*SessionResponse, error)
	CancelSession(context.Context, *HostRequest) (*SessionResponse, error)
	SubmitAnswer(context.Context, *SubmitAnswerRequest) (*SubmitAnswerResponse, error)
	GetSnapshot(context.Context, *GetSnapshotRequest) (*domain.Snapshot, error)
	GetFinalResults(context.Context, *GetFinalResultsRequest) (*domain.FinalResults, error)
}

func RegisterGeekoServer(s grpc.ServiceRegistrar, srv GeekoServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GeekoServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateSession", GeekoServer.CreateSession),
		unary("JoinSession", GeekoServer.JoinSession),
		unary("StartSession", GeekoServer.StartSession),
		unary("AdvanceQuestion", GeekoServer.AdvanceQuestion),
		unary("CancelSession", GeekoServer.CancelSession),
		unary("SubmitAnswer", GeekoServer.SubmitAnswer),
		unary("GetSnapshot", GeekoServer.GetSnapshot),
		unary("GetFinalResults", GeekoServer.GetFinalResults),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "geeko/v1/geeko.proto",
}

func unary[Req, Resp any](name string, call func(GeekoServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}

			if interceptor == nil {
				return call(srv.(GeekoServer), ctx, in)
			}

			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(GeekoServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Client calls the gRPC service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateSession(ctx context.Context, in *CreateSessionRequest, opts ...grpc.CallOption) (*SessionResponse, error) {
	return invoke[SessionResponse](ctx, c.cc, "CreateSession", in, opts...)
}

func (c *Client) JoinSession(ctx context.Context, in *JoinSessionRequest, opts ...grpc.CallOption) (*JoinSessionResponse, error) {
	return invoke[JoinSessionResponse](ctx, c.cc, "JoinSession", in, opts...)
}

func (c *Client) StartSession(ctx context.Context, in *HostRequest, opts ...grpc.CallOption) (*SessionResponse, error) {
	return invoke[SessionResponse](ctx, c.cc, "StartSession", in, opts...)
}

func (c *Client) AdvanceQuestion(ctx context.Context, in *HostRequest, opts ...grpc.CallOption) (*SessionResponse, error) {
	return invoke[SessionResponse](ctx, c.cc, "AdvanceQuestion", in, opts...)
}

func (c *Client) CancelSession(ctx context.Context, in *HostRequest, opts ...grpc.CallOption) (*SessionResponse, error) {
	return invoke[SessionResponse](ctx, c.cc, "CancelSession", in, opts...)
}

func (c *Client) SubmitAnswer(ctx context.Context, in *SubmitAnswerRequest, opts ...grpc.CallOption) (*SubmitAnswerResponse, error) {
	return invoke[SubmitAnswerResponse](ctx, c.cc, "SubmitAnswer", in, opts...)
}

func (c *Client) GetSnapshot(ctx context.Context, in *GetSnapshotRequest, opts ...grpc.CallOption) (*domain.Snapshot, error) {
	return invoke[domain.Snapshot](ctx, c.cc, "GetSnapshot", in, opts...)
}

func (c *Client) GetFinalResults(ctx context.Context, in *GetFinalResultsRequest, opts ...grpc.CallOption) (*domain.FinalResults, error) {
	return invoke[domain.FinalResults](ctx, c.cc, "GetFinalResults", in, opts...)
}

const JSONCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
