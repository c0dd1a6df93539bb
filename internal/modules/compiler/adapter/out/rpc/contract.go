package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	PluginMapKey    = "sandbox"
	serviceName     = "twirlhost.sandbox.v1.Sandbox"
	jsonCodecName   = "json"
	methodDescribe  = "/" + serviceName + "/Describe"
	methodIsolate   = "/" + serviceName + "/Isolate"
	methodClass     = "/" + serviceName + "/Class"
	methodConstruct = "/" + serviceName + "/Construct"
	methodInvoke    = "/" + serviceName + "/Invoke"
	methodRelease   = "/" + serviceName + "/Release"

	// ErrorDomain tags errdetails.ErrorInfo attached to sandbox failures.
	ErrorDomain = "sandbox.twirlhost"
)

var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "TWIRLHOST_SANDBOX",
	MagicCookieValue: "twirlhost",
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type Empty struct{}

type Manifest struct {
	Coordinate string   `json:"coordinate"`
	Packages   []string `json:"packages"`
}

type IsolateRequest struct {
	Shared []string `json:"shared"`
}

type IsolateResponse struct {
	Visible []string `json:"visible"`
}

type ClassRequest struct {
	Name string `json:"name"`
}

type Method struct {
	Name    string   `json:"name"`
	Params  []string `json:"params"`
	Returns string   `json:"returns"`
	Static  bool     `json:"static"`
}

type ClassResponse struct {
	Name         string     `json:"name"`
	Package      string     `json:"package"`
	Constructors [][]string `json:"constructors"`
	Methods      []Method   `json:"methods"`
}

type Value struct {
	Type    string `json:"type"`
	Ref     string `json:"ref,omitempty"`
	Literal string `json:"literal,omitempty"`
}

type ConstructRequest struct {
	Class  string   `json:"class"`
	Params []string `json:"params"`
	Args   []Value  `json:"args"`
}

type InvokeRequest struct {
	Class    string   `json:"class"`
	Method   string   `json:"method"`
	Params   []string `json:"params"`
	Receiver *Value   `json:"receiver,omitempty"`
	Args     []Value  `json:"args"`
}

type ReleaseRequest struct {
	Refs []string `json:"refs"`
}

type ReleaseResponse struct {
	Released int `json:"released"`
}

type SandboxServer interface {
	Describe(ctx context.Context, in *Empty) (*Manifest, error)
	Isolate(ctx context.Context, in *IsolateRequest) (*IsolateResponse, error)
	Class(ctx context.Context, in *ClassRequest) (*ClassResponse, error)
	Construct(ctx context.Context, in *ConstructRequest) (*Value, error)
	Invoke(ctx context.Context, in *InvokeRequest) (*Value, error)
	Release(ctx context.Context, in *ReleaseRequest) (*ReleaseResponse, error)
}

type SandboxClient interface {
	Describe(ctx context.Context) (*Manifest, error)
	Isolate(ctx context.Context, in *IsolateRequest) (*IsolateResponse, error)
	Class(ctx context.Context, in *ClassRequest) (*ClassResponse, error)
	Construct(ctx context.Context, in *ConstructRequest) (*Value, error)
	Invoke(ctx context.Context, in *InvokeRequest) (*Value, error)
	Release(ctx context.Context, in *ReleaseRequest) (*ReleaseResponse, error)
}

type sandboxClient struct {
	conn grpc.ClientConnInterface
}

func NewSandboxClient(conn grpc.ClientConnInterface) SandboxClient {
	return &sandboxClient{conn: conn}
}

func (c *sandboxClient) call(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, method, in, out, grpc.CallContentSubtype(jsonCodecName))
}

func (c *sandboxClient) Describe(ctx context.Context) (*Manifest, error) {
	out := &Manifest{}
	if err := c.call(ctx, methodDescribe, &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sandboxClient) Isolate(ctx context.Context, in *IsolateRequest) (*IsolateResponse, error) {
	out := &IsolateResponse{}
	if err := c.call(ctx, methodIsolate, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sandboxClient) Class(ctx context.Context, in *ClassRequest) (*ClassResponse, error) {
	out := &ClassResponse{}
	if err := c.call(ctx, methodClass, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sandboxClient) Construct(ctx context.Context, in *ConstructRequest) (*Value, error) {
	out := &Value{}
	if err := c.call(ctx, methodConstruct, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sandboxClient) Invoke(ctx context.Context, in *InvokeRequest) (*Value, error) {
	out := &Value{}
	if err := c.call(ctx, methodInvoke, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sandboxClient) Release(ctx context.Context, in *ReleaseRequest) (*ReleaseResponse, error) {
	out := &ReleaseResponse{}
	if err := c.call(ctx, methodRelease, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// unaryHandler adapts a typed sandbox method to grpc.MethodDesc's handler shape.
func unaryHandler[Req any, Resp any](fullMethod string, call func(SandboxServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		impl, ok := srv.(SandboxServer)
		if !ok {
			return nil, fmt.Errorf("invalid server type %T", srv)
		}
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(impl, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*Req)
			if !ok {
				return nil, fmt.Errorf("invalid request type")
			}
			return call(impl, ctx, typed)
		}
		return interceptor(ctx, in, info, handler)
	}
}

func RegisterSandboxServer(server grpc.ServiceRegistrar, impl SandboxServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*SandboxServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Describe", Handler: unaryHandler(methodDescribe, SandboxServer.Describe)},
			{MethodName: "Isolate", Handler: unaryHandler(methodIsolate, SandboxServer.Isolate)},
			{MethodName: "Class", Handler: unaryHandler(methodClass, SandboxServer.Class)},
			{MethodName: "Construct", Handler: unaryHandler(methodConstruct, SandboxServer.Construct)},
			{MethodName: "Invoke", Handler: unaryHandler(methodInvoke, SandboxServer.Invoke)},
			{MethodName: "Release", Handler: unaryHandler(methodRelease, SandboxServer.Release)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "schemas/sandbox-rpc-v1.proto",
	}, impl)
}

type GRPCPlugin struct {
	plugin.NetRPCUnsupportedPlugin
	Impl SandboxServer
}

func (p *GRPCPlugin) GRPCServer(_ *plugin.GRPCBroker, server *grpc.Server) error {
	RegisterSandboxServer(server, p.Impl)
	return nil
}

func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *plugin.GRPCBroker, conn *grpc.ClientConn) (any, error) {
	return NewSandboxClient(conn), nil
}

func PluginMap(impl SandboxServer) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		PluginMapKey: &GRPCPlugin{Impl: impl},
	}
}
