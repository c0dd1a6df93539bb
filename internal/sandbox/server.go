package sandbox

import (
	"context"
	"errors"
	"os"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	sandboxrpc "twirlhost/internal/modules/compiler/adapter/out/rpc"
)

// Server exposes a Runtime over the sandbox RPC contract.
type Server struct {
	runtime *Runtime
	logger  hclog.Logger
}

func NewServer(runtime *Runtime, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{runtime: runtime, logger: logger}
}

func (s *Server) Describe(_ context.Context, _ *sandboxrpc.Empty) (*sandboxrpc.Manifest, error) {
	return &sandboxrpc.Manifest{
		Coordinate: s.runtime.Coordinate(),
		Packages:   s.runtime.Packages(),
	}, nil
}

func (s *Server) Isolate(_ context.Context, in *sandboxrpc.IsolateRequest) (*sandboxrpc.IsolateResponse, error) {
	visible := s.runtime.Isolate(in.Shared)
	s.logger.Debug("isolated", "shared", in.Shared, "visible", visible)
	return &sandboxrpc.IsolateResponse{Visible: visible}, nil
}

func (s *Server) Class(_ context.Context, in *sandboxrpc.ClassRequest) (*sandboxrpc.ClassResponse, error) {
	class, err := s.runtime.Class(in.Name)
	if err != nil {
		return nil, s.statusError("class", err)
	}
	out := &sandboxrpc.ClassResponse{
		Name:         class.Name,
		Package:      class.Package(),
		Constructors: make([][]string, 0, len(class.Constructors)),
		Methods:      make([]sandboxrpc.Method, 0, len(class.Methods)),
	}
	for _, ctor := range class.Constructors {
		out.Constructors = append(out.Constructors, append([]string{}, ctor.Params...))
	}
	for _, m := range class.Methods {
		out.Methods = append(out.Methods, sandboxrpc.Method{
			Name:    m.Name,
			Params:  append([]string{}, m.Params...),
			Returns: m.Returns,
			Static:  m.Static,
		})
	}
	return out, nil
}

func (s *Server) Construct(ctx context.Context, in *sandboxrpc.ConstructRequest) (*sandboxrpc.Value, error) {
	ref, err := s.runtime.Construct(ctx, in.Class, in.Params, fromWire(in.Args))
	if err != nil {
		return nil, s.statusError("construct "+in.Class, err)
	}
	return toWire(ref), nil
}

func (s *Server) Invoke(ctx context.Context, in *sandboxrpc.InvokeRequest) (*sandboxrpc.Value, error) {
	var receiver *Ref
	if in.Receiver != nil {
		r := Ref{Type: in.Receiver.Type, Ref: in.Receiver.Ref, Literal: in.Receiver.Literal}
		receiver = &r
	}
	ref, err := s.runtime.Invoke(ctx, in.Class, in.Method, in.Params, receiver, fromWire(in.Args))
	if err != nil {
		return nil, s.statusError("invoke "+in.Class+"."+in.Method, err)
	}
	return toWire(ref), nil
}

func (s *Server) Release(_ context.Context, in *sandboxrpc.ReleaseRequest) (*sandboxrpc.ReleaseResponse, error) {
	released := s.runtime.Release(in.Refs)
	s.logger.Trace("released", "requested", len(in.Refs), "released", released, "live", s.runtime.HeapSize())
	return &sandboxrpc.ReleaseResponse{Released: released}, nil
}

// statusError maps runtime failures to gRPC codes. Exceptions raised by
// sandboxed code carry their type in an ErrorInfo detail.
func (s *Server) statusError(op string, err error) error {
	var exc *Exception
	switch {
	case errors.As(err, &exc):
		s.logger.Debug("exception", "op", op, "type", exc.Type, "message", exc.Message)
		st, detailErr := status.New(codes.Aborted, exc.Message).WithDetails(&errdetails.ErrorInfo{
			Reason: exc.Type,
			Domain: sandboxrpc.ErrorDomain,
		})
		if detailErr != nil {
			return status.Error(codes.Aborted, exc.Error())
		}
		return st.Err()
	case errors.Is(err, ErrClassNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrNoSuchMethod):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, ErrBadArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrNotIsolated):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		s.logger.Error("sandbox failure", "op", op, "error", err)
		return status.Error(codes.Internal, err.Error())
	}
}

func fromWire(values []sandboxrpc.Value) []Ref {
	out := make([]Ref, 0, len(values))
	for _, v := range values {
		out = append(out, Ref{Type: v.Type, Ref: v.Ref, Literal: v.Literal})
	}
	return out
}

func toWire(ref Ref) *sandboxrpc.Value {
	return &sandboxrpc.Value{Type: ref.Type, Ref: ref.Ref, Literal: ref.Literal}
}

// Serve runs runtime as a go-plugin process. It blocks until the host
// kills the plugin.
func Serve(runtime *Runtime) {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "sandbox",
		Level:      hclog.Trace,
		Output:     os.Stderr,
		JSONFormat: true,
	})
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: sandboxrpc.HandshakeConfig,
		Plugins:         sandboxrpc.PluginMap(NewServer(runtime, logger)),
		GRPCServer:      plugin.DefaultGRPCServer,
		Logger:          logger,
	})
}
