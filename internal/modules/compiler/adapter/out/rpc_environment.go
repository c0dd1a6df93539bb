package out

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	sandboxrpc "twirlhost/internal/modules/compiler/adapter/out/rpc"
	"twirlhost/internal/modules/compiler/domain"
	compilerout "twirlhost/internal/modules/compiler/port/out"
)

const defaultCallTimeout = 5 * time.Second

// RPCEnvironment is an isolated environment backed by a sandbox client.
type RPCEnvironment struct {
	id          string
	coordinate  domain.Coordinate
	packages    []string
	client      sandboxrpc.SandboxClient
	callTimeout time.Duration
	closeFn     func()
	closed      atomic.Bool
}

var _ compilerout.Environment = (*RPCEnvironment)(nil)

// NewRPCEnvironment checks that client serves coordinate and restricts it
// to its own packages plus shared. closeFn runs once on Close.
func NewRPCEnvironment(ctx context.Context, coordinate domain.Coordinate, client sandboxrpc.SandboxClient, shared []string, callTimeout time.Duration, closeFn func()) (*RPCEnvironment, error) {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	e := &RPCEnvironment{
		id:          uuid.NewString(),
		coordinate:  coordinate,
		client:      client,
		callTimeout: callTimeout,
		closeFn:     closeFn,
	}
	fail := func(err error) (*RPCEnvironment, error) {
		return nil, &domain.DependencyResolutionError{Coordinate: coordinate.String(), Cause: err}
	}

	callCtx, cancel := callContext(ctx, callTimeout)
	defer cancel()
	manifest, err := client.Describe(callCtx)
	if err != nil {
		return fail(fmt.Errorf("describe sandbox: %w", err))
	}
	if manifest.Coordinate != coordinate.String() {
		return fail(fmt.Errorf("sandbox serves %s", manifest.Coordinate))
	}
	isolated, err := client.Isolate(callCtx, &sandboxrpc.IsolateRequest{Shared: append([]string{}, shared...)})
	if err != nil {
		return fail(fmt.Errorf("isolate sandbox: %w", err))
	}
	e.packages = isolated.Visible
	return e, nil
}

func (e *RPCEnvironment) ID() string                   { return e.id }
func (e *RPCEnvironment) Coordinate() domain.Coordinate { return e.coordinate }

func (e *RPCEnvironment) Packages() []string {
	return append([]string(nil), e.packages...)
}

func (e *RPCEnvironment) Class(ctx context.Context, name string) (domain.ClassInfo, error) {
	if e.closed.Load() {
		return domain.ClassInfo{}, domain.ErrEnvironmentClosed
	}
	callCtx, cancel := callContext(ctx, e.callTimeout)
	defer cancel()
	resp, err := e.client.Class(callCtx, &sandboxrpc.ClassRequest{Name: name})
	if err != nil {
		return domain.ClassInfo{}, e.mapError(err, domain.MethodSignature{Class: name})
	}
	info := domain.ClassInfo{
		Name:         resp.Name,
		Package:      resp.Package,
		Constructors: resp.Constructors,
		Methods:      make([]domain.MethodInfo, 0, len(resp.Methods)),
	}
	for _, m := range resp.Methods {
		info.Methods = append(info.Methods, domain.MethodInfo{Name: m.Name, Params: m.Params, Returns: m.Returns, Static: m.Static})
	}
	return info, nil
}

func (e *RPCEnvironment) Construct(ctx context.Context, class string, params []string, args []domain.Value) (domain.Value, error) {
	if e.closed.Load() {
		return domain.Value{}, domain.ErrEnvironmentClosed
	}
	wire, err := e.toWire(args)
	if err != nil {
		return domain.Value{}, err
	}
	callCtx, cancel := callContext(ctx, e.callTimeout)
	defer cancel()
	resp, err := e.client.Construct(callCtx, &sandboxrpc.ConstructRequest{Class: class, Params: params, Args: wire})
	if err != nil {
		return domain.Value{}, e.mapError(err, domain.MethodSignature{Class: class, Method: "<init>", Params: params})
	}
	return e.fromWire(resp), nil
}

func (e *RPCEnvironment) Invoke(ctx context.Context, handle domain.MethodHandle, receiver domain.Value, args []domain.Value) (domain.Value, error) {
	if e.closed.Load() {
		return domain.Value{}, domain.ErrEnvironmentClosed
	}
	if handle.EnvironmentID != e.id {
		return domain.Value{}, fmt.Errorf("%w: %s", domain.ErrForeignHandle, handle.Signature)
	}
	req := &sandboxrpc.InvokeRequest{
		Class:  handle.Signature.Class,
		Method: handle.Signature.Method,
		Params: handle.Signature.Params,
	}
	if !receiver.IsNull() {
		if handle.Static {
			return domain.Value{}, &domain.ParameterAdaptationError{
				Coordinate: e.coordinate.String(),
				Type:       handle.Signature.String(),
				Cause:      errors.New("static method called with a receiver"),
			}
		}
		wire, err := e.toWire([]domain.Value{receiver})
		if err != nil {
			return domain.Value{}, err
		}
		req.Receiver = &wire[0]
	}
	wire, err := e.toWire(args)
	if err != nil {
		return domain.Value{}, err
	}
	req.Args = wire

	callCtx, cancel := callContext(ctx, e.callTimeout)
	defer cancel()
	resp, err := e.client.Invoke(callCtx, req)
	if err != nil {
		return domain.Value{}, e.mapError(err, handle.Signature)
	}
	return e.fromWire(resp), nil
}

func (e *RPCEnvironment) Release(ctx context.Context, values []domain.Value) error {
	if e.closed.Load() {
		return domain.ErrEnvironmentClosed
	}
	refs := make([]string, 0, len(values))
	for _, v := range values {
		if !v.IsRef() {
			continue
		}
		if v.Environment != e.id {
			return fmt.Errorf("%w: %s", domain.ErrForeignValue, v)
		}
		refs = append(refs, v.Ref)
	}
	if len(refs) == 0 {
		return nil
	}
	callCtx, cancel := callContext(ctx, e.callTimeout)
	defer cancel()
	if _, err := e.client.Release(callCtx, &sandboxrpc.ReleaseRequest{Refs: refs}); err != nil {
		return e.mapError(err, domain.MethodSignature{Method: "release"})
	}
	return nil
}

func (e *RPCEnvironment) Close() error {
	if e.closed.CompareAndSwap(false, true) {
		e.closeFn()
	}
	return nil
}

func (e *RPCEnvironment) toWire(values []domain.Value) ([]sandboxrpc.Value, error) {
	out := make([]sandboxrpc.Value, 0, len(values))
	for _, v := range values {
		if v.IsRef() && v.Environment != e.id {
			return nil, fmt.Errorf("%w: %s", domain.ErrForeignValue, v)
		}
		out = append(out, sandboxrpc.Value{Type: v.Type, Ref: v.Ref, Literal: v.Literal})
	}
	return out, nil
}

func (e *RPCEnvironment) fromWire(v *sandboxrpc.Value) domain.Value {
	if v == nil || v.Type == "" {
		return domain.Value{}
	}
	return domain.Value{Environment: e.id, Type: v.Type, Ref: v.Ref, Literal: v.Literal}
}

// mapError turns sandbox status codes into domain errors for sig.
func (e *RPCEnvironment) mapError(err error, sig domain.MethodSignature) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("sandbox call %s: %w", sig, err)
	}
	coordinate := e.coordinate.String()
	switch st.Code() {
	case codes.NotFound:
		return &domain.AdapterNotFoundError{Coordinate: coordinate, Class: sig.Class}
	case codes.Unimplemented:
		return &domain.MethodNotFoundError{Coordinate: coordinate, Signature: sig}
	case codes.InvalidArgument:
		return &domain.ParameterAdaptationError{Coordinate: coordinate, Type: sig.String(), Cause: errors.New(st.Message())}
	case codes.Aborted:
		return &domain.InvocationError{Coordinate: coordinate, Signature: sig, Cause: remoteError(st)}
	case codes.DeadlineExceeded:
		return &domain.InvocationError{Coordinate: coordinate, Signature: sig, Cause: fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())}
	case codes.Canceled:
		return fmt.Errorf("sandbox call %s: %w", sig, context.Canceled)
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", domain.ErrEnvironmentClosed, st.Message())
	default:
		return fmt.Errorf("sandbox call %s: %w", sig, err)
	}
}

func remoteError(st *status.Status) *domain.RemoteError {
	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.ErrorInfo)
		if ok && info.GetDomain() == sandboxrpc.ErrorDomain {
			return &domain.RemoteError{Type: info.GetReason(), Message: st.Message()}
		}
	}
	return &domain.RemoteError{Type: "unknown", Message: st.Message()}
}

func callContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := parent.Deadline(); ok {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
