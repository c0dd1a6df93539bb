package service_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"twirlhost/internal/modules/compiler/domain"
	compilerout "twirlhost/internal/modules/compiler/port/out"
	"twirlhost/internal/sandbox"
	"twirlhost/internal/sandbox/twirl"
)

// runtimeEnv runs a sandbox runtime in-process.
type runtimeEnv struct {
	id       string
	coord    domain.Coordinate
	rt       *sandbox.Runtime
	packages []string

	mu      sync.Mutex
	closed  bool
	invoked []invocation
}

// invocation is one Invoke call as the environment saw it.
type invocation struct {
	sig  domain.MethodSignature
	args int
}

func (e *runtimeEnv) ID() string                    { return e.id }
func (e *runtimeEnv) Coordinate() domain.Coordinate { return e.coord }
func (e *runtimeEnv) Packages() []string            { return e.packages }

func (e *runtimeEnv) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *runtimeEnv) Class(_ context.Context, name string) (domain.ClassInfo, error) {
	class, err := e.rt.Class(name)
	if err != nil {
		return domain.ClassInfo{}, e.mapError(err, domain.MethodSignature{Class: name})
	}
	info := domain.ClassInfo{Name: class.Name, Package: class.Package()}
	for _, ctor := range class.Constructors {
		info.Constructors = append(info.Constructors, ctor.Params)
	}
	for _, m := range class.Methods {
		info.Methods = append(info.Methods, domain.MethodInfo{Name: m.Name, Params: m.Params, Returns: m.Returns, Static: m.Static})
	}
	return info, nil
}

func (e *runtimeEnv) Construct(ctx context.Context, class string, params []string, args []domain.Value) (domain.Value, error) {
	ref, err := e.rt.Construct(ctx, class, params, refs(args))
	if err != nil {
		return domain.Value{}, e.mapError(err, domain.MethodSignature{Class: class, Method: "<init>", Params: params})
	}
	return e.value(ref), nil
}

func (e *runtimeEnv) Invoke(ctx context.Context, handle domain.MethodHandle, receiver domain.Value, args []domain.Value) (domain.Value, error) {
	if handle.EnvironmentID != e.id {
		return domain.Value{}, domain.ErrForeignHandle
	}
	var self *sandbox.Ref
	if !receiver.IsNull() {
		r := refs([]domain.Value{receiver})[0]
		self = &r
	}
	sig := handle.Signature
	e.mu.Lock()
	e.invoked = append(e.invoked, invocation{sig: sig, args: len(args)})
	e.mu.Unlock()
	ref, err := e.rt.Invoke(ctx, sig.Class, sig.Method, sig.Params, self, refs(args))
	if err != nil {
		return domain.Value{}, e.mapError(err, sig)
	}
	return e.value(ref), nil
}

func (e *runtimeEnv) Release(_ context.Context, values []domain.Value) error {
	keys := make([]string, 0, len(values))
	for _, v := range values {
		if !v.IsRef() {
			continue
		}
		if v.Environment != e.id {
			return domain.ErrForeignValue
		}
		keys = append(keys, v.Ref)
	}
	e.rt.Release(keys)
	return nil
}

// calls returns the invocations of method in order.
func (e *runtimeEnv) calls(method string) []invocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []invocation
	for _, inv := range e.invoked {
		if inv.sig.Method == method {
			out = append(out, inv)
		}
	}
	return out
}

func (e *runtimeEnv) value(ref sandbox.Ref) domain.Value {
	if ref.Type == "" {
		return domain.Value{}
	}
	return domain.Value{Environment: e.id, Type: ref.Type, Ref: ref.Ref, Literal: ref.Literal}
}

func (e *runtimeEnv) mapError(err error, sig domain.MethodSignature) error {
	coordinate := e.coord.String()
	var exc *sandbox.Exception
	switch {
	case errors.As(err, &exc):
		return &domain.InvocationError{Coordinate: coordinate, Signature: sig, Cause: &domain.RemoteError{Type: exc.Type, Message: exc.Message}}
	case errors.Is(err, sandbox.ErrClassNotFound):
		return &domain.AdapterNotFoundError{Coordinate: coordinate, Class: sig.Class}
	case errors.Is(err, sandbox.ErrNoSuchMethod):
		return &domain.MethodNotFoundError{Coordinate: coordinate, Signature: sig}
	default:
		return &domain.ParameterAdaptationError{Coordinate: coordinate, Type: sig.String(), Cause: err}
	}
}

func refs(values []domain.Value) []sandbox.Ref {
	out := make([]sandbox.Ref, 0, len(values))
	for _, v := range values {
		out = append(out, sandbox.Ref{Type: v.Type, Ref: v.Ref, Literal: v.Literal})
	}
	return out
}

// runtimeProvider hands out a fresh in-process twirl runtime per call.
type runtimeProvider struct {
	mu      sync.Mutex
	created []string
	shared  map[string][]string
	envs    []*runtimeEnv
}

func newRuntimeProvider() *runtimeProvider {
	return &runtimeProvider{shared: map[string][]string{}}
}

func (p *runtimeProvider) CreateEnvironment(_ context.Context, coordinate domain.Coordinate, shared []string) (compilerout.Environment, error) {
	rt, err := twirl.New(coordinate.String())
	if err != nil {
		return nil, &domain.DependencyResolutionError{Coordinate: coordinate.String(), Cause: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, coordinate.String())
	p.shared[coordinate.String()] = append([]string(nil), shared...)
	env := &runtimeEnv{
		id:       fmt.Sprintf("env-%d", len(p.created)),
		coord:    coordinate,
		rt:       rt,
		packages: rt.Isolate(shared),
	}
	p.envs = append(p.envs, env)
	return env, nil
}

func (p *runtimeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created)
}

func (p *runtimeProvider) env(i int) *runtimeEnv {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.envs[i]
}

func (p *runtimeProvider) allClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, env := range p.envs {
		env.mu.Lock()
		closed := env.closed
		env.mu.Unlock()
		if !closed {
			return false
		}
	}
	return true
}

type memLedger struct {
	mu      sync.Mutex
	entries []domain.LedgerEntry
}

func (l *memLedger) Record(ctx context.Context, entry domain.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *memLedger) List(_ context.Context, limit int) ([]domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.LedgerEntry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

type stubArtifacts struct {
	missing map[string]bool
}

func (s stubArtifacts) Resolve(_ context.Context, coordinate domain.Coordinate) (domain.Artifact, error) {
	if s.missing[coordinate.String()] {
		return domain.Artifact{}, &domain.DependencyResolutionError{Coordinate: coordinate.String(), Cause: errors.New("no artifact registered")}
	}
	return domain.Artifact{Coordinate: coordinate.String()}, nil
}

// scriptedWatcher emits paths once, then waits for cancellation.
type scriptedWatcher struct {
	before func()
	paths  []string
}

func (w scriptedWatcher) Watch(ctx context.Context, _ string, changed chan<- string) error {
	if w.before != nil {
		w.before()
	}
	for _, path := range w.paths {
		select {
		case changed <- path:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("inv-%d", s.n)
}

// layout writes templates under <tmp>/app/views and returns the source
// root, destination root and template paths.
func layout(t *testing.T, names ...string) (string, string, []string) {
	t.Helper()
	root := t.TempDir()
	sourceRoot := filepath.Join(root, "app")
	dest := filepath.Join(root, "target", "twirl")
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(sourceRoot, "views", name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("<p>"+name+"</p>"), 0o644); err != nil {
			t.Fatalf("write template: %v", err)
		}
		paths = append(paths, path)
	}
	return sourceRoot, dest, paths
}
