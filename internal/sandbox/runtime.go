package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrNotIsolated   = errors.New("sandbox is not isolated")
	ErrClassNotFound = errors.New("class not found")
	ErrNoSuchMethod  = errors.New("no such method")
	ErrBadArgument   = errors.New("bad argument")
)

// Exception is raised by code running inside the sandbox and travels back
// to the host as a remote error.
type Exception struct {
	Type    string
	Message string
}

func (e *Exception) Error() string {
	return e.Type + ": " + e.Message
}

func Throw(typ, format string, args ...any) *Exception {
	return &Exception{Type: typ, Message: fmt.Sprintf(format, args...)}
}

// Object is a live value inside the sandbox.
type Object struct {
	Type  string
	Value any
}

// Null is returned by void methods.
var Null = Object{}

func (o Object) IsNull() bool {
	return o.Type == ""
}

func Str(s string) Object {
	return Object{Type: TypeString, Value: s}
}

func Bool(b bool) Object {
	return Object{Type: TypeBoolean, Value: b}
}

const (
	TypeString  = "java.lang.String"
	TypeBoolean = "boolean"
	TypeObject  = "java.lang.Object"
)

type Constructor struct {
	Params []string
	New    func(ctx context.Context, args []Object) (Object, error)
}

type Method struct {
	Name    string
	Params  []string
	Returns string
	Static  bool
	Call    func(ctx context.Context, receiver Object, args []Object) (Object, error)
}

type Class struct {
	Name         string
	Constructors []Constructor
	Methods      []Method
}

func (c *Class) Package() string {
	return packageOf(c.Name)
}

func packageOf(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return name[:idx]
}

// Runtime holds one artifact's classes, the platform classes it may be
// granted, and the heap of objects created through it.
type Runtime struct {
	coordinate string
	classes    map[string]*Class
	own        map[string]bool

	mu      sync.RWMutex
	visible map[string]bool
	heap    map[string]Object
	next    uint64
}

// NewRuntime builds a runtime for the artifact identified by coordinate.
// Platform classes are always installed but stay hidden until Isolate
// grants their package.
func NewRuntime(coordinate string, classes ...*Class) *Runtime {
	r := &Runtime{
		coordinate: coordinate,
		classes:    make(map[string]*Class),
		own:        make(map[string]bool),
		heap:       make(map[string]Object),
	}
	for _, class := range PlatformClasses() {
		r.classes[class.Name] = class
	}
	for _, class := range classes {
		r.classes[class.Name] = class
		r.own[class.Package()] = true
	}
	return r
}

func (r *Runtime) Coordinate() string {
	return r.coordinate
}

// Packages lists the artifact's own packages.
func (r *Runtime) Packages() []string {
	return sortedKeys(r.own)
}

// Isolate fixes the visible package set to the artifact's packages plus
// shared. Package names match exactly; a shared "scala" does not expose
// "scala.io".
func (r *Runtime) Isolate(shared []string) []string {
	visible := make(map[string]bool, len(r.own)+len(shared))
	for pkg := range r.own {
		visible[pkg] = true
	}
	for _, pkg := range shared {
		pkg = strings.TrimSpace(pkg)
		if pkg != "" {
			visible[pkg] = true
		}
	}
	r.mu.Lock()
	r.visible = visible
	r.mu.Unlock()
	return sortedKeys(visible)
}

func (r *Runtime) Class(name string) (*Class, error) {
	r.mu.RLock()
	visible := r.visible
	r.mu.RUnlock()
	if visible == nil {
		return nil, ErrNotIsolated
	}
	class, ok := r.classes[name]
	if !ok || !visible[class.Package()] {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	return class, nil
}

// Construct calls the constructor of class whose parameter types equal params.
func (r *Runtime) Construct(ctx context.Context, className string, params []string, args []Ref) (Ref, error) {
	class, err := r.Class(className)
	if err != nil {
		return Ref{}, err
	}
	var ctor *Constructor
	for i := range class.Constructors {
		if sameTypes(class.Constructors[i].Params, params) {
			ctor = &class.Constructors[i]
			break
		}
	}
	if ctor == nil {
		return Ref{}, fmt.Errorf("%w: %s.<init>(%s)", ErrNoSuchMethod, className, strings.Join(params, ","))
	}
	objects, err := r.load(params, args)
	if err != nil {
		return Ref{}, err
	}
	obj, err := ctor.New(ctx, objects)
	if err != nil {
		return Ref{}, asException(err)
	}
	return r.store(obj), nil
}

// Invoke calls the method of class named method with exactly params.
// receiver must be nil for static methods and set for instance methods.
func (r *Runtime) Invoke(ctx context.Context, className, method string, params []string, receiver *Ref, args []Ref) (Ref, error) {
	class, err := r.Class(className)
	if err != nil {
		return Ref{}, err
	}
	var m *Method
	for i := range class.Methods {
		if class.Methods[i].Name == method && sameTypes(class.Methods[i].Params, params) {
			m = &class.Methods[i]
			break
		}
	}
	if m == nil {
		return Ref{}, fmt.Errorf("%w: %s.%s(%s)", ErrNoSuchMethod, className, method, strings.Join(params, ","))
	}

	var self Object
	switch {
	case m.Static && receiver != nil:
		return Ref{}, fmt.Errorf("%w: static method %s.%s called with a receiver", ErrBadArgument, className, method)
	case !m.Static && receiver == nil:
		return Ref{}, fmt.Errorf("%w: instance method %s.%s called without a receiver", ErrBadArgument, className, method)
	case receiver != nil:
		loaded, err := r.load([]string{className}, []Ref{*receiver})
		if err != nil {
			return Ref{}, err
		}
		self = loaded[0]
	}

	objects, err := r.load(params, args)
	if err != nil {
		return Ref{}, err
	}
	obj, err := m.Call(ctx, self, objects)
	if err != nil {
		return Ref{}, asException(err)
	}
	return r.store(obj), nil
}

// Ref is the wire form of an Object: literal for strings and booleans,
// a heap reference for everything else.
type Ref struct {
	Type    string
	Ref     string
	Literal string
}

func (r *Runtime) load(params []string, refs []Ref) ([]Object, error) {
	if len(refs) != len(params) {
		return nil, fmt.Errorf("%w: got %d arguments, want %d", ErrBadArgument, len(refs), len(params))
	}
	out := make([]Object, len(refs))
	for i, ref := range refs {
		obj, err := r.resolve(ref)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		if obj.Type != params[i] {
			return nil, fmt.Errorf("%w: argument %d is %s, want %s", ErrBadArgument, i, obj.Type, params[i])
		}
		out[i] = obj
	}
	return out, nil
}

func (r *Runtime) resolve(ref Ref) (Object, error) {
	if ref.Ref != "" {
		r.mu.RLock()
		obj, ok := r.heap[ref.Ref]
		r.mu.RUnlock()
		if !ok {
			return Object{}, fmt.Errorf("%w: unknown reference %s", ErrBadArgument, ref.Ref)
		}
		return obj, nil
	}
	switch ref.Type {
	case TypeString:
		return Str(ref.Literal), nil
	case TypeBoolean:
		b, err := strconv.ParseBool(ref.Literal)
		if err != nil {
			return Object{}, fmt.Errorf("%w: boolean literal %q", ErrBadArgument, ref.Literal)
		}
		return Bool(b), nil
	default:
		return Object{}, fmt.Errorf("%w: %s cannot be passed by value", ErrBadArgument, ref.Type)
	}
}

func (r *Runtime) store(obj Object) Ref {
	switch obj.Type {
	case "":
		return Ref{}
	case TypeString:
		s, _ := obj.Value.(string)
		return Ref{Type: TypeString, Literal: s}
	case TypeBoolean:
		b, _ := obj.Value.(bool)
		return Ref{Type: TypeBoolean, Literal: strconv.FormatBool(b)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	key := "obj-" + strconv.FormatUint(r.next, 10)
	r.heap[key] = obj
	return Ref{Type: obj.Type, Ref: key}
}

// Release drops heap objects by reference and reports how many were live.
// Unknown references are ignored.
func (r *Runtime) Release(refs []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	released := 0
	for _, ref := range refs {
		if _, ok := r.heap[ref]; ok {
			delete(r.heap, ref)
			released++
		}
	}
	return released
}

// HeapSize is the number of live heap objects.
func (r *Runtime) HeapSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.heap)
}

func asException(err error) error {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc
	}
	return &Exception{Type: "java.lang.RuntimeException", Message: err.Error()}
}

func sameTypes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
