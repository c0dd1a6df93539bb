package service

import (
	"context"
	"strings"

	"twirlhost/internal/modules/compiler/domain"
	compilerout "twirlhost/internal/modules/compiler/port/out"
)

// VersionedAdapter holds the knowledge needed to drive one compiler version.
// Implementations are stateless and safe for concurrent use.
type VersionedAdapter interface {
	Version() string
	DependencyNotation() string
	CompileMethod() domain.MethodSignature
	// CreateCompileParameters builds, inside env, the argument tuple CompileMethod expects.
	CreateCompileParameters(ctx context.Context, env compilerout.Environment, req domain.CompileRequest) ([]domain.Value, error)
	// SharedPackages are the host packages re-exported into the environment.
	SharedPackages() []string
	DefaultTemplateFormats() []domain.TemplateFormat
}

type adapterBase struct {
	version  string
	notation string
	method   domain.MethodSignature
	shared   []string
	formats  []domain.TemplateFormat
}

func (a adapterBase) Version() string            { return a.version }
func (a adapterBase) DependencyNotation() string { return a.notation }

func (a adapterBase) CompileMethod() domain.MethodSignature {
	return domain.MethodSignature{Class: a.method.Class, Method: a.method.Method, Params: append([]string(nil), a.method.Params...)}
}

func (a adapterBase) SharedPackages() []string {
	return append([]string(nil), a.shared...)
}

func (a adapterBase) DefaultTemplateFormats() []domain.TemplateFormat {
	out := make([]domain.TemplateFormat, 0, len(a.formats))
	for _, f := range a.formats {
		f.Imports = append([]string(nil), f.Imports...)
		out = append(out, f)
	}
	return out
}

func defaultFormats() []domain.TemplateFormat {
	return []domain.TemplateFormat{
		domain.HTMLFormat(),
		domain.TxtFormat(),
		domain.XMLFormat(),
		domain.JavaScriptFormat(),
	}
}

// newObject calls a constructor inside env, reporting any failure as a parameter adaptation error.
func newObject(ctx context.Context, env compilerout.Environment, class string, params []string, args ...domain.Value) (domain.Value, error) {
	value, err := env.Construct(ctx, class, params, args)
	if err != nil {
		return domain.Value{}, &domain.ParameterAdaptationError{
			Coordinate: env.Coordinate().String(),
			Type:       class,
			Factory:    "new " + class + "(" + strings.Join(params, ",") + ")",
			Cause:      err,
		}
	}
	return value, nil
}

// callFactory resolves and invokes a static factory method inside env.
func callFactory(ctx context.Context, env compilerout.Environment, sig domain.MethodSignature, args ...domain.Value) (domain.Value, error) {
	adaptErr := func(err error) error {
		return &domain.ParameterAdaptationError{
			Coordinate: env.Coordinate().String(),
			Type:       sig.Class,
			Factory:    sig.String(),
			Cause:      err,
		}
	}
	handle, err := ResolveMethod(ctx, env, sig)
	if err != nil {
		return domain.Value{}, adaptErr(err)
	}
	value, err := env.Invoke(ctx, handle, domain.Value{}, args)
	if err != nil {
		return domain.Value{}, adaptErr(err)
	}
	return value, nil
}

func newFile(ctx context.Context, env compilerout.Environment, path string) (domain.Value, error) {
	return newObject(ctx, env, domain.TypeFile, []string{domain.TypeString}, domain.StringValue(path))
}

// requestFiles builds the (source, sourceRoot, destinationRoot) File triple every version takes first.
func requestFiles(ctx context.Context, env compilerout.Environment, req domain.CompileRequest) ([]domain.Value, error) {
	out := make([]domain.Value, 0, 3)
	for _, path := range []string{req.SourceFile, req.SourceRoot, req.DestinationRoot} {
		file, err := newFile(ctx, env, path)
		if err != nil {
			return nil, err
		}
		out = append(out, file)
	}
	return out, nil
}

func twirlImports(ctx context.Context, env compilerout.Environment, imports domain.Imports) (domain.Value, error) {
	return callFactory(ctx, env, domain.MethodSignature{
		Class:  domain.TypeTwirlImports,
		Method: "valueOf",
		Params: []string{domain.TypeString},
	}, domain.StringValue(string(imports)))
}

// importLines renders the format's additional imports as Scala import statements.
func importLines(imports []string) string {
	lines := make([]string, 0, len(imports))
	for _, imp := range imports {
		lines = append(lines, "import "+imp)
	}
	return strings.Join(lines, "\n")
}
