package service

import (
	"context"

	"twirlhost/internal/modules/compiler/domain"
	compilerout "twirlhost/internal/modules/compiler/port/out"
)

var fileTriple = []string{domain.TypeFile, domain.TypeFile, domain.TypeFile}

func params(extra ...string) []string {
	return append(append([]string(nil), fileTriple...), extra...)
}

// TwirlV210 drives twirl-compiler 1.0.x, which takes the formatter class
// name and the additional imports as plain strings.
type TwirlV210 struct{ adapterBase }

func NewTwirlV210() TwirlV210 {
	return TwirlV210{adapterBase{
		version:  "2.10",
		notation: "com.typesafe.play:twirl-compiler_2.10:1.0.4",
		method:   domain.MethodSignature{Class: domain.TypeTwirlCompiler, Method: "compile", Params: params(domain.TypeString, domain.TypeString)},
		shared:   []string{"java.io", "java.lang"},
		formats:  defaultFormats(),
	}}
}

func (a TwirlV210) CreateCompileParameters(ctx context.Context, env compilerout.Environment, req domain.CompileRequest) ([]domain.Value, error) {
	args, err := requestFiles(ctx, env, req)
	if err != nil {
		return nil, err
	}
	imports := append(req.Imports.Defaults(req.Format.Suffix()), req.Format.Imports...)
	return append(args,
		domain.StringValue(req.Format.FormatType),
		domain.StringValue(importLines(imports)),
	), nil
}

// TwirlV211 drives twirl-compiler 1.3.x: imports and format travel as
// objects constructed inside the environment.
type TwirlV211 struct{ adapterBase }

func NewTwirlV211() TwirlV211 {
	return TwirlV211{adapterBase{
		version:  "2.11",
		notation: "com.typesafe.play:twirl-compiler_2.11:1.3.13",
		method:   domain.MethodSignature{Class: domain.TypeTwirlCompiler, Method: "compile", Params: params(domain.TypeTwirlImports, domain.TypeTwirlFormat)},
		shared:   []string{"java.io", "java.lang"},
		formats:  defaultFormats(),
	}}
}

func (a TwirlV211) CreateCompileParameters(ctx context.Context, env compilerout.Environment, req domain.CompileRequest) ([]domain.Value, error) {
	args, err := requestFiles(ctx, env, req)
	if err != nil {
		return nil, err
	}
	imports, err := twirlImports(ctx, env, req.Imports)
	if err != nil {
		return nil, err
	}
	format, err := newObject(ctx, env, domain.TypeTwirlFormat,
		[]string{domain.TypeString, domain.TypeString, domain.TypeString},
		domain.StringValue(req.Format.ID),
		domain.StringValue(req.Format.FormatType),
		domain.StringValue(importLines(req.Format.Imports)),
	)
	if err != nil {
		return nil, err
	}
	return append(args, imports, format), nil
}

// TwirlV212 drives twirl-compiler 1.4.x, whose format carries an
// inclusiveDot flag and whose compile method takes an explicit codec.
type TwirlV212 struct{ adapterBase }

const defaultCodec = "UTF-8"

func NewTwirlV212() TwirlV212 {
	return TwirlV212{adapterBase{
		version:  "2.12",
		notation: "com.typesafe.play:twirl-compiler_2.12:1.4.2",
		method:   domain.MethodSignature{Class: domain.TypeTwirlCompiler, Method: "compile", Params: params(domain.TypeTwirlImports, domain.TypeTwirlFormat, domain.TypeCodec)},
		shared:   []string{"java.io", "java.lang", "scala.io"},
		formats:  defaultFormats(),
	}}
}

func (a TwirlV212) CreateCompileParameters(ctx context.Context, env compilerout.Environment, req domain.CompileRequest) ([]domain.Value, error) {
	args, err := requestFiles(ctx, env, req)
	if err != nil {
		return nil, err
	}
	imports, err := twirlImports(ctx, env, req.Imports)
	if err != nil {
		return nil, err
	}
	format, err := newObject(ctx, env, domain.TypeTwirlFormat,
		[]string{domain.TypeString, domain.TypeString, domain.TypeString, domain.TypeBoolean},
		domain.StringValue(req.Format.ID),
		domain.StringValue(req.Format.FormatType),
		domain.StringValue(importLines(req.Format.Imports)),
		domain.BoolValue(false),
	)
	if err != nil {
		return nil, err
	}
	codec, err := callFactory(ctx, env, domain.MethodSignature{
		Class:  domain.TypeCodec,
		Method: "apply",
		Params: []string{domain.TypeString},
	}, domain.StringValue(defaultCodec))
	if err != nil {
		return nil, err
	}
	return append(args, imports, format, codec), nil
}
