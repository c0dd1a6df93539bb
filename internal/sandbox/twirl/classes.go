// Package twirl provides sandbox class tables for the twirl-compiler
// releases twirlhost can drive.
package twirl

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"twirlhost/internal/sandbox"
)

const (
	TypeCompiler = "play.twirl.compiler.TwirlCompiler"
	TypeImports  = "play.twirl.compiler.TwirlImports"
	TypeFormat   = "play.twirl.compiler.TwirlTemplateFormat"
	TypeOption   = "scala.Option"

	CoordinateV210 = "com.typesafe.play:twirl-compiler_2.10:1.0.4"
	CoordinateV211 = "com.typesafe.play:twirl-compiler_2.11:1.3.13"
	CoordinateV212 = "com.typesafe.play:twirl-compiler_2.12:1.4.2"
)

// formatters maps formatter classes to their content types.
var formatters = map[string]string{
	"play.twirl.api.HtmlFormat":       "text/html",
	"play.twirl.api.TxtFormat":        "text/plain",
	"play.twirl.api.XmlFormat":        "application/xml",
	"play.twirl.api.JavaScriptFormat": "application/javascript",
}

var importSets = map[string][]string{
	"SCALA": {"play.twirl.api.TwirlFeatureImports._", "play.twirl.api.TwirlHelperImports._"},
	"JAVA":  {"play.twirl.api.TwirlFeatureImports._", "play.twirl.api.TwirlHelperImports._", "java.lang._", "java.util._"},
}

type templateFormat struct {
	id           string
	formatter    string
	imports      string
	inclusiveDot bool
}

// New returns the runtime for coordinate.
func New(coordinate string) (*sandbox.Runtime, error) {
	switch coordinate {
	case CoordinateV210:
		return V210(), nil
	case CoordinateV211:
		return V211(), nil
	case CoordinateV212:
		return V212(), nil
	default:
		return nil, fmt.Errorf("no twirl runtime for %s", coordinate)
	}
}

// V210 has a string-typed compile method taking the formatter class and
// the import block.
func V210() *sandbox.Runtime {
	compiler := &sandbox.Class{
		Name: TypeCompiler,
		Methods: []sandbox.Method{{
			Name:    "compile",
			Params:  []string{sandbox.TypeFile, sandbox.TypeFile, sandbox.TypeFile, sandbox.TypeString, sandbox.TypeString},
			Returns: TypeOption,
			Static:  true,
			Call: func(_ context.Context, _ sandbox.Object, args []sandbox.Object) (sandbox.Object, error) {
				return run(template{
					source:      sandbox.PathOf(args[0]),
					sourceRoot:  sandbox.PathOf(args[1]),
					destination: sandbox.PathOf(args[2]),
					formatter:   sandbox.StringOf(args[3]),
					imports:     strings.Split(sandbox.StringOf(args[4]), "\n"),
				})
			},
		}},
	}
	return sandbox.NewRuntime(CoordinateV210, append(common(), compiler)...)
}

func V211() *sandbox.Runtime {
	params := []string{sandbox.TypeFile, sandbox.TypeFile, sandbox.TypeFile, TypeImports, TypeFormat}
	compiler := &sandbox.Class{
		Name: TypeCompiler,
		Methods: []sandbox.Method{{
			Name:    "compile",
			Params:  params,
			Returns: TypeOption,
			Static:  true,
			Call: func(_ context.Context, _ sandbox.Object, args []sandbox.Object) (sandbox.Object, error) {
				return run(objectTemplate(args, ""))
			},
		}},
	}
	format := formatClass([]string{sandbox.TypeString, sandbox.TypeString, sandbox.TypeString})
	return sandbox.NewRuntime(CoordinateV211, append(common(), compiler, importsClass(), format)...)
}

// V212 adds the inclusiveDot flag to formats and an explicit codec to compile.
func V212() *sandbox.Runtime {
	params := []string{sandbox.TypeFile, sandbox.TypeFile, sandbox.TypeFile, TypeImports, TypeFormat, sandbox.TypeCodec}
	compiler := &sandbox.Class{
		Name: TypeCompiler,
		Methods: []sandbox.Method{{
			Name:    "compile",
			Params:  params,
			Returns: TypeOption,
			Static:  true,
			Call: func(_ context.Context, _ sandbox.Object, args []sandbox.Object) (sandbox.Object, error) {
				return run(objectTemplate(args, sandbox.StringOf(args[5])))
			},
		}},
	}
	format := formatClass([]string{sandbox.TypeString, sandbox.TypeString, sandbox.TypeString, sandbox.TypeBoolean})
	return sandbox.NewRuntime(CoordinateV212, append(common(), compiler, importsClass(), format)...)
}

func objectTemplate(args []sandbox.Object, codec string) template {
	kind, _ := args[3].Value.(string)
	format, _ := args[4].Value.(templateFormat)
	imports := append([]string{}, importSets[kind]...)
	imports = append(imports, strings.Split(format.imports, "\n")...)
	return template{
		source:      sandbox.PathOf(args[0]),
		sourceRoot:  sandbox.PathOf(args[1]),
		destination: sandbox.PathOf(args[2]),
		formatter:   format.formatter,
		imports:     imports,
		codec:       codec,
	}
}

func run(t template) (sandbox.Object, error) {
	path, changed, err := t.generate()
	if err != nil {
		return sandbox.Null, err
	}
	if !changed {
		return none(), nil
	}
	return some(sandbox.FileObject(path)), nil
}

// common lists the classes shared by every release: scala.Option and the
// formatter types.
func common() []*sandbox.Class {
	classes := []*sandbox.Class{optionClass()}
	names := make([]string, 0, len(formatters))
	for name := range formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		contentType := formatters[name]
		classes = append(classes, &sandbox.Class{
			Name: name,
			Methods: []sandbox.Method{{
				Name:    "contentType",
				Returns: sandbox.TypeString,
				Static:  true,
				Call: func(context.Context, sandbox.Object, []sandbox.Object) (sandbox.Object, error) {
					return sandbox.Str(contentType), nil
				},
			}},
		})
	}
	return classes
}

type option struct {
	value *sandbox.Object
}

func some(v sandbox.Object) sandbox.Object {
	return sandbox.Object{Type: TypeOption, Value: option{value: &v}}
}

func none() sandbox.Object {
	return sandbox.Object{Type: TypeOption, Value: option{}}
}

func optionClass() *sandbox.Class {
	get := func(self sandbox.Object) option {
		o, _ := self.Value.(option)
		return o
	}
	return &sandbox.Class{
		Name: TypeOption,
		Methods: []sandbox.Method{
			{Name: "isDefined", Returns: sandbox.TypeBoolean, Call: func(_ context.Context, self sandbox.Object, _ []sandbox.Object) (sandbox.Object, error) {
				return sandbox.Bool(get(self).value != nil), nil
			}},
			{Name: "isEmpty", Returns: sandbox.TypeBoolean, Call: func(_ context.Context, self sandbox.Object, _ []sandbox.Object) (sandbox.Object, error) {
				return sandbox.Bool(get(self).value == nil), nil
			}},
			{Name: "get", Returns: sandbox.TypeObject, Call: func(_ context.Context, self sandbox.Object, _ []sandbox.Object) (sandbox.Object, error) {
				o := get(self)
				if o.value == nil {
					return sandbox.Null, sandbox.Throw("java.util.NoSuchElementException", "None.get")
				}
				return *o.value, nil
			}},
		},
	}
}

func importsClass() *sandbox.Class {
	return &sandbox.Class{
		Name: TypeImports,
		Methods: []sandbox.Method{{
			Name:    "valueOf",
			Params:  []string{sandbox.TypeString},
			Returns: TypeImports,
			Static:  true,
			Call: func(_ context.Context, _ sandbox.Object, args []sandbox.Object) (sandbox.Object, error) {
				name := sandbox.StringOf(args[0])
				if _, ok := importSets[name]; !ok {
					return sandbox.Null, sandbox.Throw("java.lang.IllegalArgumentException", "No enum constant %s.%s", TypeImports, name)
				}
				return sandbox.Object{Type: TypeImports, Value: name}, nil
			},
		}},
	}
}

func formatClass(params []string) *sandbox.Class {
	return &sandbox.Class{
		Name: TypeFormat,
		Constructors: []sandbox.Constructor{{
			Params: params,
			New: func(_ context.Context, args []sandbox.Object) (sandbox.Object, error) {
				f := templateFormat{
					id:        sandbox.StringOf(args[0]),
					formatter: sandbox.StringOf(args[1]),
					imports:   sandbox.StringOf(args[2]),
				}
				if len(args) > 3 {
					f.inclusiveDot = sandbox.BoolOf(args[3])
				}
				if f.id == "" {
					return sandbox.Null, sandbox.Throw("java.lang.IllegalArgumentException", "format id is empty")
				}
				return sandbox.Object{Type: TypeFormat, Value: f}, nil
			},
		}},
		Methods: []sandbox.Method{
			{Name: "id", Returns: sandbox.TypeString, Call: func(_ context.Context, self sandbox.Object, _ []sandbox.Object) (sandbox.Object, error) {
				f, _ := self.Value.(templateFormat)
				return sandbox.Str(f.id), nil
			}},
			{Name: "formatterType", Returns: sandbox.TypeString, Call: func(_ context.Context, self sandbox.Object, _ []sandbox.Object) (sandbox.Object, error) {
				f, _ := self.Value.(templateFormat)
				return sandbox.Str(f.formatter), nil
			}},
		},
	}
}
