package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	TypeFile  = "java.io.File"
	TypeCodec = "scala.io.Codec"
	typeHost  = "twirlhost.internal.Host"
)

// PlatformClasses are the host classes every runtime carries. They are
// reachable only through packages granted by Isolate.
func PlatformClasses() []*Class {
	return []*Class{stringClass(), fileClass(), codecClass(), hostClass()}
}

// FileObject wraps a path the way java.io.File does: unresolved until asked.
func FileObject(path string) Object {
	return Object{Type: TypeFile, Value: path}
}

func PathOf(obj Object) string {
	path, _ := obj.Value.(string)
	return path
}

func StringOf(obj Object) string {
	s, _ := obj.Value.(string)
	return s
}

func BoolOf(obj Object) bool {
	b, _ := obj.Value.(bool)
	return b
}

func stringClass() *Class {
	return &Class{
		Name: TypeString,
		Methods: []Method{
			{Name: "isEmpty", Returns: TypeBoolean, Call: func(_ context.Context, self Object, _ []Object) (Object, error) {
				return Bool(StringOf(self) == ""), nil
			}},
			{Name: "trim", Returns: TypeString, Call: func(_ context.Context, self Object, _ []Object) (Object, error) {
				return Str(strings.TrimSpace(StringOf(self))), nil
			}},
		},
	}
}

func fileClass() *Class {
	return &Class{
		Name: TypeFile,
		Constructors: []Constructor{
			{Params: []string{TypeString}, New: func(_ context.Context, args []Object) (Object, error) {
				return FileObject(StringOf(args[0])), nil
			}},
			{Params: []string{TypeFile, TypeString}, New: func(_ context.Context, args []Object) (Object, error) {
				return FileObject(filepath.Join(PathOf(args[0]), StringOf(args[1]))), nil
			}},
		},
		Methods: []Method{
			{Name: "getPath", Returns: TypeString, Call: func(_ context.Context, self Object, _ []Object) (Object, error) {
				return Str(PathOf(self)), nil
			}},
			{Name: "getName", Returns: TypeString, Call: func(_ context.Context, self Object, _ []Object) (Object, error) {
				return Str(filepath.Base(PathOf(self))), nil
			}},
			{Name: "getAbsolutePath", Returns: TypeString, Call: func(_ context.Context, self Object, _ []Object) (Object, error) {
				abs, err := filepath.Abs(PathOf(self))
				if err != nil {
					return Null, Throw("java.io.IOException", "%v", err)
				}
				return Str(abs), nil
			}},
			{Name: "exists", Returns: TypeBoolean, Call: func(_ context.Context, self Object, _ []Object) (Object, error) {
				_, err := os.Stat(PathOf(self))
				return Bool(err == nil), nil
			}},
		},
	}
}

var charsets = map[string]string{
	"utf-8":      "UTF-8",
	"utf8":       "UTF-8",
	"iso-8859-1": "ISO-8859-1",
	"latin1":     "ISO-8859-1",
	"us-ascii":   "US-ASCII",
}

func codecClass() *Class {
	return &Class{
		Name: TypeCodec,
		Methods: []Method{
			{Name: "apply", Params: []string{TypeString}, Returns: TypeCodec, Static: true, Call: func(_ context.Context, _ Object, args []Object) (Object, error) {
				name := StringOf(args[0])
				canonical, ok := charsets[strings.ToLower(name)]
				if !ok {
					return Null, Throw("java.nio.charset.UnsupportedCharsetException", "%s", name)
				}
				return Object{Type: TypeCodec, Value: canonical}, nil
			}},
			{Name: "name", Returns: TypeString, Call: func(_ context.Context, self Object, _ []Object) (Object, error) {
				return Str(StringOf(self)), nil
			}},
		},
	}
}

// hostClass exposes sandbox internals; it must stay hidden unless its
// package is explicitly shared.
func hostClass() *Class {
	return &Class{
		Name: typeHost,
		Methods: []Method{
			{Name: "pid", Returns: TypeString, Static: true, Call: func(_ context.Context, _ Object, _ []Object) (Object, error) {
				return Str(strconv.Itoa(os.Getpid())), nil
			}},
			{Name: "workingDirectory", Returns: TypeString, Static: true, Call: func(_ context.Context, _ Object, _ []Object) (Object, error) {
				wd, err := os.Getwd()
				if err != nil {
					return Null, Throw("java.io.IOException", "%v", err)
				}
				return Str(wd), nil
			}},
		},
	}
}
