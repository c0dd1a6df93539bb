package domain

import (
	"fmt"
	"strings"
)

// Type descriptors shared by the host and the sandboxes.
const (
	TypeString        = "java.lang.String"
	TypeBoolean       = "boolean"
	TypeFile          = "java.io.File"
	TypeOption        = "scala.Option"
	TypeCodec         = "scala.io.Codec"
	TypeTwirlCompiler = "play.twirl.compiler.TwirlCompiler"
	TypeTwirlImports  = "play.twirl.compiler.TwirlImports"
	TypeTwirlFormat   = "play.twirl.compiler.TwirlTemplateFormat"
)

// MethodSignature names a method by declaring class, name and ordered parameter types.
type MethodSignature struct {
	Class  string
	Method string
	Params []string
}

func (s MethodSignature) Validate() error {
	if s.Class == "" {
		return fmt.Errorf("declaring class is required")
	}
	if s.Method == "" {
		return fmt.Errorf("method name is required")
	}
	for i, p := range s.Params {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("parameter %d type is required", i)
		}
	}
	return nil
}

func (s MethodSignature) String() string {
	return s.Class + "." + s.Method + "(" + strings.Join(s.Params, ",") + ")"
}

// SameParams reports whether params equals the signature's parameters exactly.
func (s MethodSignature) SameParams(params []string) bool {
	return sameTypes(s.Params, params)
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

type MethodInfo struct {
	Name    string
	Params  []string
	Returns string
	Static  bool
}

func (m MethodInfo) Signature(class string) MethodSignature {
	return MethodSignature{Class: class, Method: m.Name, Params: m.Params}
}

// ClassInfo describes a class visible inside an environment.
type ClassInfo struct {
	Name         string
	Package      string
	Constructors [][]string
	Methods      []MethodInfo
}

func (c ClassInfo) HasConstructor(params []string) bool {
	for _, ctor := range c.Constructors {
		if sameTypes(ctor, params) {
			return true
		}
	}
	return false
}

// MethodHandle is a resolved method bound to one environment.
type MethodHandle struct {
	EnvironmentID string
	Coordinate    string
	Signature     MethodSignature
	Returns       string
	Static        bool
}

// Value is an argument or result living inside one environment.
// Literal values carry shared primitive types; everything else is a heap reference.
type Value struct {
	Environment string
	Type        string
	Ref         string
	Literal     string
}

func StringValue(s string) Value {
	return Value{Type: TypeString, Literal: s}
}

func BoolValue(b bool) Value {
	if b {
		return Value{Type: TypeBoolean, Literal: "true"}
	}
	return Value{Type: TypeBoolean, Literal: "false"}
}

func (v Value) IsRef() bool {
	return v.Ref != ""
}

func (v Value) IsNull() bool {
	return v.Type == "" && v.Ref == "" && v.Literal == ""
}

func (v Value) String() string {
	if v.IsRef() {
		return v.Type + "@" + v.Ref
	}
	return fmt.Sprintf("%s(%q)", v.Type, v.Literal)
}
