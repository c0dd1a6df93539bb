package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Imports selects the default import set handed to generated templates.
type Imports string

const (
	ImportsJava  Imports = "JAVA"
	ImportsScala Imports = "SCALA"
)

const formatPlaceholder = "%format%"

var defaultScalaImports = []string{
	"models._",
	"controllers._",
	"play.api.i18n._",
	"views.%format%._",
	"play.api.templates.PlayMagic._",
	"play.api.mvc._",
	"play.api.data._",
}

var defaultJavaImports = []string{
	"models._",
	"controllers._",
	"java.lang._",
	"java.util._",
	"scala.collection.JavaConverters._",
	"play.api.i18n._",
	"play.core.j.PlayMagicForJava._",
	"play.mvc._",
	"play.data._",
	"play.api.data.Field",
	"play.mvc.Http.Context.Implicit._",
	"views.%format%._",
}

func ParseImports(raw string) (Imports, error) {
	i := Imports(strings.ToUpper(strings.TrimSpace(raw)))
	if err := i.Validate(); err != nil {
		return "", err
	}
	return i, nil
}

func (i Imports) Validate() error {
	switch i {
	case ImportsJava, ImportsScala:
		return nil
	default:
		return fmt.Errorf("unknown imports: %q", string(i))
	}
}

// Defaults returns the import lines for the given format suffix (e.g. "html").
func (i Imports) Defaults(formatSuffix string) []string {
	src := defaultScalaImports
	if i == ImportsJava {
		src = defaultJavaImports
	}
	out := make([]string, 0, len(src))
	for _, line := range src {
		out = append(out, strings.ReplaceAll(line, formatPlaceholder, formatSuffix))
	}
	return out
}

// TemplateFormat pairs a file extension with a compiler format identifier.
type TemplateFormat struct {
	Extension  string   `json:"extension"`
	ID         string   `json:"id"`
	FormatType string   `json:"format_type"`
	Imports    []string `json:"imports,omitempty"`
}

func (f TemplateFormat) Validate() error {
	if !strings.HasPrefix(f.Extension, ".") {
		return fmt.Errorf("template format extension %q must start with '.'", f.Extension)
	}
	if f.ID == "" {
		return fmt.Errorf("template format id is required")
	}
	if f.FormatType == "" {
		return fmt.Errorf("template format %s: no built-in formatter for %q, format type is required", f.ID, f.Suffix())
	}
	return nil
}

// Normalize fills an empty format type with the built-in formatter for the
// id's suffix. Zero formats and unknown suffixes are returned unchanged.
func (f TemplateFormat) Normalize() TemplateFormat {
	if f.FormatType == "" && f.ID != "" {
		f.FormatType = formatTypes[f.Suffix()]
	}
	return f
}

func (f TemplateFormat) IsZero() bool {
	return f.Extension == "" && f.ID == "" && f.FormatType == ""
}

// Suffix is the last dot segment of the format id: "scala.html" -> "html".
func (f TemplateFormat) Suffix() string {
	if idx := strings.LastIndex(f.ID, "."); idx >= 0 {
		return f.ID[idx+1:]
	}
	return f.ID
}

func (f TemplateFormat) Matches(path string) bool {
	return strings.HasSuffix(filepath.Base(path), f.Extension)
}

// MatchFormat returns the first format whose extension matches path.
func MatchFormat(formats []TemplateFormat, path string) (TemplateFormat, bool) {
	for _, f := range formats {
		if f.Matches(path) {
			return f, true
		}
	}
	return TemplateFormat{}, false
}

func HTMLFormat() TemplateFormat {
	return TemplateFormat{Extension: ".scala.html", ID: "scala.html", FormatType: "play.twirl.api.HtmlFormat"}
}

func TxtFormat() TemplateFormat {
	return TemplateFormat{Extension: ".scala.txt", ID: "scala.txt", FormatType: "play.twirl.api.TxtFormat"}
}

func XMLFormat() TemplateFormat {
	return TemplateFormat{Extension: ".scala.xml", ID: "scala.xml", FormatType: "play.twirl.api.XmlFormat"}
}

func JavaScriptFormat() TemplateFormat {
	return TemplateFormat{Extension: ".scala.js", ID: "scala.js", FormatType: "play.twirl.api.JavaScriptFormat"}
}

var formatTypes = map[string]string{
	"html": "play.twirl.api.HtmlFormat",
	"txt":  "play.twirl.api.TxtFormat",
	"xml":  "play.twirl.api.XmlFormat",
	"js":   "play.twirl.api.JavaScriptFormat",
}

// ParseTemplateFormat reads "extension:id[:formatType]". The format type
// defaults to the built-in formatter for the id's suffix.
func ParseTemplateFormat(raw string) (TemplateFormat, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TemplateFormat{}, fmt.Errorf("template format %q must be extension:id[:formatType]", raw)
	}
	f := TemplateFormat{Extension: parts[0], ID: parts[1]}
	if len(parts) == 3 {
		f.FormatType = parts[2]
	}
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return TemplateFormat{}, err
	}
	return f, nil
}
