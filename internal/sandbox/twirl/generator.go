package twirl

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"twirlhost/internal/sandbox"
)

const templateMarker = ".scala."

// template is one compile job as the compiler sees it, after argument
// unpacking.
type template struct {
	source      string
	sourceRoot  string
	destination string
	formatter   string
	imports     []string
	codec       string
}

// generate renders the template source into
// <destination>/<rel dir>/<format>/<name>.template.scala. It returns the
// written file, or ok=false when the existing output is already current.
func (t template) generate() (string, bool, error) {
	rel, err := filepath.Rel(t.sourceRoot, t.source)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false, sandbox.Throw("java.lang.IllegalArgumentException", "%s is not under %s", t.source, t.sourceRoot)
	}
	base := filepath.Base(rel)
	idx := strings.Index(base, templateMarker)
	if idx <= 0 {
		return "", false, sandbox.Throw("java.lang.IllegalArgumentException", "%s is not a template file", base)
	}
	name := base[:idx]
	suffix := base[idx+len(templateMarker):]
	if suffix == "" || strings.Contains(suffix, ".") {
		return "", false, sandbox.Throw("java.lang.IllegalArgumentException", "%s has no format extension", base)
	}
	if _, ok := formatters[t.formatter]; !ok {
		return "", false, sandbox.Throw("java.lang.ClassNotFoundException", "%s", t.formatter)
	}

	raw, err := os.ReadFile(t.source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, sandbox.Throw("java.io.FileNotFoundException", "%s (No such file or directory)", t.source)
		}
		return "", false, sandbox.Throw("java.io.IOException", "%v", err)
	}
	body, err := decode(raw, t.codec)
	if err != nil {
		return "", false, err
	}

	dir := filepath.Dir(rel)
	pkg := suffix
	if dir != "." {
		pkg = strings.ReplaceAll(filepath.ToSlash(dir), "/", ".") + "." + suffix
	}
	content := t.render(filepath.ToSlash(rel), pkg, name, body, raw)

	out := filepath.Join(t.destination, dir, suffix, name+".template.scala")
	abs, err := filepath.Abs(out)
	if err != nil {
		return "", false, sandbox.Throw("java.io.IOException", "%v", err)
	}
	if existing, err := os.ReadFile(abs); err == nil && bytes.Equal(existing, content) {
		return abs, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", false, sandbox.Throw("java.io.IOException", "%v", err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return "", false, sandbox.Throw("java.io.IOException", "%v", err)
	}
	return abs, true, nil
}

func (t template) render(rel, pkg, name, body string, raw []byte) []byte {
	sum := sha1.Sum(raw)
	appendable := t.formatter + ".Appendable"

	var b strings.Builder
	b.WriteString("// @SOURCE:" + rel + "\n")
	b.WriteString("// @HASH:" + hex.EncodeToString(sum[:]) + "\n")
	if t.codec != "" {
		b.WriteString("// @CODEC:" + t.codec + "\n")
	}
	b.WriteString("package " + pkg + "\n\n")
	for _, line := range t.imports {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "import ") {
			line = "import " + line
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")
	b.WriteString("object " + name + " extends play.twirl.api.BaseScalaTemplate[" + appendable + ", play.twirl.api.Format[" + appendable + "]](" + t.formatter + ") {\n")
	b.WriteString("  def apply(): " + appendable + " = _display_(format.raw(\"\"\"" + strings.ReplaceAll(body, `"""`, `\"\"\"`) + "\"\"\"))\n")
	b.WriteString("}\n")
	return []byte(b.String())
}

func decode(raw []byte, codec string) (string, error) {
	switch codec {
	case "", "UTF-8":
		if !utf8.Valid(raw) {
			return "", sandbox.Throw("java.nio.charset.MalformedInputException", "input is not valid UTF-8")
		}
		return string(raw), nil
	case "US-ASCII":
		for _, c := range raw {
			if c > 0x7f {
				return "", sandbox.Throw("java.nio.charset.MalformedInputException", "input is not US-ASCII")
			}
		}
		return string(raw), nil
	case "ISO-8859-1":
		runes := make([]rune, len(raw))
		for i, c := range raw {
			runes[i] = rune(c)
		}
		return string(runes), nil
	default:
		return "", sandbox.Throw("java.nio.charset.UnsupportedCharsetException", "%s", codec)
	}
}
