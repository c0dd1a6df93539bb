package twirl

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twirlhost/internal/sandbox"
)

func writeTemplate(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func exceptionType(t *testing.T, err error) string {
	t.Helper()
	var exc *sandbox.Exception
	require.True(t, errors.As(err, &exc), "expected exception, got %v", err)
	return exc.Type
}

func TestGenerateWritesPackagedScalaSource(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	sourceRoot := filepath.Join(root, "app")
	source := filepath.Join(sourceRoot, "views", "index.scala.html")
	dest := filepath.Join(root, "target")
	writeTemplate(t, source, "<h1>Hello</h1>")

	tpl := template{
		source:      source,
		sourceRoot:  sourceRoot,
		destination: dest,
		formatter:   "play.twirl.api.HtmlFormat",
		imports:     []string{"models._", "import controllers._", ""},
		codec:       "UTF-8",
	}
	out, changed, err := tpl.generate()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, filepath.Join(dest, "views", "html", "index.template.scala"), out)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	content := string(raw)
	assert.True(t, strings.HasPrefix(content, "// @SOURCE:views/index.scala.html\n"))
	assert.Contains(t, content, "// @CODEC:UTF-8\n")
	assert.Contains(t, content, "package views.html\n")
	assert.Contains(t, content, "import models._\n")
	assert.Contains(t, content, "import controllers._\n")
	assert.NotContains(t, content, "import import")
	assert.Contains(t, content, "object index extends play.twirl.api.BaseScalaTemplate[play.twirl.api.HtmlFormat.Appendable")
	assert.Contains(t, content, "<h1>Hello</h1>")

	again, changed, err := tpl.generate()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, out, again)

	writeTemplate(t, source, "<h1>Bye</h1>")
	_, changed, err = tpl.generate()
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestGenerateTopLevelTemplateUsesFormatPackage(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	source := filepath.Join(root, "notes.scala.txt")
	writeTemplate(t, source, "plain")

	out, _, err := template{source: source, sourceRoot: root, destination: filepath.Join(root, "out"), formatter: "play.twirl.api.TxtFormat"}.generate()
	require.NoError(t, err)
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "package txt\n")
	assert.NotContains(t, string(raw), "@CODEC")
}

func TestGenerateFailures(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	good := filepath.Join(root, "views", "index.scala.html")
	writeTemplate(t, good, "ok")
	latin := filepath.Join(root, "views", "latin.scala.html")
	writeTemplate(t, latin, "caf\xe9")

	tests := []struct {
		name string
		tpl  template
		want string
	}{
		{
			name: "outside source root",
			tpl:  template{source: filepath.Join(t.TempDir(), "x.scala.html"), sourceRoot: root, formatter: "play.twirl.api.HtmlFormat"},
			want: "java.lang.IllegalArgumentException",
		},
		{
			name: "not a template",
			tpl:  template{source: filepath.Join(root, "views", "index.html"), sourceRoot: root, formatter: "play.twirl.api.HtmlFormat"},
			want: "java.lang.IllegalArgumentException",
		},
		{
			name: "unknown formatter",
			tpl:  template{source: good, sourceRoot: root, formatter: "play.twirl.api.CsvFormat"},
			want: "java.lang.ClassNotFoundException",
		},
		{
			name: "missing source",
			tpl:  template{source: filepath.Join(root, "views", "gone.scala.html"), sourceRoot: root, formatter: "play.twirl.api.HtmlFormat"},
			want: "java.io.FileNotFoundException",
		},
		{
			name: "invalid utf-8",
			tpl:  template{source: latin, sourceRoot: root, formatter: "play.twirl.api.HtmlFormat", codec: "UTF-8"},
			want: "java.nio.charset.MalformedInputException",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.tpl.destination = filepath.Join(root, "target")
			_, _, err := tc.tpl.generate()
			assert.Equal(t, tc.want, exceptionType(t, err))
		})
	}
}

func TestDecodeLatin1(t *testing.T) {
	t.Parallel()
	got, err := decode([]byte("caf\xe9"), "ISO-8859-1")
	require.NoError(t, err)
	assert.Equal(t, "café", got)

	_, err = decode([]byte("caf\xe9"), "US-ASCII")
	assert.Equal(t, "java.nio.charset.MalformedInputException", exceptionType(t, err))
}
