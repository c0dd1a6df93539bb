package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twirlhost/internal/modules/compiler/domain"
	"twirlhost/internal/modules/compiler/service"
	"twirlhost/internal/platform/clock"
)

func newService(provider *runtimeProvider, ledger *memLedger, artifacts stubArtifacts) *service.CompilerService {
	return service.NewCompilerService(
		service.DefaultRegistry(),
		artifacts,
		provider,
		ledger,
		nil,
		clock.Fixed(time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)),
		&seqIDs{},
		nil,
	)
}

func TestCompileV211WritesTemplate(t *testing.T) {
	t.Parallel()
	sourceRoot, dest, paths := layout(t, "index.scala.html")
	provider := newRuntimeProvider()
	ledger := &memLedger{}
	svc := newService(provider, ledger, stubArtifacts{})

	result, err := svc.Compile(context.Background(), "2.11", domain.CompileRequest{
		SourceFile:      paths[0],
		SourceRoot:      sourceRoot,
		DestinationRoot: dest,
		Imports:         domain.ImportsScala,
	})
	require.NoError(t, err)
	assert.Equal(t, "inv-1", result.InvocationID)
	assert.Equal(t, "2.11", result.Version)
	assert.Equal(t, "com.typesafe.play:twirl-compiler_2.11:1.3.13", result.Coordinate)
	assert.True(t, result.Changed)
	assert.Equal(t, filepath.Join(dest, "views", "html", "index.template.scala"), result.Output)

	assert.Equal(t, []string{"java.io", "java.lang"}, provider.shared[result.Coordinate])
	assert.True(t, provider.allClosed(), "environment lease must be released")

	require.Len(t, ledger.entries, 1)
	entry := ledger.entries[0]
	assert.Equal(t, domain.LedgerStatusOK, entry.Status)
	assert.Equal(t, "scala.html", entry.Format)
	assert.Equal(t, "SCALA", entry.Imports)

	again, err := svc.Compile(context.Background(), "com.typesafe.play:twirl-compiler_2.11:1.3.13", domain.CompileRequest{
		SourceFile:      paths[0],
		SourceRoot:      sourceRoot,
		DestinationRoot: dest,
		Imports:         domain.ImportsScala,
	})
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Empty(t, again.Output)
}

func TestCompileEveryVersion(t *testing.T) {
	t.Parallel()
	for _, version := range []string{"2.10", "2.11", "2.12"} {
		t.Run(version, func(t *testing.T) {
			t.Parallel()
			sourceRoot, dest, paths := layout(t, "mail.scala.txt")
			svc := newService(newRuntimeProvider(), &memLedger{}, stubArtifacts{})
			result, err := svc.Compile(context.Background(), version, domain.CompileRequest{
				SourceFile:      paths[0],
				SourceRoot:      sourceRoot,
				DestinationRoot: dest,
				Imports:         domain.ImportsJava,
			})
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dest, "views", "txt", "mail.template.scala"), result.Output)
		})
	}
}

func TestCompileUnsupportedVersionCreatesNoEnvironment(t *testing.T) {
	t.Parallel()
	provider := newRuntimeProvider()
	ledger := &memLedger{}
	svc := newService(provider, ledger, stubArtifacts{})

	_, err := svc.Compile(context.Background(), "2.13", domain.CompileRequest{})
	require.ErrorIs(t, err, domain.ErrUnsupportedVersion)
	var unsupported *domain.UnsupportedVersionError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, []string{"2.10", "2.11", "2.12"}, unsupported.Supported)
	assert.Zero(t, provider.count())
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, domain.LedgerStatusFailed, ledger.entries[0].Status)
}

func TestCompileWithoutMatchingFormat(t *testing.T) {
	t.Parallel()
	sourceRoot, dest, paths := layout(t, "index.html")
	provider := newRuntimeProvider()
	svc := newService(provider, &memLedger{}, stubArtifacts{})

	_, err := svc.Compile(context.Background(), "2.11", domain.CompileRequest{
		SourceFile:      paths[0],
		SourceRoot:      sourceRoot,
		DestinationRoot: dest,
		Imports:         domain.ImportsScala,
	})
	require.ErrorIs(t, err, domain.ErrNoTemplateFormat)
	assert.Zero(t, provider.count())
}

func TestCompileSurfacesRemoteException(t *testing.T) {
	t.Parallel()
	sourceRoot, dest, _ := layout(t)
	provider := newRuntimeProvider()
	svc := newService(provider, &memLedger{}, stubArtifacts{})

	_, err := svc.Compile(context.Background(), "2.12", domain.CompileRequest{
		SourceFile:      filepath.Join(sourceRoot, "views", "missing.scala.html"),
		SourceRoot:      sourceRoot,
		DestinationRoot: dest,
		Imports:         domain.ImportsScala,
	})
	require.ErrorIs(t, err, domain.ErrInvocation)
	var remote *domain.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "java.io.FileNotFoundException", remote.Type)
	assert.True(t, provider.allClosed())
}

func TestCompileCustomFormatWithUnknownFormatterFails(t *testing.T) {
	t.Parallel()
	sourceRoot, dest, paths := layout(t, "report.scala.csv")
	svc := newService(newRuntimeProvider(), &memLedger{}, stubArtifacts{})

	_, err := svc.Compile(context.Background(), "2.11", domain.CompileRequest{
		SourceFile:      paths[0],
		SourceRoot:      sourceRoot,
		DestinationRoot: dest,
		Imports:         domain.ImportsScala,
		Format:          domain.TemplateFormat{Extension: ".scala.csv", ID: "scala.csv", FormatType: "com.acme.CsvFormat"},
	})
	var remote *domain.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "java.lang.ClassNotFoundException", remote.Type)
}

func TestDiscoverAndCompileAll(t *testing.T) {
	t.Parallel()
	sourceRoot, dest, _ := layout(t, "b.scala.html", "a.scala.txt", "notes.md")
	svc := newService(newRuntimeProvider(), &memLedger{}, stubArtifacts{})

	reqs, err := svc.Discover("2.11", sourceRoot, dest, domain.ImportsScala)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "a.scala.txt", filepath.Base(reqs[0].SourceFile))
	assert.Equal(t, "scala.txt", reqs[0].Format.ID)
	assert.Equal(t, "scala.html", reqs[1].Format.ID)

	var reported atomic.Int32
	items, err := svc.CompileAll(context.Background(), "2.11", reqs, 2, func(service.BatchItem) { reported.Add(1) })
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.EqualValues(t, 2, reported.Load())
	for i, item := range items {
		assert.Equal(t, reqs[i].SourceFile, item.Request.SourceFile)
		assert.True(t, item.Result.Changed)
	}
}

func TestCompileAllJoinsFailures(t *testing.T) {
	t.Parallel()
	sourceRoot, dest, paths := layout(t, "ok.scala.html")
	svc := newService(newRuntimeProvider(), &memLedger{}, stubArtifacts{})
	reqs := []domain.CompileRequest{
		{SourceFile: paths[0], SourceRoot: sourceRoot, DestinationRoot: dest, Imports: domain.ImportsScala},
		{SourceFile: filepath.Join(sourceRoot, "views", "gone.scala.html"), SourceRoot: sourceRoot, DestinationRoot: dest, Imports: domain.ImportsScala},
	}

	items, err := svc.CompileAll(context.Background(), "2.10", reqs, 0, nil)
	require.ErrorIs(t, err, domain.ErrInvocation)
	require.Len(t, items, 2)
	assert.NoError(t, items[0].Err)
	assert.Error(t, items[1].Err)
}

func TestDoctorReportsEveryAdapter(t *testing.T) {
	t.Parallel()
	svc := newService(newRuntimeProvider(), &memLedger{}, stubArtifacts{
		missing: map[string]bool{"com.typesafe.play:twirl-compiler_2.10:1.0.4": true},
	})

	reports := svc.Doctor(context.Background())
	require.Len(t, reports, 3)
	assert.Equal(t, "2.10", reports[0].Adapter.Version())
	assert.False(t, reports[0].ArtifactResolved)
	assert.True(t, errors.Is(reports[0].Err, domain.ErrDependencyResolution))
	for _, r := range reports[1:] {
		assert.True(t, r.ArtifactResolved, r.Adapter.Version())
		assert.True(t, r.EnvironmentOK, r.Adapter.Version())
		assert.True(t, r.MethodResolved, r.Adapter.Version())
		assert.NoError(t, r.Err)
	}
}

func TestHistoryReadsLedger(t *testing.T) {
	t.Parallel()
	ledger := &memLedger{}
	svc := newService(newRuntimeProvider(), ledger, stubArtifacts{})
	_, _ = svc.Compile(context.Background(), "9.9", domain.CompileRequest{SourceFile: "a"})
	_, _ = svc.Compile(context.Background(), "9.8", domain.CompileRequest{SourceFile: "b"})

	entries, err := svc.History(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].SourceFile)
	assert.Equal(t, "inv-2", entries[0].ID)
}

func TestCompileExplicitFormatUsesBuiltInFormatter(t *testing.T) {
	t.Parallel()
	sourceRoot, dest, paths := layout(t, "index.scala.html")
	provider := newRuntimeProvider()
	svc := newService(provider, &memLedger{}, stubArtifacts{})

	result, err := svc.Compile(context.Background(), "2.11", domain.CompileRequest{
		SourceFile:      paths[0],
		SourceRoot:      sourceRoot,
		DestinationRoot: dest,
		Imports:         domain.ImportsScala,
		Format:          domain.TemplateFormat{Extension: ".scala.html", ID: "scala.html"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "views", "html", "index.template.scala"), result.Output)

	want := service.NewTwirlV211().CompileMethod()
	calls := provider.env(0).calls(want.Method)
	require.Len(t, calls, 1)
	assert.Equal(t, want, calls[0].sig)
	assert.Equal(t, 5, calls[0].args)
}

func TestCompileReleasesInvocationObjects(t *testing.T) {
	t.Parallel()
	for _, version := range []string{"2.10", "2.11", "2.12"} {
		t.Run(version, func(t *testing.T) {
			t.Parallel()
			sourceRoot, dest, paths := layout(t, "index.scala.html")
			provider := newRuntimeProvider()
			svc := newService(provider, &memLedger{}, stubArtifacts{})
			req := domain.CompileRequest{SourceFile: paths[0], SourceRoot: sourceRoot, DestinationRoot: dest, Imports: domain.ImportsScala}

			for i := 0; i < 2; i++ {
				_, err := svc.Compile(context.Background(), version, req)
				require.NoError(t, err)
				assert.Zero(t, provider.env(i).rt.HeapSize(), "compile %d left objects behind", i+1)
			}

			missing := req
			missing.SourceFile = filepath.Join(sourceRoot, "views", "gone.scala.html")
			_, err := svc.Compile(context.Background(), version, missing)
			require.Error(t, err)
			assert.Zero(t, provider.env(2).rt.HeapSize(), "failed compile left objects behind")
		})
	}
}

func TestCompileRecordsCancelledInvocation(t *testing.T) {
	t.Parallel()
	sourceRoot, dest, paths := layout(t, "index.scala.html")
	ledger := &memLedger{}
	svc := newService(newRuntimeProvider(), ledger, stubArtifacts{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = svc.Compile(ctx, "2.11", domain.CompileRequest{
		SourceFile:      paths[0],
		SourceRoot:      sourceRoot,
		DestinationRoot: dest,
		Imports:         domain.ImportsScala,
	})
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, "inv-1", ledger.entries[0].ID)
}

func receiveItem(t *testing.T, results <-chan service.BatchItem) service.BatchItem {
	t.Helper()
	select {
	case item := <-results:
		return item
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a compile result")
		return service.BatchItem{}
	}
}

func TestWatchCompilesThenRecompilesMatchingChanges(t *testing.T) {
	t.Parallel()
	sourceRoot, dest, paths := layout(t, "index.scala.html")
	notes := filepath.Join(sourceRoot, "views", "notes.md")
	watcher := scriptedWatcher{
		before: func() {
			_ = os.WriteFile(paths[0], []byte("<p>edited</p>"), 0o644)
			_ = os.WriteFile(notes, []byte("# notes"), 0o644)
		},
		paths: []string{notes, paths[0]},
	}
	svc := service.NewCompilerService(service.DefaultRegistry(), stubArtifacts{}, newRuntimeProvider(), &memLedger{}, watcher,
		clock.SystemClock{}, &seqIDs{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := make(chan service.BatchItem, 4)
	done := make(chan error, 1)
	go func() {
		done <- svc.Watch(ctx, "2.11", sourceRoot, dest, domain.ImportsScala, 2, results)
	}()

	initial := receiveItem(t, results)
	require.NoError(t, initial.Err)
	assert.Equal(t, paths[0], initial.Request.SourceFile)
	assert.True(t, initial.Result.Changed)

	again := receiveItem(t, results)
	require.NoError(t, again.Err)
	assert.Equal(t, paths[0], again.Request.SourceFile, "non-template change must be skipped")
	assert.Equal(t, "scala.html", again.Request.Format.ID)
	assert.True(t, again.Result.Changed, "edited template is regenerated")
	assert.Equal(t, filepath.Join(dest, "views", "html", "index.template.scala"), again.Result.Output)

	select {
	case extra := <-results:
		t.Fatalf("unexpected result for %s", extra.Request.SourceFile)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not return after cancel")
	}
}
