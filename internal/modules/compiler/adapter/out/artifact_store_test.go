package out_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	compileroutadapter "twirlhost/internal/modules/compiler/adapter/out"
	"twirlhost/internal/modules/compiler/domain"
	apperrors "twirlhost/internal/platform/errors"
)

const coordinate211 = "com.typesafe.play:twirl-compiler_2.11:1.3.13"

func writeBinary(t *testing.T, dir, name string, payload []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, payload, 0o755))
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func writeManifest(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestArtifactStoreResolvesRelativeBinary(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	sum := writeBinary(t, root, filepath.Join("bin", "twirl211"), []byte("sandbox"))
	manifest := filepath.Join(root, ".twirlhost", "artifacts.yaml")
	writeManifest(t, manifest, "artifacts:\n  - coordinate: "+coordinate211+"\n    binary: bin/twirl211\n    sha256: "+sum+"\n")

	store := compileroutadapter.NewFileArtifactStore(manifest, root)
	artifact, err := store.Resolve(context.Background(), domain.MustParseCoordinate(coordinate211))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "bin", "twirl211"), artifact.Binary)
	assert.Equal(t, sum, artifact.SHA256)
}

func TestArtifactStoreFailures(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	sum := writeBinary(t, root, "twirl211", []byte("sandbox"))
	ctx := context.Background()
	c := domain.MustParseCoordinate(coordinate211)

	t.Run("missing manifest", func(t *testing.T) {
		store := compileroutadapter.NewFileArtifactStore(filepath.Join(root, "absent.yaml"), root)
		artifacts, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, artifacts)
		_, err = store.Resolve(ctx, c)
		require.ErrorIs(t, err, domain.ErrDependencyResolution)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("empty manifest", func(t *testing.T) {
		path := filepath.Join(root, "empty.yaml")
		writeManifest(t, path, "")
		artifacts, err := compileroutadapter.NewFileArtifactStore(path, root).Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, artifacts)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		path := filepath.Join(root, "mismatch.yaml")
		writeManifest(t, path, "artifacts:\n  - coordinate: "+coordinate211+"\n    binary: twirl211\n    sha256: "+strings.Repeat("0", 64)+"\n")
		_, err := compileroutadapter.NewFileArtifactStore(path, root).Resolve(ctx, c)
		require.ErrorIs(t, err, domain.ErrDependencyResolution)
		assert.Contains(t, err.Error(), "checksum mismatch")
	})

	t.Run("missing binary", func(t *testing.T) {
		path := filepath.Join(root, "nobinary.yaml")
		writeManifest(t, path, "artifacts:\n  - coordinate: "+coordinate211+"\n    binary: gone\n    sha256: "+sum+"\n")
		_, err := compileroutadapter.NewFileArtifactStore(path, root).Resolve(ctx, c)
		var resolveErr *domain.DependencyResolutionError
		require.True(t, errors.As(err, &resolveErr))
		assert.Equal(t, coordinate211, resolveErr.Coordinate)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("unknown field", func(t *testing.T) {
		path := filepath.Join(root, "unknown.yaml")
		writeManifest(t, path, "artifacts:\n  - coordinate: "+coordinate211+"\n    binary: twirl211\n    sha256: "+sum+"\n    mirror: central\n")
		_, err := compileroutadapter.NewFileArtifactStore(path, root).Load(ctx)
		require.ErrorContains(t, err, "decode artifact manifest")
	})

	t.Run("duplicate coordinate", func(t *testing.T) {
		path := filepath.Join(root, "dup.yaml")
		entry := "  - coordinate: " + coordinate211 + "\n    binary: twirl211\n    sha256: " + sum + "\n"
		writeManifest(t, path, "artifacts:\n"+entry+entry)
		_, err := compileroutadapter.NewFileArtifactStore(path, root).Load(ctx)
		require.ErrorContains(t, err, "duplicate artifact")
	})

	t.Run("invalid coordinate", func(t *testing.T) {
		path := filepath.Join(root, "invalid.yaml")
		writeManifest(t, path, "artifacts:\n  - coordinate: twirl-compiler\n    binary: twirl211\n    sha256: "+sum+"\n")
		_, err := compileroutadapter.NewFileArtifactStore(path, root).Load(ctx)
		require.ErrorContains(t, err, "artifact 0")
	})
}
