package out

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"twirlhost/internal/modules/compiler/domain"
	compilerout "twirlhost/internal/modules/compiler/port/out"
	apperrors "twirlhost/internal/platform/errors"
)

var errChecksumMismatch = errors.New("checksum mismatch")

type artifactManifest struct {
	Artifacts []domain.Artifact `yaml:"artifacts"`
}

// FileArtifactStore reads artifact bindings from a YAML manifest.
type FileArtifactStore struct {
	path    string
	baseDir string
}

// NewFileArtifactStore reads path; relative binaries resolve against baseDir.
func NewFileArtifactStore(path, baseDir string) *FileArtifactStore {
	return &FileArtifactStore{path: path, baseDir: baseDir}
}

var _ compilerout.ArtifactResolver = (*FileArtifactStore)(nil)

func (s *FileArtifactStore) Load(_ context.Context) ([]domain.Artifact, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Artifact{}, nil
		}
		return nil, fmt.Errorf("read artifact manifest: %w", err)
	}
	var manifest artifactManifest
	decoder := yaml.NewDecoder(bytes.NewReader(b))
	decoder.KnownFields(true)
	if err := decoder.Decode(&manifest); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode artifact manifest: %w", err)
	}
	seen := make(map[string]bool, len(manifest.Artifacts))
	for i := range manifest.Artifacts {
		a := &manifest.Artifacts[i]
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("artifact %d: %w", i, err)
		}
		if seen[a.Coordinate] {
			return nil, fmt.Errorf("duplicate artifact: %s", a.Coordinate)
		}
		seen[a.Coordinate] = true
		if !filepath.IsAbs(a.Binary) {
			a.Binary = filepath.Clean(filepath.Join(s.baseDir, a.Binary))
		}
	}
	return manifest.Artifacts, nil
}

// Resolve finds the artifact bound to coordinate and verifies its binary.
func (s *FileArtifactStore) Resolve(ctx context.Context, coordinate domain.Coordinate) (domain.Artifact, error) {
	fail := func(err error) (domain.Artifact, error) {
		return domain.Artifact{}, &domain.DependencyResolutionError{Coordinate: coordinate.String(), Cause: err}
	}
	artifacts, err := s.Load(ctx)
	if err != nil {
		return fail(err)
	}
	for _, a := range artifacts {
		if a.Coordinate != coordinate.String() {
			continue
		}
		if err := checksumMatches(a.Binary, a.SHA256); err != nil {
			return fail(err)
		}
		return a, nil
	}
	return fail(fmt.Errorf("%w: no artifact registered in %s", apperrors.ErrNotFound, s.path))
}

func checksumMatches(path, expected string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact binary: %w", err)
	}
	hash := sha256.Sum256(payload)
	if hex.EncodeToString(hash[:]) != expected {
		return fmt.Errorf("%w: %s", errChecksumMismatch, filepath.Base(path))
	}
	return nil
}
