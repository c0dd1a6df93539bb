package service

import (
	"fmt"
	"sort"
	"strings"

	"twirlhost/internal/modules/compiler/domain"
)

// Registry maps version keys and dependency notations to adapters.
// It is built once and only read afterwards.
type Registry struct {
	byVersion  map[string]VersionedAdapter
	byNotation map[string]VersionedAdapter
	versions   []string
}

func NewRegistry(adapters ...VersionedAdapter) (*Registry, error) {
	r := &Registry{
		byVersion:  make(map[string]VersionedAdapter, len(adapters)),
		byNotation: make(map[string]VersionedAdapter, len(adapters)),
	}
	for _, adapter := range adapters {
		version := adapter.Version()
		if version == "" {
			return nil, fmt.Errorf("adapter version is required")
		}
		if _, err := domain.ParseCoordinate(adapter.DependencyNotation()); err != nil {
			return nil, fmt.Errorf("adapter %s: %w", version, err)
		}
		if err := adapter.CompileMethod().Validate(); err != nil {
			return nil, fmt.Errorf("adapter %s: %w", version, err)
		}
		for _, f := range adapter.DefaultTemplateFormats() {
			if err := f.Validate(); err != nil {
				return nil, fmt.Errorf("adapter %s: %w", version, err)
			}
		}
		if _, ok := r.byVersion[version]; ok {
			return nil, fmt.Errorf("duplicate adapter version: %s", version)
		}
		if _, ok := r.byNotation[adapter.DependencyNotation()]; ok {
			return nil, fmt.Errorf("duplicate adapter notation: %s", adapter.DependencyNotation())
		}
		r.byVersion[version] = adapter
		r.byNotation[adapter.DependencyNotation()] = adapter
		r.versions = append(r.versions, version)
	}
	sort.Strings(r.versions)
	return r, nil
}

// DefaultRegistry holds every adapter shipped with twirlhost.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(NewTwirlV210(), NewTwirlV211(), NewTwirlV212())
	if err != nil {
		panic(err)
	}
	return r
}

// Get accepts a version key ("2.11") or a full dependency coordinate.
func (r *Registry) Get(version string) (VersionedAdapter, error) {
	key := strings.TrimSpace(version)
	if adapter, ok := r.byVersion[key]; ok {
		return adapter, nil
	}
	if strings.Contains(key, ":") {
		if adapter, ok := r.byNotation[key]; ok {
			return adapter, nil
		}
	}
	return nil, &domain.UnsupportedVersionError{Version: version, Supported: r.Versions()}
}

func (r *Registry) Versions() []string {
	return append([]string(nil), r.versions...)
}

func (r *Registry) Adapters() []VersionedAdapter {
	out := make([]VersionedAdapter, 0, len(r.versions))
	for _, v := range r.versions {
		out = append(out, r.byVersion[v])
	}
	return out
}
