package out

import (
	"context"

	"twirlhost/internal/modules/compiler/domain"
)

type ArtifactResolver interface {
	Resolve(ctx context.Context, coordinate domain.Coordinate) (domain.Artifact, error)
}

// Environment is an isolated namespace holding exactly one compiler version.
type Environment interface {
	ID() string
	Coordinate() domain.Coordinate
	// Packages lists the visible packages: the shared allow-list plus the artifact's own.
	Packages() []string
	Class(ctx context.Context, name string) (domain.ClassInfo, error)
	Construct(ctx context.Context, class string, params []string, args []domain.Value) (domain.Value, error)
	// Invoke calls a resolved method; receiver is the zero Value for static methods.
	Invoke(ctx context.Context, handle domain.MethodHandle, receiver domain.Value, args []domain.Value) (domain.Value, error)
	// Release frees the objects behind values. Literals are skipped.
	Release(ctx context.Context, values []domain.Value) error
	Close() error
}

type EnvironmentProvider interface {
	CreateEnvironment(ctx context.Context, coordinate domain.Coordinate, shared []string) (Environment, error)
}

type Ledger interface {
	Record(ctx context.Context, entry domain.LedgerEntry) error
	List(ctx context.Context, limit int) ([]domain.LedgerEntry, error)
}

type Watcher interface {
	// Watch emits the paths of created or written files under root until ctx is done.
	Watch(ctx context.Context, root string, changed chan<- string) error
}
