package out

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	hclog "github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"twirlhost/internal/modules/compiler/domain"
	compilerout "twirlhost/internal/modules/compiler/port/out"
)

// EnvironmentCache reuses environments per coordinate and allow-list.
// Callers receive leases whose Close is a no-op; the cache closes an
// environment when it is evicted, purged, or found dead.
type EnvironmentCache struct {
	inner  compilerout.EnvironmentProvider
	envs   *lru.Cache[string, compilerout.Environment]
	group  singleflight.Group
	logger hclog.Logger
}

func NewEnvironmentCache(inner compilerout.EnvironmentProvider, size int, logger hclog.Logger) (*EnvironmentCache, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if size < 1 {
		size = 1
	}
	c := &EnvironmentCache{inner: inner, logger: logger}
	envs, err := lru.NewWithEvict(size, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create environment cache: %w", err)
	}
	c.envs = envs
	return c, nil
}

var _ compilerout.EnvironmentProvider = (*EnvironmentCache)(nil)

func (c *EnvironmentCache) CreateEnvironment(ctx context.Context, coordinate domain.Coordinate, shared []string) (compilerout.Environment, error) {
	key := cacheKey(coordinate, shared)
	if env, ok := c.envs.Get(key); ok {
		return c.lease(key, env), nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if env, ok := c.envs.Get(key); ok {
			return env, nil
		}
		env, err := c.inner.CreateEnvironment(ctx, coordinate, shared)
		if err != nil {
			return nil, err
		}
		c.envs.Add(key, env)
		return env, nil
	})
	if err != nil {
		return nil, err
	}
	return c.lease(key, v.(compilerout.Environment)), nil
}

// Len reports how many environments are alive.
func (c *EnvironmentCache) Len() int {
	return c.envs.Len()
}

// Close shuts down every cached environment.
func (c *EnvironmentCache) Close() error {
	c.envs.Purge()
	return nil
}

func (c *EnvironmentCache) onEvict(key string, env compilerout.Environment) {
	c.logger.Debug("closing environment", "key", key, "environment", env.ID())
	if err := env.Close(); err != nil {
		c.logger.Warn("close environment", "environment", env.ID(), "error", err)
	}
}

func (c *EnvironmentCache) lease(key string, env compilerout.Environment) compilerout.Environment {
	return &leasedEnvironment{Environment: env, check: func(err error) {
		if errors.Is(err, domain.ErrEnvironmentClosed) {
			if current, ok := c.envs.Peek(key); ok && current.ID() == env.ID() {
				c.envs.Remove(key)
			}
		}
	}}
}

func cacheKey(coordinate domain.Coordinate, shared []string) string {
	sorted := append([]string(nil), shared...)
	sort.Strings(sorted)
	return coordinate.String() + "|" + strings.Join(sorted, ",")
}

// leasedEnvironment hands out a cached environment without giving the
// caller ownership of it.
type leasedEnvironment struct {
	compilerout.Environment
	check func(error)
}

func (l *leasedEnvironment) Class(ctx context.Context, name string) (domain.ClassInfo, error) {
	info, err := l.Environment.Class(ctx, name)
	l.check(err)
	return info, err
}

func (l *leasedEnvironment) Construct(ctx context.Context, class string, params []string, args []domain.Value) (domain.Value, error) {
	v, err := l.Environment.Construct(ctx, class, params, args)
	l.check(err)
	return v, err
}

func (l *leasedEnvironment) Invoke(ctx context.Context, handle domain.MethodHandle, receiver domain.Value, args []domain.Value) (domain.Value, error) {
	v, err := l.Environment.Invoke(ctx, handle, receiver, args)
	l.check(err)
	return v, err
}

func (l *leasedEnvironment) Release(ctx context.Context, values []domain.Value) error {
	err := l.Environment.Release(ctx, values)
	l.check(err)
	return err
}

func (l *leasedEnvironment) Close() error {
	return nil
}
