package out_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	compileroutadapter "twirlhost/internal/modules/compiler/adapter/out"
	"twirlhost/internal/modules/compiler/domain"
	compilerout "twirlhost/internal/modules/compiler/port/out"
)

type countingEnv struct {
	id     string
	coord  domain.Coordinate
	closed atomic.Bool
	dead   atomic.Bool
}

func (e *countingEnv) ID() string                    { return e.id }
func (e *countingEnv) Coordinate() domain.Coordinate { return e.coord }
func (e *countingEnv) Packages() []string            { return nil }

func (e *countingEnv) Class(_ context.Context, name string) (domain.ClassInfo, error) {
	if e.dead.Load() {
		return domain.ClassInfo{}, fmt.Errorf("%w: transport is closing", domain.ErrEnvironmentClosed)
	}
	return domain.ClassInfo{Name: name}, nil
}

func (e *countingEnv) Construct(context.Context, string, []string, []domain.Value) (domain.Value, error) {
	return domain.Value{}, nil
}

func (e *countingEnv) Invoke(context.Context, domain.MethodHandle, domain.Value, []domain.Value) (domain.Value, error) {
	return domain.Value{}, nil
}

func (e *countingEnv) Release(context.Context, []domain.Value) error {
	if e.dead.Load() {
		return domain.ErrEnvironmentClosed
	}
	return nil
}

func (e *countingEnv) Close() error {
	e.closed.Store(true)
	return nil
}

type countingProvider struct {
	mu    sync.Mutex
	envs  []*countingEnv
	delay time.Duration
}

func (p *countingProvider) CreateEnvironment(_ context.Context, coordinate domain.Coordinate, _ []string) (compilerout.Environment, error) {
	time.Sleep(p.delay)
	p.mu.Lock()
	defer p.mu.Unlock()
	env := &countingEnv{id: fmt.Sprintf("env-%d", len(p.envs)+1), coord: coordinate}
	p.envs = append(p.envs, env)
	return env, nil
}

func (p *countingProvider) created() []*countingEnv {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*countingEnv(nil), p.envs...)
}

var (
	v210 = domain.MustParseCoordinate("com.typesafe.play:twirl-compiler_2.10:1.0.4")
	v211 = domain.MustParseCoordinate(coordinate211)
	v212 = domain.MustParseCoordinate("com.typesafe.play:twirl-compiler_2.12:1.4.2")
)

func TestEnvironmentCacheReusesByCoordinateAndSharedSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider := &countingProvider{}
	cache, err := compileroutadapter.NewEnvironmentCache(provider, 4, nil)
	require.NoError(t, err)

	first, err := cache.CreateEnvironment(ctx, v211, []string{"java.lang", "java.io"})
	require.NoError(t, err)
	require.NoError(t, first.Close())
	second, err := cache.CreateEnvironment(ctx, v211, []string{"java.io", "java.lang"})
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())

	narrower, err := cache.CreateEnvironment(ctx, v211, []string{"java.io"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), narrower.ID())

	other, err := cache.CreateEnvironment(ctx, v212, []string{"java.io", "java.lang"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), other.ID())

	assert.Len(t, provider.created(), 3)
	assert.Equal(t, 3, cache.Len())
	for _, env := range provider.created() {
		assert.False(t, env.closed.Load(), "lease Close must not close the environment")
	}

	require.NoError(t, cache.Close())
	assert.Zero(t, cache.Len())
	for _, env := range provider.created() {
		assert.True(t, env.closed.Load())
	}
}

func TestEnvironmentCacheCreatesOncePerKeyConcurrently(t *testing.T) {
	t.Parallel()
	provider := &countingProvider{delay: 20 * time.Millisecond}
	cache, err := compileroutadapter.NewEnvironmentCache(provider, 2, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env, err := cache.CreateEnvironment(context.Background(), v210, []string{"java.io"})
			if err == nil {
				ids[i] = env.ID()
			}
		}(i)
	}
	wg.Wait()
	require.Len(t, provider.created(), 1)
	for _, id := range ids {
		assert.Equal(t, "env-1", id)
	}
}

func TestEnvironmentCacheEvictionClosesLeastRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider := &countingProvider{}
	cache, err := compileroutadapter.NewEnvironmentCache(provider, 2, nil)
	require.NoError(t, err)

	for _, c := range []domain.Coordinate{v210, v211, v212} {
		_, err := cache.CreateEnvironment(ctx, c, nil)
		require.NoError(t, err)
	}
	envs := provider.created()
	require.Len(t, envs, 3)
	assert.True(t, envs[0].closed.Load())
	assert.False(t, envs[1].closed.Load())
	assert.False(t, envs[2].closed.Load())
	assert.Equal(t, 2, cache.Len())
}

func TestEnvironmentCacheDropsDeadEnvironment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider := &countingProvider{}
	cache, err := compileroutadapter.NewEnvironmentCache(provider, 2, nil)
	require.NoError(t, err)

	lease, err := cache.CreateEnvironment(ctx, v211, nil)
	require.NoError(t, err)
	provider.created()[0].dead.Store(true)

	_, err = lease.Class(ctx, "play.twirl.compiler.TwirlCompiler")
	require.ErrorIs(t, err, domain.ErrEnvironmentClosed)
	assert.Zero(t, cache.Len())
	assert.True(t, provider.created()[0].closed.Load())

	fresh, err := cache.CreateEnvironment(ctx, v211, nil)
	require.NoError(t, err)
	assert.Equal(t, "env-2", fresh.ID())
}

func TestEnvironmentCacheReleaseOnDeadEnvironmentEvicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider := &countingProvider{}
	cache, err := compileroutadapter.NewEnvironmentCache(provider, 2, nil)
	require.NoError(t, err)

	lease, err := cache.CreateEnvironment(ctx, v212, nil)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx, nil))
	assert.Equal(t, 1, cache.Len())

	provider.created()[0].dead.Store(true)
	require.ErrorIs(t, lease.Release(ctx, nil), domain.ErrEnvironmentClosed)
	assert.Zero(t, cache.Len())
}
