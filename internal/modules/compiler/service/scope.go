package service

import (
	"context"
	"sync"

	"twirlhost/internal/modules/compiler/domain"
	compilerout "twirlhost/internal/modules/compiler/port/out"
)

// invocationScope records every object an invocation creates in a shared
// environment so they can be released when it finishes.
type invocationScope struct {
	compilerout.Environment

	mu      sync.Mutex
	created []domain.Value
}

func newInvocationScope(env compilerout.Environment) *invocationScope {
	return &invocationScope{Environment: env}
}

func (s *invocationScope) Construct(ctx context.Context, class string, params []string, args []domain.Value) (domain.Value, error) {
	v, err := s.Environment.Construct(ctx, class, params, args)
	s.track(v)
	return v, err
}

func (s *invocationScope) Invoke(ctx context.Context, handle domain.MethodHandle, receiver domain.Value, args []domain.Value) (domain.Value, error) {
	v, err := s.Environment.Invoke(ctx, handle, receiver, args)
	s.track(v)
	return v, err
}

func (s *invocationScope) track(v domain.Value) {
	if !v.IsRef() {
		return
	}
	s.mu.Lock()
	s.created = append(s.created, v)
	s.mu.Unlock()
}

// release frees everything created so far. It is safe to call more than once.
func (s *invocationScope) release(ctx context.Context) error {
	s.mu.Lock()
	created := s.created
	s.created = nil
	s.mu.Unlock()
	if len(created) == 0 {
		return nil
	}
	return s.Environment.Release(ctx, created)
}
