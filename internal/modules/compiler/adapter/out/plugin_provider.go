package out

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	sandboxrpc "twirlhost/internal/modules/compiler/adapter/out/rpc"
	"twirlhost/internal/modules/compiler/domain"
	compilerout "twirlhost/internal/modules/compiler/port/out"
)

const defaultStartTimeout = 3 * time.Second

type PluginProviderOptions struct {
	StartTimeout time.Duration
	CallTimeout  time.Duration
	Logger       hclog.Logger
}

// PluginProvider starts one sandbox process per environment.
type PluginProvider struct {
	artifacts    compilerout.ArtifactResolver
	startTimeout time.Duration
	callTimeout  time.Duration
	logger       hclog.Logger
}

func NewPluginProvider(artifacts compilerout.ArtifactResolver, opts PluginProviderOptions) *PluginProvider {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	return &PluginProvider{
		artifacts:    artifacts,
		startTimeout: opts.StartTimeout,
		callTimeout:  opts.CallTimeout,
		logger:       opts.Logger,
	}
}

var _ compilerout.EnvironmentProvider = (*PluginProvider)(nil)

func (p *PluginProvider) CreateEnvironment(ctx context.Context, coordinate domain.Coordinate, shared []string) (compilerout.Environment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	artifact, err := p.artifacts.Resolve(ctx, coordinate)
	if err != nil {
		return nil, err
	}
	client, closeFn, err := p.connect(artifact, coordinate)
	if err != nil {
		return nil, &domain.DependencyResolutionError{Coordinate: coordinate.String(), Cause: err}
	}
	env, err := NewRPCEnvironment(ctx, coordinate, client, shared, p.callTimeout, closeFn)
	if err != nil {
		closeFn()
		return nil, err
	}
	p.logger.Debug("environment created", "environment", env.ID(), "coordinate", coordinate.String(), "packages", env.Packages())
	return env, nil
}

func (p *PluginProvider) connect(artifact domain.Artifact, coordinate domain.Coordinate) (sandboxrpc.SandboxClient, func(), error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  sandboxrpc.HandshakeConfig,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolGRPC},
		Plugins:          sandboxrpc.PluginMap(nil),
		Cmd:              exec.Command(artifact.Binary),
		SkipHostEnv:      true,
		Managed:          true,
		StartTimeout:     p.startTimeout,
		Logger:           p.logger.Named("sandbox." + coordinate.Version),
	})
	closeFn := func() { client.Kill() }

	rpcClient, err := client.Client()
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("start sandbox: %w", err)
	}
	raw, err := rpcClient.Dispense(sandboxrpc.PluginMapKey)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("dispense sandbox: %w", err)
	}
	typed, ok := raw.(sandboxrpc.SandboxClient)
	if !ok {
		closeFn()
		return nil, nil, fmt.Errorf("sandbox rpc client type mismatch")
	}
	return typed, closeFn, nil
}
