package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"twirlhost/internal/modules/compiler/domain"
	compilerout "twirlhost/internal/modules/compiler/port/out"
	"twirlhost/internal/platform/clock"
	"twirlhost/internal/platform/id"
)

type CompilerService struct {
	registry  *Registry
	artifacts compilerout.ArtifactResolver
	envs      compilerout.EnvironmentProvider
	ledger    compilerout.Ledger
	watcher   compilerout.Watcher
	clock     clock.Clock
	ids       id.Generator
	logger    hclog.Logger
}

func NewCompilerService(
	registry *Registry,
	artifacts compilerout.ArtifactResolver,
	envs compilerout.EnvironmentProvider,
	ledger compilerout.Ledger,
	watcher compilerout.Watcher,
	clk clock.Clock,
	ids id.Generator,
	logger hclog.Logger,
) *CompilerService {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &CompilerService{
		registry:  registry,
		artifacts: artifacts,
		envs:      envs,
		ledger:    ledger,
		watcher:   watcher,
		clock:     clk,
		ids:       ids,
		logger:    logger,
	}
}

// BatchItem pairs a request with its outcome in multi-file compiles.
type BatchItem struct {
	Request domain.CompileRequest
	Result  domain.CompileResult
	Err     error
}

func (s *CompilerService) Adapters() []VersionedAdapter {
	return s.registry.Adapters()
}

func (s *CompilerService) Adapter(version string) (VersionedAdapter, error) {
	return s.registry.Get(version)
}

// Environment creates (or leases) the isolated environment for version.
// The caller must Close it.
func (s *CompilerService) Environment(ctx context.Context, version string) (VersionedAdapter, compilerout.Environment, error) {
	adapter, err := s.registry.Get(version)
	if err != nil {
		return nil, nil, err
	}
	coordinate, err := domain.ParseCoordinate(adapter.DependencyNotation())
	if err != nil {
		return nil, nil, err
	}
	env, err := s.envs.CreateEnvironment(ctx, coordinate, adapter.SharedPackages())
	if err != nil {
		return nil, nil, err
	}
	return adapter, env, nil
}

// Compile runs select adapter -> create environment -> resolve -> build -> invoke.
func (s *CompilerService) Compile(ctx context.Context, version string, req domain.CompileRequest) (domain.CompileResult, error) {
	started := s.clock.Now()
	result := domain.CompileResult{InvocationID: s.ids.New(), Version: version, SourceFile: req.SourceFile}
	logger := s.logger.With("invocation", result.InvocationID, "version", version, "source", req.SourceFile)

	err := s.compile(ctx, version, &req, &result)
	result.Duration = s.clock.Now().Sub(started)
	s.record(ctx, req, result, started, err)
	if err != nil {
		logger.Error("compile failed", "error", err)
		return result, err
	}
	logger.Debug("compiled", "output", result.Output, "changed", result.Changed, "duration", result.Duration)
	return result, nil
}

func (s *CompilerService) compile(ctx context.Context, version string, req *domain.CompileRequest, result *domain.CompileResult) error {
	adapter, err := s.registry.Get(version)
	if err != nil {
		return err
	}
	result.Version = adapter.Version()
	result.Coordinate = adapter.DependencyNotation()
	req.Format = req.Format.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Format.IsZero() {
		format, ok := domain.MatchFormat(adapter.DefaultTemplateFormats(), req.SourceFile)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrNoTemplateFormat, req.SourceFile)
		}
		req.Format = format
	}

	_, leased, err := s.Environment(ctx, adapter.Version())
	if err != nil {
		return err
	}
	env := newInvocationScope(leased)
	defer func() {
		if releaseErr := env.release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.Warn("release invocation objects", "environment", leased.ID(), "error", releaseErr)
		}
		if closeErr := leased.Close(); closeErr != nil {
			s.logger.Warn("close environment", "environment", leased.ID(), "error", closeErr)
		}
	}()

	handle, err := ResolveMethod(ctx, env, adapter.CompileMethod())
	if err != nil {
		return err
	}
	args, err := adapter.CreateCompileParameters(ctx, env, *req)
	if err != nil {
		return err
	}
	if err := checkArguments(handle, args); err != nil {
		return err
	}
	value, err := env.Invoke(ctx, handle, domain.Value{}, args)
	if err != nil {
		return err
	}
	output, changed, err := readOptionalFile(ctx, env, value)
	if err != nil {
		return fmt.Errorf("read compile result: %w", err)
	}
	result.Output = output
	result.Changed = changed
	return nil
}

// readOptionalFile unpacks the Option[File] the compilers return.
func readOptionalFile(ctx context.Context, env compilerout.Environment, value domain.Value) (string, bool, error) {
	if value.Type != domain.TypeOption {
		return "", false, fmt.Errorf("compile returned %s, want %s", value.Type, domain.TypeOption)
	}
	defined, err := invokeOn(ctx, env, value, domain.MethodSignature{Class: domain.TypeOption, Method: "isDefined"})
	if err != nil {
		return "", false, err
	}
	if defined.Literal != "true" {
		return "", false, nil
	}
	file, err := invokeOn(ctx, env, value, domain.MethodSignature{Class: domain.TypeOption, Method: "get"})
	if err != nil {
		return "", false, err
	}
	path, err := invokeOn(ctx, env, file, domain.MethodSignature{Class: domain.TypeFile, Method: "getAbsolutePath"})
	if err != nil {
		return "", false, err
	}
	return path.Literal, true, nil
}

func invokeOn(ctx context.Context, env compilerout.Environment, receiver domain.Value, sig domain.MethodSignature) (domain.Value, error) {
	handle, err := ResolveMethod(ctx, env, sig)
	if err != nil {
		return domain.Value{}, err
	}
	return env.Invoke(ctx, handle, receiver, nil)
}

func (s *CompilerService) record(ctx context.Context, req domain.CompileRequest, result domain.CompileResult, started time.Time, compileErr error) {
	if s.ledger == nil {
		return
	}
	entry := domain.LedgerEntry{
		ID:         result.InvocationID,
		Version:    result.Version,
		Coordinate: result.Coordinate,
		SourceFile: req.SourceFile,
		Output:     result.Output,
		Format:     req.Format.ID,
		Imports:    string(req.Imports),
		Status:     domain.LedgerStatusOK,
		StartedAt:  started,
		Duration:   result.Duration,
	}
	if compileErr != nil {
		entry.Status = domain.LedgerStatusFailed
		entry.Error = compileErr.Error()
	}
	// A cancelled compile is still recorded.
	if err := s.ledger.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("record compile", "invocation", entry.ID, "error", err)
	}
}

// Discover lists a compile request for every file under sourceRoot that
// matches one of the adapter's default formats, in lexical order.
func (s *CompilerService) Discover(version, sourceRoot, destinationRoot string, imports domain.Imports) ([]domain.CompileRequest, error) {
	adapter, err := s.registry.Get(version)
	if err != nil {
		return nil, err
	}
	formats := adapter.DefaultTemplateFormats()
	var out []domain.CompileRequest
	err = filepath.WalkDir(sourceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		format, ok := domain.MatchFormat(formats, path)
		if !ok {
			return nil
		}
		out = append(out, domain.CompileRequest{
			SourceFile:      path,
			SourceRoot:      sourceRoot,
			DestinationRoot: destinationRoot,
			Imports:         imports,
			Format:          format,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover templates: %w", err)
	}
	return out, nil
}

// CompileAll compiles every request with at most jobs concurrent invocations.
// Every request runs; the returned error joins all failures. report, when
// set, is called from the worker goroutines as each request finishes.
func (s *CompilerService) CompileAll(ctx context.Context, version string, reqs []domain.CompileRequest, jobs int, report func(BatchItem)) ([]BatchItem, error) {
	if jobs < 1 {
		jobs = 1
	}
	items := make([]BatchItem, len(reqs))
	var g errgroup.Group
	g.SetLimit(jobs)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			result, err := s.Compile(ctx, version, req)
			items[i] = BatchItem{Request: req, Result: result, Err: err}
			if report != nil {
				report(items[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, item := range items {
		if item.Err != nil {
			errs = append(errs, item.Err)
		}
	}
	return items, errors.Join(errs...)
}

// Watch compiles everything once, then recompiles templates as they change
// until ctx is cancelled.
func (s *CompilerService) Watch(ctx context.Context, version, sourceRoot, destinationRoot string, imports domain.Imports, jobs int, results chan<- BatchItem) error {
	if s.watcher == nil {
		return fmt.Errorf("file watching is not configured")
	}
	adapter, err := s.registry.Get(version)
	if err != nil {
		return err
	}
	reqs, err := s.Discover(version, sourceRoot, destinationRoot, imports)
	if err != nil {
		return err
	}
	items, _ := s.CompileAll(ctx, version, reqs, jobs, nil)
	for _, item := range items {
		select {
		case results <- item:
		case <-ctx.Done():
			return nil
		}
	}

	changed := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(changed)
		return s.watcher.Watch(gctx, sourceRoot, changed)
	})
	g.Go(func() error {
		for path := range changed {
			format, ok := domain.MatchFormat(adapter.DefaultTemplateFormats(), path)
			if !ok {
				continue
			}
			req := domain.CompileRequest{
				SourceFile:      path,
				SourceRoot:      sourceRoot,
				DestinationRoot: destinationRoot,
				Imports:         imports,
				Format:          format,
			}
			result, err := s.Compile(gctx, version, req)
			select {
			case results <- BatchItem{Request: req, Result: result, Err: err}:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// DoctorReport is the health of one adapter's environment.
type DoctorReport struct {
	Adapter          VersionedAdapter
	ArtifactResolved bool
	EnvironmentOK    bool
	MethodResolved   bool
	Err              error
}

func (s *CompilerService) Doctor(ctx context.Context) []DoctorReport {
	adapters := s.registry.Adapters()
	reports := make([]DoctorReport, 0, len(adapters))
	for _, adapter := range adapters {
		report := DoctorReport{Adapter: adapter}
		if s.artifacts != nil {
			coordinate, err := domain.ParseCoordinate(adapter.DependencyNotation())
			if err == nil {
				_, err = s.artifacts.Resolve(ctx, coordinate)
			}
			if err != nil {
				report.Err = err
				reports = append(reports, report)
				continue
			}
			report.ArtifactResolved = true
		}
		_, env, err := s.Environment(ctx, adapter.Version())
		if err != nil {
			report.Err = err
			reports = append(reports, report)
			continue
		}
		report.EnvironmentOK = true
		if _, err := ResolveMethod(ctx, env, adapter.CompileMethod()); err != nil {
			report.Err = err
		} else {
			report.MethodResolved = true
		}
		if err := env.Close(); err != nil {
			s.logger.Warn("close environment", "environment", env.ID(), "error", err)
		}
		reports = append(reports, report)
	}
	return reports
}

func (s *CompilerService) History(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	if s.ledger == nil {
		return nil, nil
	}
	return s.ledger.List(ctx, limit)
}
