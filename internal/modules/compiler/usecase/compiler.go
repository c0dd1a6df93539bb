package usecase

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"twirlhost/internal/modules/compiler/domain"
	"twirlhost/internal/modules/compiler/dto"
	compilerin "twirlhost/internal/modules/compiler/port/in"
	"twirlhost/internal/modules/compiler/service"
	apperrors "twirlhost/internal/platform/errors"
)

type Interactor struct {
	svc *service.CompilerService
}

func NewInteractor(svc *service.CompilerService) compilerin.Usecase {
	return &Interactor{svc: svc}
}

func (i *Interactor) ListAdapters(_ context.Context) ([]dto.AdapterInfo, error) {
	adapters := i.svc.Adapters()
	out := make([]dto.AdapterInfo, 0, len(adapters))
	for _, adapter := range adapters {
		out = append(out, adapterInfo(adapter))
	}
	return out, nil
}

func (i *Interactor) DescribeAdapter(_ context.Context, version string) (dto.AdapterInfo, error) {
	adapter, err := i.svc.Adapter(version)
	if err != nil {
		return dto.AdapterInfo{}, err
	}
	return adapterInfo(adapter), nil
}

func (i *Interactor) InspectEnvironment(ctx context.Context, version string) (dto.EnvironmentInfo, error) {
	adapter, env, err := i.svc.Environment(ctx, version)
	if err != nil {
		return dto.EnvironmentInfo{}, err
	}
	defer env.Close()
	return dto.EnvironmentInfo{
		Version:    adapter.Version(),
		Coordinate: env.Coordinate().String(),
		ID:         env.ID(),
		Packages:   env.Packages(),
	}, nil
}

func (i *Interactor) Compile(ctx context.Context, input dto.CompileInput) (dto.CompileOutput, error) {
	req, err := compileRequest(input)
	if err != nil {
		return dto.CompileOutput{}, err
	}
	result, err := i.svc.Compile(ctx, input.Version, req)
	out := compileOutput(result, err)
	return out, err
}

// CompileAll compiles every template under the source root. progress, when
// non-nil, receives each result as it completes and is not closed.
func (i *Interactor) CompileAll(ctx context.Context, input dto.CompileAllInput, progress chan<- dto.CompileOutput) ([]dto.CompileOutput, error) {
	imports, err := parseImports(input.Imports)
	if err != nil {
		return nil, err
	}
	reqs, err := i.svc.Discover(input.Version, input.SourceRoot, input.DestinationRoot, imports)
	if err != nil {
		return nil, err
	}
	var report func(service.BatchItem)
	if progress != nil {
		report = func(item service.BatchItem) {
			select {
			case progress <- compileOutput(item.Result, item.Err):
			case <-ctx.Done():
			}
		}
	}
	items, err := i.svc.CompileAll(ctx, input.Version, reqs, input.Jobs, report)
	out := make([]dto.CompileOutput, 0, len(items))
	for _, item := range items {
		out = append(out, compileOutput(item.Result, item.Err))
	}
	return out, err
}

// Watch forwards results until ctx is cancelled. results is not closed.
func (i *Interactor) Watch(ctx context.Context, input dto.CompileAllInput, results chan<- dto.CompileOutput) error {
	imports, err := parseImports(input.Imports)
	if err != nil {
		return err
	}
	items := make(chan service.BatchItem)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(items)
		return i.svc.Watch(gctx, input.Version, input.SourceRoot, input.DestinationRoot, imports, input.Jobs, items)
	})
	g.Go(func() error {
		for item := range items {
			select {
			case results <- compileOutput(item.Result, item.Err):
			case <-gctx.Done():
			}
		}
		return nil
	})
	return g.Wait()
}

func (i *Interactor) Doctor(ctx context.Context) ([]dto.DoctorResult, error) {
	reports := i.svc.Doctor(ctx)
	out := make([]dto.DoctorResult, 0, len(reports))
	for _, r := range reports {
		result := dto.DoctorResult{
			Version:          r.Adapter.Version(),
			Coordinate:       r.Adapter.DependencyNotation(),
			ArtifactResolved: r.ArtifactResolved,
			EnvironmentOK:    r.EnvironmentOK,
			MethodResolved:   r.MethodResolved,
		}
		if r.Err != nil {
			result.Error = r.Err.Error()
		}
		out = append(out, result)
	}
	return out, nil
}

func (i *Interactor) History(ctx context.Context, limit int) ([]dto.HistoryEntry, error) {
	entries, err := i.svc.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]dto.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.HistoryEntry{
			ID:         e.ID,
			Version:    e.Version,
			Coordinate: e.Coordinate,
			SourceFile: e.SourceFile,
			Output:     e.Output,
			Status:     string(e.Status),
			Error:      e.Error,
			StartedAt:  e.StartedAt,
			Duration:   e.Duration,
		})
	}
	return out, nil
}

func compileRequest(input dto.CompileInput) (domain.CompileRequest, error) {
	imports, err := parseImports(input.Imports)
	if err != nil {
		return domain.CompileRequest{}, err
	}
	req := domain.CompileRequest{
		SourceFile:      input.SourceFile,
		SourceRoot:      input.SourceRoot,
		DestinationRoot: input.DestinationRoot,
		Imports:         imports,
	}
	if input.Format != "" {
		req.Format, err = domain.ParseTemplateFormat(input.Format)
		if err != nil {
			return domain.CompileRequest{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}
	}
	return req, nil
}

func parseImports(raw string) (domain.Imports, error) {
	imports, err := domain.ParseImports(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	return imports, nil
}

func compileOutput(result domain.CompileResult, err error) dto.CompileOutput {
	out := dto.CompileOutput{
		InvocationID: result.InvocationID,
		Version:      result.Version,
		Coordinate:   result.Coordinate,
		SourceFile:   result.SourceFile,
		Output:       result.Output,
		Changed:      result.Changed,
		Duration:     result.Duration,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func adapterInfo(adapter service.VersionedAdapter) dto.AdapterInfo {
	formats := adapter.DefaultTemplateFormats()
	info := dto.AdapterInfo{
		Version:            adapter.Version(),
		DependencyNotation: adapter.DependencyNotation(),
		CompileMethod:      adapter.CompileMethod().String(),
		SharedPackages:     adapter.SharedPackages(),
		DefaultFormats:     make([]dto.FormatInfo, 0, len(formats)),
	}
	for _, f := range formats {
		info.DefaultFormats = append(info.DefaultFormats, dto.FormatInfo{Extension: f.Extension, ID: f.ID, FormatType: f.FormatType})
	}
	return info
}
