package in

import (
	"context"

	"twirlhost/internal/modules/compiler/dto"
	compilerin "twirlhost/internal/modules/compiler/port/in"
)

type CLIHandler struct {
	usecase compilerin.Usecase
}

func NewCLIHandler(usecase compilerin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) ListAdapters(ctx context.Context) ([]dto.AdapterInfo, error) {
	return h.usecase.ListAdapters(ctx)
}

func (h CLIHandler) DescribeAdapter(ctx context.Context, version string) (dto.AdapterInfo, error) {
	return h.usecase.DescribeAdapter(ctx, version)
}

func (h CLIHandler) InspectEnvironment(ctx context.Context, version string) (dto.EnvironmentInfo, error) {
	return h.usecase.InspectEnvironment(ctx, version)
}

func (h CLIHandler) Compile(ctx context.Context, input dto.CompileInput) (dto.CompileOutput, error) {
	return h.usecase.Compile(ctx, input)
}

func (h CLIHandler) CompileAll(ctx context.Context, input dto.CompileAllInput, progress chan<- dto.CompileOutput) ([]dto.CompileOutput, error) {
	return h.usecase.CompileAll(ctx, input, progress)
}

func (h CLIHandler) Watch(ctx context.Context, input dto.CompileAllInput, results chan<- dto.CompileOutput) error {
	return h.usecase.Watch(ctx, input, results)
}

func (h CLIHandler) Doctor(ctx context.Context) ([]dto.DoctorResult, error) {
	return h.usecase.Doctor(ctx)
}

func (h CLIHandler) History(ctx context.Context, limit int) ([]dto.HistoryEntry, error) {
	return h.usecase.History(ctx, limit)
}
