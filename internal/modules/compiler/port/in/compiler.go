package in

import (
	"context"

	"twirlhost/internal/modules/compiler/dto"
)

type Usecase interface {
	ListAdapters(ctx context.Context) ([]dto.AdapterInfo, error)
	DescribeAdapter(ctx context.Context, version string) (dto.AdapterInfo, error)
	InspectEnvironment(ctx context.Context, version string) (dto.EnvironmentInfo, error)
	Compile(ctx context.Context, input dto.CompileInput) (dto.CompileOutput, error)
	CompileAll(ctx context.Context, input dto.CompileAllInput, progress chan<- dto.CompileOutput) ([]dto.CompileOutput, error)
	Watch(ctx context.Context, input dto.CompileAllInput, results chan<- dto.CompileOutput) error
	Doctor(ctx context.Context) ([]dto.DoctorResult, error)
	History(ctx context.Context, limit int) ([]dto.HistoryEntry, error)
}
