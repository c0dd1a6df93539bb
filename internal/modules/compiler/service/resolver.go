package service

import (
	"context"
	"errors"
	"fmt"

	"twirlhost/internal/modules/compiler/domain"
	compilerout "twirlhost/internal/modules/compiler/port/out"
)

// ResolveMethod locates the method matching sig exactly inside env.
// Overloads are never widened: name, arity and every parameter type must match.
func ResolveMethod(ctx context.Context, env compilerout.Environment, sig domain.MethodSignature) (domain.MethodHandle, error) {
	if err := sig.Validate(); err != nil {
		return domain.MethodHandle{}, err
	}
	coordinate := env.Coordinate().String()
	class, err := env.Class(ctx, sig.Class)
	if err != nil {
		if errors.Is(err, domain.ErrAdapterNotFound) {
			return domain.MethodHandle{}, err
		}
		return domain.MethodHandle{}, fmt.Errorf("describe class %s: %w", sig.Class, err)
	}

	var candidates []domain.MethodSignature
	for _, method := range class.Methods {
		if method.Name != sig.Method {
			continue
		}
		if sig.SameParams(method.Params) {
			return domain.MethodHandle{
				EnvironmentID: env.ID(),
				Coordinate:    coordinate,
				Signature:     method.Signature(class.Name),
				Returns:       method.Returns,
				Static:        method.Static,
			}, nil
		}
		candidates = append(candidates, method.Signature(class.Name))
	}
	return domain.MethodHandle{}, &domain.MethodNotFoundError{Coordinate: coordinate, Signature: sig, Candidates: candidates}
}

// checkArguments verifies that args line up with the handle's declared parameters.
func checkArguments(handle domain.MethodHandle, args []domain.Value) error {
	params := handle.Signature.Params
	if len(args) != len(params) {
		return &domain.ParameterAdaptationError{
			Coordinate: handle.Coordinate,
			Type:       handle.Signature.String(),
			Cause:      fmt.Errorf("built %d parameters, method declares %d", len(args), len(params)),
		}
	}
	for i, arg := range args {
		if arg.Type != params[i] {
			return &domain.ParameterAdaptationError{
				Coordinate: handle.Coordinate,
				Type:       handle.Signature.String(),
				Cause:      fmt.Errorf("parameter %d: built %s, method declares %s", i, arg.Type, params[i]),
			}
		}
	}
	return nil
}
