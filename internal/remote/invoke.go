package remote

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/placement"
	"github.com/oriys/quasar/internal/resources"
	"github.com/oriys/quasar/internal/runtimeenv"
	"github.com/oriys/quasar/internal/signature"
)

// InvokeWith resolves overrides against def's defaults and the worker's
// context, exports the function if needed, and submits one task. Every
// configuration error is returned before anything reaches the backend.
func InvokeWith(ctx context.Context, w *Worker, def *TaskDefinition, overrides InvocationOptions, args []any, kwargs map[string]any) (Result, error) {
	if def == nil {
		return Result{}, domain.Usagef("invoke on a nil task definition")
	}
	if !w.IsConnected() {
		return Result{}, domain.Configurationf("worker is not connected; connect before invoking %s", def.Name())
	}

	opts := merge(def.defaults, overrides)
	numReturns := intOr(opts.NumReturns, DefaultNumReturns)
	maxRetries := intOr(opts.MaxRetries, DefaultMaxRetries)
	retryExceptions := boolOr(opts.RetryExceptions, false)

	binding, err := placement.Bind(placement.Request{
		Ref:               opts.Placement,
		BundleIndex:       intOr(opts.BundleIndex, placement.UnboundIndex),
		CaptureChildTasks: boolOr(opts.CaptureChildTasks, w.capture),
	}, w.currentGroup)
	if err != nil {
		return Result{}, err
	}

	res, err := resources.Resolve(def.defaults.Resources, overrides.Resources)
	if err != nil {
		return Result{}, err
	}

	env, err := runtimeenv.Override(opts.RuntimeEnv, w.jobEnv)
	if err != nil {
		return Result{}, err
	}
	if len(opts.OverrideEnvironmentVariables) > 0 {
		logging.Op().Warn("override_environment_variables is deprecated, use runtime env vars instead",
			"function", def.Name())
	}

	foreign := def.Language().IsForeign()
	sj := w.SessionJob()
	if !foreign {
		if _, err := def.exported.EnsureExported(ctx, sj, func(ctx context.Context) error {
			return def.export(ctx, w, sj)
		}); err != nil {
			return Result{}, err
		}
	}

	invocation := func(ctx context.Context, args []any, kwargs map[string]any) (Result, error) {
		var (
			flat []any
			err  error
		)
		if foreign {
			if w.Mode() == domain.ModeLocal {
				return Result{}, domain.Configurationf("cross-language function %s cannot run in local mode", def.Name())
			}
			flat, err = w.formatter.FormatArgs(args, kwargs)
		} else {
			flat, err = signature.Flatten(def.fn.Signature, args, kwargs)
		}
		if err != nil {
			return Result{}, err
		}

		desc, ok := def.Descriptor()
		if !ok {
			return Result{}, fmt.Errorf("function %s has no descriptor", def.Name())
		}

		req := &domain.SubmissionRequest{
			TaskID:            uuid.New().String(),
			DefinitionID:      def.id,
			Descriptor:        desc,
			Args:              flat,
			Name:              opts.Name,
			NumReturns:        numReturns,
			Resources:         res.ToMap(),
			MaxRetries:        maxRetries,
			RetryExceptions:   retryExceptions,
			PlacementGroupID:  binding.GroupID(),
			BundleIndex:       binding.BundleIndex,
			CaptureChildTasks: binding.CaptureChildTasks,
			DebugMarker:       w.DebugMarker(),
			RuntimeEnv:        env.ToMap(),
			ExtraEnv:          opts.OverrideEnvironmentVariables,
			SessionJob:        sj,
		}

		refs, err := w.submit(ctx, req)
		if err != nil {
			return Result{}, fmt.Errorf("submit task %s: %w", req.DisplayName(), err)
		}
		w.clearDebugMarker(req.DebugMarker)
		return shapeResult(refs, numReturns)
	}

	if def.interceptor != nil {
		return def.interceptor.Intercept(ctx, args, kwargs, invocation)
	}
	return invocation(ctx, args, kwargs)
}
