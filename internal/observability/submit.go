package observability

import (
	"context"

	"github.com/oriys/quasar/internal/domain"
)

// TraceSubmit returns middleware opening a producer span around every task
// submission.
func TraceSubmit() domain.SubmitMiddleware {
	return func(next domain.SubmitFunc) domain.SubmitFunc {
		return func(ctx context.Context, req *domain.SubmissionRequest) ([]domain.ObjectRef, error) {
			if !Enabled() {
				return next(ctx, req)
			}
			ctx, span := StartProducerSpan(ctx, "submit "+req.DisplayName(),
				AttrTaskID.String(req.TaskID),
				AttrTaskName.String(req.DisplayName()),
				AttrFunction.String(req.Descriptor.String()),
				AttrLanguage.String(string(req.Descriptor.Language)),
				AttrSession.String(req.SessionJob.String()),
				AttrNumReturns.Int(req.NumReturns),
				AttrBundleIndex.Int(req.BundleIndex),
			)
			defer span.End()
			if req.PlacementGroupID != "" {
				span.SetAttributes(AttrPlacement.String(req.PlacementGroupID))
			}

			refs, err := next(ctx, req)
			if err != nil {
				SetSpanError(span, err)
				return nil, err
			}
			SetSpanOK(span)
			return refs, nil
		}
	}
}
