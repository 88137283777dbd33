package client

import (
	"context"

	"github.com/webitel/report-orchestrator/internal/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// classify maps a transport failure onto the error taxonomy so the queue can
// tell a retryable network fault from a rejected request.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var app *errors.AppError
	if errors.As(err, &app) {
		return err
	}
	id := errors.WithID("client." + op)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout(err.Error(), id, errors.WithCause(err))
	}
	s, ok := status.FromError(err)
	if !ok {
		return errors.Network(err.Error(), id, errors.WithCause(err))
	}
	switch s.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return errors.Network(s.Message(), id, errors.WithCause(err))
	case codes.DeadlineExceeded, codes.Canceled:
		return errors.Timeout(s.Message(), id, errors.WithCause(err))
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return errors.Validation(s.Message(), id, errors.WithCause(err))
	case codes.Unauthenticated, codes.PermissionDenied:
		return errors.Auth(s.Message(), id, errors.WithCause(err))
	case codes.NotFound:
		return errors.NotFound(s.Message(), id, errors.WithCause(err))
	}
	return errors.Internal(s.Message(), id, errors.WithCause(err))
}
