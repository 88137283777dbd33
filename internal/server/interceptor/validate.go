package interceptor

import (
	"context"

	"google.golang.org/grpc"

	cerr "github.com/webitel/report-orchestrator/internal/errors"
)

// Validator is implemented by request messages that can check themselves.
type Validator interface {
	Validate() error
}

// ValidateUnaryServerInterceptor rejects malformed requests with InvalidArgument
// before they reach a handler.
func ValidateUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if v, ok := req.(Validator); ok {
			if err := v.Validate(); err != nil {
				return nil, cerr.Validation(
					err.Error(),
					cerr.WithID("api.validate."+methodName(info.FullMethod)),
				)
			}
		}
		return handler(ctx, req)
	}
}
