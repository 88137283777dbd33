package interceptor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"runtime/debug"

	"github.com/webitel/report-orchestrator/internal/errors"
	outerror "github.com/webitel/webitel-go-kit/pkg/errors"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// OuterInterceptor recovers panics and maps handler errors to gRPC statuses.
func OuterInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if panicErr := recover(); panicErr != nil {
				slog.ErrorContext(ctx, "report_orchestrator.server.panic_recovered",
					slog.String("method", info.FullMethod),
					slog.Any("error", panicErr),
					slog.String("stack", string(debug.Stack())))
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		resp, err = handler(ctx, req)
		if err != nil {
			return nil, logAndReturnGRPCError(ctx, err, info.FullMethod)
		}
		return resp, nil
	}
}

func OuterStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		ctx := ss.Context()
		defer func() {
			if panicErr := recover(); panicErr != nil {
				slog.ErrorContext(ctx, "report_orchestrator.server.panic_recovered",
					slog.String("method", info.FullMethod),
					slog.Any("error", panicErr),
					slog.String("stack", string(debug.Stack())))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		if err = handler(srv, ss); err != nil {
			return logAndReturnGRPCError(ctx, err, info.FullMethod)
		}
		return nil
	}
}

// logAndReturnGRPCError logs the error and converts it to a gRPC error response.
func logAndReturnGRPCError(ctx context.Context, err error, method string) error {
	if _, ok := status.FromError(err); ok {
		var (
			app     *errors.AppError
			authErr errors.AuthError
		)
		if !errors.As(err, &app) && !errors.As(err, &authErr) {
			// Already a transport status, e.g. a cancelled stream.
			return err
		}
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)

	var (
		grpcCode codes.Code
		httpCode int
		id       string
	)
	switch grpcCode = errors.Code(err); grpcCode {
	case codes.Unauthenticated:
		httpCode = http.StatusUnauthorized
		id = "api.process.unauthenticated"
	case codes.PermissionDenied:
		httpCode = http.StatusForbidden
		id = "api.process.unauthorized"
	case codes.NotFound, codes.Aborted, codes.InvalidArgument, codes.AlreadyExists:
		httpCode = http.StatusBadRequest
		id = "api.process.bad_args"
	case codes.Unavailable, codes.DeadlineExceeded:
		httpCode = http.StatusServiceUnavailable
		id = "api.process.unavailable"
	default:
		httpCode = http.StatusInternalServerError
		id = "api.process.internal"
	}

	level := slog.LevelWarn
	if httpCode >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(ctx, level, fmt.Sprintf("report_orchestrator.server.%s_failed", methodName(method)),
		slog.String("error_id", id),
		slog.String("error", errors.Details(err)))

	body, _ := json.Marshal(&outerror.ApplicationError{
		Id:            id,
		DetailedError: err.Error(),
		StatusCode:    httpCode,
		Status:        http.StatusText(httpCode),
	})
	return status.Error(grpcCode, string(body))
}

// methodName turns "/pkg.Service/Method" into "method" for log ids.
func methodName(fullMethod string) string {
	return toSnake(path.Base(fullMethod))
}

func toSnake(s string) string {
	out := make([]byte, 0, len(s)+4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
