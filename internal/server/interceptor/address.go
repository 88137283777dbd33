package interceptor

import (
	"context"

	"github.com/webitel/report-orchestrator/auth"
	"google.golang.org/grpc"
)

// AddressUnaryServerInterceptor resolves the caller address once per call so
// handlers and services see the same value.
func AddressUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		return handler(auth.WithAddress(ctx, auth.ResolveAddress(ctx)), req)
	}
}

func AddressStreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := auth.WithAddress(ss.Context(), auth.ResolveAddress(ss.Context()))
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }
