package auth

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

const (
	RealIPHeader       = "x-real-ip"
	ForwardedForHeader = "x-forwarded-for"
)

type Credentials struct {
	Address   string
	SessionID string
	AccessKey string
}

func (c Credentials) GetAddress() string   { return c.Address }
func (c Credentials) GetSessionID() string { return c.SessionID }
func (c Credentials) GetAccessKey() string { return c.AccessKey }

type addressKey struct{}

// WithAddress stores the resolved client address on ctx.
func WithAddress(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, addressKey{}, address)
}

// AddressFromContext returns the address stored by WithAddress, resolving it
// from the incoming call when absent.
func AddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(addressKey{}).(string); ok {
		return v
	}
	return ResolveAddress(ctx)
}

// ResolveAddress prefers x-real-ip, then the first x-forwarded-for hop, then the peer.
func ResolveAddress(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(RealIPHeader); len(v) > 0 && strings.TrimSpace(v[0]) != "" {
			return strings.TrimSpace(v[0])
		}
		if v := md.Get(ForwardedForHeader); len(v) > 0 {
			first, _, _ := strings.Cut(v[0], ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr := p.Addr.String()
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return host
		}
		return addr
	}
	return ""
}

// FromContext builds caller credentials for the current call.
func FromContext(ctx context.Context, sessionID, accessKey string) Credentials {
	return Credentials{
		Address:   AddressFromContext(ctx),
		SessionID: sessionID,
		AccessKey: accessKey,
	}
}
