package auth

import (
	"context"
)

// Auther identifies the caller of an orchestrator operation.
type Auther interface {
	GetAddress() string
	GetSessionID() string
	GetAccessKey() string
}

// Manager checks a caller's session. A rejected session is reported as an
// errors.AuthError; store failures are returned as is.
type Manager interface {
	Authorize(ctx context.Context, caller Auther) error
}
