package options

import (
	"context"
	"time"

	"github.com/webitel/report-orchestrator/auth"
)

type CreateOptions struct {
	context.Context
	Time time.Time
	Auth auth.Auther
}

// NewCreateOptions sets Time to now and resolves the caller address from ctx.
func NewCreateOptions(ctx context.Context, sessionID, accessKey string) *CreateOptions {
	return &CreateOptions{
		Context: ctx,
		Time:    time.Now().UTC(),
		Auth:    auth.FromContext(ctx, sessionID, accessKey),
	}
}
