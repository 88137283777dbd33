package options

import (
	"context"
	"time"

	"github.com/webitel/report-orchestrator/auth"
)

type SearchOptions struct {
	context.Context
	Time time.Time
	Auth auth.Auther
}

func NewSearchOptions(ctx context.Context, sessionID, accessKey string) *SearchOptions {
	return &SearchOptions{
		Context: ctx,
		Time:    time.Now().UTC(),
		Auth:    auth.FromContext(ctx, sessionID, accessKey),
	}
}
