package options

import (
	"context"
	"time"

	"github.com/webitel/report-orchestrator/auth"
)

type UpdateOptions struct {
	context.Context
	Time time.Time
	Auth auth.Auther
}

func NewUpdateOptions(ctx context.Context, sessionID, accessKey string) *UpdateOptions {
	return &UpdateOptions{
		Context: ctx,
		Time:    time.Now().UTC(),
		Auth:    auth.FromContext(ctx, sessionID, accessKey),
	}
}

// Getters
func (o *CreateOptions) RequestTime() time.Time { return o.Time }
func (o *CreateOptions) GetAuth() auth.Auther   { return o.Auth }

func (o *SearchOptions) RequestTime() time.Time { return o.Time }
func (o *SearchOptions) GetAuth() auth.Auther   { return o.Auth }

func (o *UpdateOptions) RequestTime() time.Time { return o.Time }
func (o *UpdateOptions) GetAuth() auth.Auther   { return o.Auth }
