package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/storage"
)

// ErrLinkNotReady means the blob was not visible after every attempt.
// Callers surface it as a retrievable-but-not-ready result.
var ErrLinkNotReady = errors.NotReady("download link not ready", errors.WithID("service.links.not_ready"))

type LinkIssuer struct {
	blob     storage.Blob
	attempts uint
	delay    time.Duration
	log      *slog.Logger
}

func NewLinkIssuer(blob storage.Blob, attempts int, delay time.Duration, log *slog.Logger) *LinkIssuer {
	if attempts < 1 {
		attempts = 1
	}
	return &LinkIssuer{blob: blob, attempts: uint(attempts), delay: delay, log: log}
}

// Issue signs a read-only URI for key. The object must be visible first;
// propagation lag is absorbed by a few constant-delay retries.
func (l *LinkIssuer) Issue(ctx context.Context, key, fileName string, ttl time.Duration) (string, error) {
	op := func() (string, error) {
		ok, err := l.blob.Exists(ctx, key)
		if err != nil {
			if !errors.KindOf(err).Transient() {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if !ok {
			return "", errors.NotReady("object not visible yet", errors.WithID("service.links.propagation"))
		}
		uri, err := l.blob.SignGet(ctx, key, storage.SignOptions{TTL: ttl, FileName: fileName})
		if err != nil {
			return "", backoff.Permanent(err)
		}
		return uri, nil
	}

	uri, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(l.delay)),
		backoff.WithMaxTries(l.attempts),
	)
	if err != nil {
		if errors.KindOf(err) == errors.KindNotReady || errors.KindOf(err) == errors.KindNetwork {
			l.log.WarnContext(ctx, "report_orchestrator.service.link_not_ready",
				slog.String("key", key),
				slog.String("error", err.Error()))
			return "", ErrLinkNotReady
		}
		return "", err
	}
	return uri, nil
}
