package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/store"
)

type IDType string

const (
	ReportID  IDType = "ReportID"
	BatchID   IDType = "BatchID"
	SessionID IDType = "SessionID"
)

// Identifier prefixes; SendEmail routes on them.
const (
	ReportPrefix  = "R"
	BatchPrefix   = "B"
	SessionPrefix = "S"
)

const (
	maxAllocateAttempts = 10
	idAlphabet          = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	idWidth             = 8
)

// DefaultGenerators are seeded when missing. Counters are fixed-width so the
// issued identifiers sort lexically in issue order.
var DefaultGenerators = []store.Generator{
	{Type: string(ReportID), Prefix: ReportPrefix, NextID: firstID()},
	{Type: string(BatchID), Prefix: BatchPrefix, NextID: firstID()},
	{Type: string(SessionID), Prefix: SessionPrefix, NextID: firstID()},
}

func firstID() string {
	return strings.Repeat("0", idWidth-1) + "1"
}

// IDAllocator issues identifiers under optimistic concurrency: read the
// counter and its etag, write the increment guarded by that etag, retry on conflict.
type IDAllocator struct {
	generators store.GeneratorStore
	attempts   int
	log        *slog.Logger
}

func NewIDAllocator(generators store.GeneratorStore, log *slog.Logger) (*IDAllocator, error) {
	if generators == nil {
		return nil, errors.Internal("generator store is nil in IDAllocator")
	}
	return &IDAllocator{generators: generators, attempts: maxAllocateAttempts, log: log}, nil
}

// Seed inserts any missing default generator.
func (a *IDAllocator) Seed(ctx context.Context) error {
	for _, g := range DefaultGenerators {
		g := g
		if _, err := a.generators.Insert(ctx, &g); err != nil && !errors.Is(err, store.ErrExists) {
			return errors.Internal("seed id generator", errors.WithID("service.ids.seed"), errors.WithCause(err))
		}
	}
	return nil
}

func (a *IDAllocator) Allocate(ctx context.Context, typ IDType) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", errors.Timeout("allocation cancelled", errors.WithID("service.ids.allocate"), errors.WithCause(err))
		}

		g, etag, err := a.generators.Get(ctx, string(typ))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", errors.NotFound("no generator for "+string(typ), errors.WithID("service.ids.allocate"))
			}
			return "", err
		}

		next, err := incrementID(g.NextID)
		if err != nil {
			return "", err
		}
		id := strings.ToUpper(g.Prefix + g.NextID)
		g.NextID = next

		if _, err := a.generators.Replace(ctx, g, etag); err != nil {
			if errors.Is(err, store.ErrConflict) {
				lastErr = err
				a.log.DebugContext(ctx, "report_orchestrator.service.allocate_conflict",
					slog.String("type", string(typ)),
					slog.Int("attempt", attempt))
				continue
			}
			return "", err
		}
		return id, nil
	}
	return "", errors.Exhausted("id allocation kept conflicting",
		errors.WithID("service.ids.allocate.exhausted"),
		errors.WithCause(lastErr))
}

// incrementID adds one to a base36 counter, keeping its width.
func incrementID(counter string) (string, error) {
	digits := []byte(strings.ToUpper(counter))
	if len(digits) == 0 {
		return "", errors.Internal("empty id counter", errors.WithID("service.ids.increment"))
	}
	for i := len(digits) - 1; i >= 0; i-- {
		pos := strings.IndexByte(idAlphabet, digits[i])
		if pos < 0 {
			return "", errors.Internal("id counter holds a non-alphanumeric digit", errors.WithID("service.ids.increment"))
		}
		if pos < len(idAlphabet)-1 {
			digits[i] = idAlphabet[pos+1]
			return string(digits), nil
		}
		digits[i] = idAlphabet[0]
	}
	return "", errors.Exhausted("id counter overflow", errors.WithID("service.ids.increment.overflow"))
}
