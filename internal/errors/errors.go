package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies an error for retry and surfacing decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindAuth
	KindConflict
	KindExhausted
	KindTimeout
	KindNotReady
	KindValidation
	KindNotFound
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindConflict:
		return "concurrency_conflict"
	case KindExhausted:
		return "concurrency_exhausted"
	case KindTimeout:
		return "timeout"
	case KindNotReady:
		return "link_propagation_delay"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Transient reports whether errors of this kind are worth retrying locally.
func (k Kind) Transient() bool {
	return k == KindNetwork || k == KindConflict || k == KindNotReady
}

type AppError struct {
	ID      string
	Message string
	Code    codes.Code
	Kind    Kind
	Cause   error
}

func (e *AppError) Error() string {
	var b strings.Builder
	if e.ID != "" {
		b.WriteString(e.ID)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *AppError) Unwrap() error { return e.Cause }

// GRPCStatus lets status.FromError and status.Code see the application code.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Error())
}

type Option func(*AppError)

func WithID(id string) Option { return func(e *AppError) { e.ID = id } }

func WithCode(code codes.Code) Option { return func(e *AppError) { e.Code = code } }

func WithCause(err error) Option { return func(e *AppError) { e.Cause = err } }

func WithKind(kind Kind) Option { return func(e *AppError) { e.Kind = kind } }

// New builds an AppError. The default code is Unknown.
func New(msg string, opts ...Option) error {
	e := &AppError{Message: msg, Code: codes.Unknown}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func newKind(kind Kind, code codes.Code, msg string, opts []Option) error {
	e := &AppError{Message: msg, Code: code, Kind: kind}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func Internal(msg string, opts ...Option) error {
	return newKind(KindInternal, codes.Internal, msg, opts)
}

func Network(msg string, opts ...Option) error {
	return newKind(KindNetwork, codes.Unavailable, msg, opts)
}

func Auth(msg string, opts ...Option) error {
	return newKind(KindAuth, codes.Unauthenticated, msg, opts)
}

func Conflict(msg string, opts ...Option) error {
	return newKind(KindConflict, codes.Aborted, msg, opts)
}

func Exhausted(msg string, opts ...Option) error {
	return newKind(KindExhausted, codes.Aborted, msg, opts)
}

func Timeout(msg string, opts ...Option) error {
	return newKind(KindTimeout, codes.DeadlineExceeded, msg, opts)
}

func NotReady(msg string, opts ...Option) error {
	return newKind(KindNotReady, codes.Unavailable, msg, opts)
}

func Validation(msg string, opts ...Option) error {
	return newKind(KindValidation, codes.InvalidArgument, msg, opts)
}

func NotFound(msg string, opts ...Option) error {
	return newKind(KindNotFound, codes.NotFound, msg, opts)
}

// NewDBInternalError wraps a backend failure of the named store operation.
func NewDBInternalError(op string, err error) error {
	return Internal("database operation failed",
		WithID("store."+op),
		WithCause(err),
	)
}

// KindOf classifies err, looking through wrapped causes and gRPC statuses.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var app *AppError
	if stderrors.As(err, &app) && app.Kind != KindUnknown {
		return app.Kind
	}
	var authErr AuthError
	if stderrors.As(err, &authErr) {
		return KindAuth
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.ResourceExhausted:
			return KindNetwork
		case codes.Unauthenticated, codes.PermissionDenied:
			return KindAuth
		case codes.InvalidArgument:
			return KindValidation
		case codes.NotFound:
			return KindNotFound
		case codes.Aborted:
			return KindConflict
		case codes.Unknown:
			return KindUnknown
		}
		return KindInternal
	}
	return KindUnknown
}

// Code returns the gRPC code carried by err.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var app *AppError
	if stderrors.As(err, &app) {
		return app.Code
	}
	var authErr AuthError
	if stderrors.As(err, &authErr) {
		return codes.Unauthenticated
	}
	return status.Code(err)
}

// Details renders the id and cause chain of err for logs.
func Details(err error) string {
	if err == nil {
		return ""
	}
	var app *AppError
	if stderrors.As(err, &app) {
		return fmt.Sprintf("id=%s kind=%s code=%s: %s", app.ID, app.Kind, app.Code, err.Error())
	}
	return err.Error()
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
