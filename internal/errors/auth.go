package errors

import (
	"fmt"

	goi18n "github.com/nicksnyder/go-i18n/i18n"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AuthError is a rejected session. The detail is translatable by id.
type AuthError interface {
	error
	GetId() string
	GetDetailedError() string
	Translate(goi18n.TranslateFunc)
}

// SessionError carries the id of the check that rejected the caller. Params
// are passed to the translation template.
type SessionError struct {
	Id     string
	Detail string
	Params map[string]any
}

func (err *SessionError) Error() string {
	return fmt.Sprintf("session rejected [%s]: %s", err.Id, err.Detail)
}

func (err *SessionError) GetId() string            { return err.Id }
func (err *SessionError) GetDetailedError() string { return err.Detail }

func (err *SessionError) GRPCStatus() *status.Status {
	return status.New(codes.Unauthenticated, err.Detail)
}

// Translate replaces the detail with the translation of the id. An id with no
// translation keeps the original detail.
func (err *SessionError) Translate(T goi18n.TranslateFunc) {
	if T == nil {
		if err.Detail == "" {
			err.Detail = err.Id
		}
		return
	}
	var text string
	if err.Params == nil {
		text = T(err.Id)
	} else {
		text = T(err.Id, err.Params)
	}
	if text != err.Id {
		err.Detail = text
	}
}

// NewSessionRejectedError reports a session whose key, address or expiry failed validation.
func NewSessionRejectedError(id, details string) AuthError {
	return &SessionError{Id: id, Detail: details}
}
