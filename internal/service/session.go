package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/webitel/report-orchestrator/auth"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/model"
	"github.com/webitel/report-orchestrator/internal/store"
)

const (
	accessKeyBytes    = 32
	maxRenewAttempts  = 3
	sessionRejectedID = "service.session.rejected"
	sessionNotOwnerID = "service.session.not_owner"
)

type SessionService interface {
	auth.Manager
	GetOrCreate(ctx context.Context, address, oldSessionID, oldAccessKey string) (*model.Session, bool, error)
	Validate(ctx context.Context, address, sessionID, accessKey string) (bool, error)
}

type SessionServiceImpl struct {
	sessions store.SessionStore
	ids      *IDAllocator
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewSessionService(sessions store.SessionStore, ids *IDAllocator, ttl time.Duration, log *slog.Logger) (*SessionServiceImpl, error) {
	if sessions == nil || ids == nil {
		return nil, errors.Internal("store or allocator is nil in SessionService")
	}
	return &SessionServiceImpl{sessions: sessions, ids: ids, ttl: ttl, now: time.Now, log: log}, nil
}

// GetOrCreate renews the presented session when it is still valid for address,
// and otherwise mints a new one. The bool is true when the old session was kept.
func (s *SessionServiceImpl) GetOrCreate(ctx context.Context, address, oldSessionID, oldAccessKey string) (*model.Session, bool, error) {
	if oldSessionID != "" && oldAccessKey != "" {
		sess, err := s.renew(ctx, address, oldSessionID, oldAccessKey)
		if err != nil {
			return nil, false, err
		}
		if sess != nil {
			return sess, true, nil
		}
	}

	sess, err := s.mint(ctx, address)
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

// renew returns nil without error when the old session may not be reused.
func (s *SessionServiceImpl) renew(ctx context.Context, address, sessionID, accessKey string) (*model.Session, error) {
	for attempt := 0; attempt < maxRenewAttempts; attempt++ {
		sess, etag, err := s.sessions.Get(ctx, address, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		now := s.now()
		if !sessionMatches(sess, address, accessKey, now) {
			s.log.InfoContext(ctx, "report_orchestrator.service.session_replaced",
				slog.String("session_id", sessionID),
				slog.String("address", address))
			return nil, nil
		}

		sess.ExpireDT = now.Add(s.ttl)
		if _, err := s.sessions.Replace(ctx, sess, etag); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return nil, err
		}
		return sess, nil
	}
	return nil, errors.Exhausted("session renewal kept conflicting", errors.WithID("service.session.renew"))
}

func (s *SessionServiceImpl) mint(ctx context.Context, address string) (*model.Session, error) {
	id, err := s.ids.Allocate(ctx, SessionID)
	if err != nil {
		return nil, err
	}
	key, err := newAccessKey()
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &model.Session{
		SessionID: id,
		Address:   address,
		AccessKey: key,
		LogonDT:   now,
		ExpireDT:  now.Add(s.ttl),
	}
	if _, err := s.sessions.Insert(ctx, sess); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "report_orchestrator.service.session_created",
		slog.String("session_id", id),
		slog.String("address", address))
	return sess, nil
}

// Validate is a read-only check: it rejects when the key mismatches, the
// address mismatches, or the session has expired.
func (s *SessionServiceImpl) Validate(ctx context.Context, address, sessionID, accessKey string) (bool, error) {
	if sessionID == "" || accessKey == "" {
		return false, nil
	}
	sess, _, err := s.sessions.Get(ctx, address, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return sessionMatches(sess, address, accessKey, s.now()), nil
}

// Authorize implements auth.Manager.
func (s *SessionServiceImpl) Authorize(ctx context.Context, caller auth.Auther) error {
	ok, err := s.Validate(ctx, caller.GetAddress(), caller.GetSessionID(), caller.GetAccessKey())
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewSessionRejectedError(sessionRejectedID, "session is invalid or expired")
	}
	return nil
}

func sessionMatches(sess *model.Session, address, accessKey string, now time.Time) bool {
	keyMatch := subtle.ConstantTimeCompare([]byte(sess.AccessKey), []byte(accessKey)) == 1
	addressMatch := sess.Address == address
	return keyMatch && addressMatch && !sess.Expired(now)
}

func newAccessKey() (string, error) {
	buf := make([]byte, accessKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Internal("generate access key", errors.WithID("service.session.access_key"), errors.WithCause(err))
	}
	return hex.EncodeToString(buf), nil
}

func notOwnerError() error {
	return errors.NewSessionRejectedError(sessionNotOwnerID, "record belongs to another session")
}
