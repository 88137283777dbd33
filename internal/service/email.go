package service

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	goi18n "github.com/nicksnyder/go-i18n/i18n"
	"github.com/webitel/report-orchestrator/auth"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/mail"
	"github.com/webitel/report-orchestrator/internal/model"
	"github.com/webitel/report-orchestrator/internal/model/options"
	"github.com/webitel/report-orchestrator/internal/store"
)

const messageIDDomain = "reports.webitel"

type EmailRequest struct {
	RecordID string
	From     string
	Subject  string
	To       []string
	Link     string
	FileName string
	SendDate time.Time
	Multiple bool
	Serial   string
}

func (r *EmailRequest) validate() error {
	missing := ""
	switch {
	case r.RecordID == "":
		missing = "record id"
	case r.From == "":
		missing = "from"
	case r.Subject == "":
		missing = "subject"
	case len(r.To) == 0:
		missing = "to"
	case r.Link == "":
		missing = "link"
	case r.FileName == "":
		missing = "file name"
	case r.SendDate.IsZero():
		missing = "send date"
	}
	if missing != "" {
		return errors.Validation(missing+" is required", errors.WithID("service.email.required"))
	}
	for _, to := range r.To {
		if strings.TrimSpace(to) == "" {
			return errors.Validation("blank recipient", errors.WithID("service.email.recipient"))
		}
	}
	return nil
}

type EmailService interface {
	SendEmail(opts *options.CreateOptions, req *EmailRequest) ([]string, error)
}

type EmailServiceImpl struct {
	store    store.Store
	links    *LinkIssuer
	sessions auth.Manager
	sender   mail.Sender
	ttl      LinkTTLs
	T        goi18n.TranslateFunc
	log      *slog.Logger
}

func NewEmailService(st store.Store, links *LinkIssuer, sessions auth.Manager, sender mail.Sender, ttl LinkTTLs, T goi18n.TranslateFunc, log *slog.Logger) (*EmailServiceImpl, error) {
	if st == nil || links == nil || sessions == nil || sender == nil || T == nil {
		return nil, errors.Internal("dependency is nil in EmailService")
	}
	return &EmailServiceImpl{store: st, links: links, sessions: sessions, sender: sender, ttl: ttl, T: T, log: log}, nil
}

// SendEmail mails a freshly signed link for a finished report (R...) or batch
// (B...), one message per recipient. The link presented by the caller is not
// trusted. Ids of delivered messages are returned; it fails only when none was.
func (s *EmailServiceImpl) SendEmail(opts *options.CreateOptions, req *EmailRequest) ([]string, error) {
	ctx := opts.Context
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.sessions.Authorize(ctx, opts.Auth); err != nil {
		return nil, err
	}
	sessionID := opts.Auth.GetSessionID()

	var (
		kind     string
		filePath string
		ttl      time.Duration
	)
	switch {
	case strings.HasPrefix(req.RecordID, BatchPrefix):
		rec, _, err := s.store.Batches().Get(ctx, sessionID, req.RecordID)
		if err != nil {
			return nil, err
		}
		if rec.Status != model.StatusComplete {
			return nil, errors.NotReady("batch is not complete", errors.WithID("service.email.batch_pending"))
		}
		kind, filePath, ttl = mail.KindBatch, rec.FilePath, s.ttl.Batch
	case strings.HasPrefix(req.RecordID, ReportPrefix):
		if req.Serial == "" {
			return nil, errors.Validation("serial is required for a report", errors.WithID("service.email.serial"))
		}
		rec, _, err := s.store.Reports().Get(ctx, req.Serial, req.RecordID)
		if err != nil {
			return nil, err
		}
		if rec.SessionID != sessionID {
			return nil, notOwnerError()
		}
		if rec.Status != model.StatusComplete {
			return nil, errors.NotReady("report is not complete", errors.WithID("service.email.report_pending"))
		}
		kind, filePath, ttl = mail.KindReport, rec.FilePath, s.ttl.Report
	default:
		return nil, errors.Validation("record id must name a report or a batch", errors.WithID("service.email.record_id"))
	}

	link, err := s.links.Issue(ctx, filePath, req.FileName, ttl)
	if err != nil {
		return nil, err
	}
	body := mail.Render(s.T, mail.Content{
		Kind:     kind,
		From:     req.From,
		FileName: req.FileName,
		Link:     link,
		Expires:  opts.Time.Add(ttl),
		SendDate: req.SendDate,
	})

	var (
		sent []string
		errs []error
	)
	for _, to := range req.To {
		msg := &mail.Message{
			ID:      uuid.NewString() + "@" + messageIDDomain,
			From:    req.From,
			To:      strings.TrimSpace(to),
			Subject: req.Subject,
			Body:    body,
		}
		if err := s.sender.Send(ctx, msg); err != nil {
			s.log.WarnContext(ctx, "report_orchestrator.service.email_failed",
				slog.String("record_id", req.RecordID),
				slog.String("to", msg.To),
				slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		sent = append(sent, msg.ID)
	}
	if len(sent) == 0 {
		return nil, errors.Join(errs...)
	}
	s.log.InfoContext(ctx, "report_orchestrator.service.email_sent",
		slog.String("record_id", req.RecordID),
		slog.Int("messages", len(sent)))
	return sent, nil
}
