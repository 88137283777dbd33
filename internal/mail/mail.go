package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/jordan-wright/email"
	goi18n "github.com/nicksnyder/go-i18n/i18n"
	conf "github.com/webitel/report-orchestrator/config"
	"github.com/webitel/report-orchestrator/internal/errors"
)

const (
	KindReport = "report"
	KindBatch  = "batch"
)

type Message struct {
	ID      string
	From    string
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// Content is what a shared-link message says.
type Content struct {
	Kind     string
	From     string
	FileName string
	Link     string
	Expires  time.Time
	SendDate time.Time
}

func Render(T goi18n.TranslateFunc, c Content) string {
	id := "mail.body.report"
	if c.Kind == KindBatch {
		id = "mail.body.batch"
	}
	body := T(id, map[string]any{
		"From":     c.From,
		"FileName": c.FileName,
		"Link":     c.Link,
		"Expires":  c.Expires.UTC().Format("2006-01-02 15:04 MST"),
	})
	footer := T("mail.footer", map[string]any{
		"SendDate": c.SendDate.UTC().Format("2006-01-02"),
	})
	return body + "\n\n" + footer
}

// SMTPSender delivers through a relay. The envelope sender is fixed by
// configuration; the caller-supplied sender becomes Reply-To.
type SMTPSender struct {
	addr string
	auth smtp.Auth
	from string
	log  *slog.Logger
}

func NewSMTPSender(cfg *conf.SmtpConfig, log *slog.Logger) *SMTPSender {
	s := &SMTPSender{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from: cfg.From,
		log:  log,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s
}

func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	e := email.NewEmail()
	e.From = s.from
	if e.From == "" {
		e.From = msg.From
	}
	e.ReplyTo = []string{msg.From}
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)
	e.Headers.Set("Message-Id", fmt.Sprintf("<%s>", msg.ID))

	done := make(chan error, 1)
	go func() { done <- e.Send(s.addr, s.auth) }()
	select {
	case <-ctx.Done():
		return errors.Timeout("smtp send aborted", errors.WithID("mail.smtp.send"), errors.WithCause(ctx.Err()))
	case err := <-done:
		if err != nil {
			return errors.Network("smtp send failed", errors.WithID("mail.smtp.send"), errors.WithCause(err))
		}
	}
	s.log.DebugContext(ctx, "report_orchestrator.mail.sent", slog.String("message_id", msg.ID))
	return nil
}

// Disabled rejects every message; it stands in when no relay is configured.
type Disabled struct{}

func (Disabled) Send(context.Context, *Message) error {
	return errors.Internal("email delivery is not configured", errors.WithID("mail.disabled"))
}
