package mail

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	conf "github.com/webitel/report-orchestrator/config"
	"github.com/webitel/report-orchestrator/internal/locale"
)

func TestRender(t *testing.T) {
	require.NoError(t, locale.Load())
	body := Render(locale.T(locale.DefaultLanguage), Content{
		Kind:     KindBatch,
		From:     "clinic@example.com",
		FileName: "Reports 2026-10-14 09-30.zip",
		Link:     "https://blob.example.com/b.zip?sig=1",
		Expires:  time.Date(2026, 10, 28, 9, 30, 0, 0, time.UTC),
		SendDate: time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC),
	})
	assert.Contains(t, body, "shared a report archive")
	assert.Contains(t, body, "Reports 2026-10-14 09-30.zip")
	assert.Contains(t, body, "2026-10-28 09:30 UTC")
	assert.Contains(t, body, "Sent on 2026-10-14")
}

func TestSMTPSenderHonoursContext(t *testing.T) {
	s := NewSMTPSender(&conf.SmtpConfig{Host: "192.0.2.1", Port: 25, From: "noreply@example.com"}, slog.Default())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, &Message{ID: "m1", From: "a@example.com", To: "b@example.com", Subject: "s", Body: "b"})
	assert.Error(t, err)
}

func TestDisabled(t *testing.T) {
	assert.Error(t, Disabled{}.Send(context.Background(), &Message{}))
}
