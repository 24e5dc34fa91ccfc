// Package notify holds the in-tree ends of the notification contracts. The
// real mail transport and PDF renderer are external collaborators; what
// lives here is the dev/test surface: a mailer that logs instead of
// sending, and a template-backed receipt renderer.
package notify

import (
	"context"
	"log/slog"

	"ledgerd/internal/billing/ports"
)

// LogMailer records sends in the process log. Default when no transport is
// wired; useful for dry runs against production data.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

var _ ports.Mailer = (*LogMailer)(nil)

func (m *LogMailer) Send(_ context.Context, msg ports.Message) error {
	attachments := make([]string, len(msg.Attachments))
	for i, a := range msg.Attachments {
		attachments[i] = a.Filename
	}
	m.logger.Info("mail send (log only)",
		"template", msg.Template,
		"to", msg.To,
		"cc", msg.CC,
		"bcc", msg.BCC,
		"attachments", attachments,
	)
	return nil
}
