package notify

import (
	"context"

	"go.uber.org/zap"
)

type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// LogMailer writes mails to the log instead of an SMTP relay.
type LogMailer struct {
	Logger *zap.Logger
}

func (l LogMailer) Send(_ context.Context, m Mail) error {
	l.Logger.Info("mail sent",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.Bool("html", m.HTML),
		zap.Int("body_bytes", len(m.Body)))
	return nil
}
