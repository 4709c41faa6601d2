package mailer

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"dbquery/internal/config"
	"dbquery/internal/logging"
)

// ErrNotConfigured is returned when no SMTP server is set
var ErrNotConfigured = errors.New("email is not configured: set smtp_server in settings")

const deckSubject = "Automated Insights Report"

// Sender delivers composed messages
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Mailer struct {
	sender Sender
	from   string
	logger *zap.Logger
}

// New builds a mailer from the email settings
func New(cfg config.EmailConfig, logger *zap.Logger) (*Mailer, error) {
	if cfg.SMTPServer == "" {
		return nil, ErrNotConfigured
	}
	from := cfg.From
	if from == "" {
		from = cfg.SMTPUser
	}
	d := gomail.NewDialer(cfg.SMTPServer, cfg.Port(), cfg.SMTPUser, cfg.SMTPPass)
	return NewWithSender(d, from, logger), nil
}

func NewWithSender(s Sender, from string, logger *zap.Logger) *Mailer {
	return &Mailer{sender: s, from: from, logger: logging.OrNop(logger)}
}

// SendDeck mails data as an attachment named filename
func (m *Mailer) SendDeck(to, filename string, data []byte) error {
	if to == "" {
		return errors.New("recipient is required")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", deckSubject)
	msg.SetBody("text/html", `
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #282828;">
			<h2>Automated Insights Report</h2>
			<p>The pinned insights deck is attached.</p>
		</div>
	`)
	msg.Attach(filename, gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}))

	if err := m.sender.DialAndSend(msg); err != nil {
		m.logger.Error("failed to send deck", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("deck sent", zap.String("to", to), zap.Int("bytes", len(data)))
	return nil
}
