package mailer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"dbquery/internal/config"
)

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func TestNewRequiresServer(t *testing.T) {
	_, err := New(config.EmailConfig{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	m, err := New(config.EmailConfig{SMTPServer: "smtp.example.com", SMTPUser: "bot@example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "bot@example.com", m.from)
}

func TestSendDeck(t *testing.T) {
	fake := &fakeSender{}
	m := NewWithSender(fake, "copilot@example.com", nil)

	require.NoError(t, m.SendDeck("ops@example.com", "insights.pptx", []byte("PK-deck")))
	require.Len(t, fake.sent, 1)

	msg := fake.sent[0]
	assert.Equal(t, []string{"ops@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{deckSubject}, msg.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `filename="insights.pptx"`)
}

func TestSendDeckErrors(t *testing.T) {
	m := NewWithSender(&fakeSender{}, "a@example.com", nil)
	assert.Error(t, m.SendDeck("", "x.pptx", nil))

	m = NewWithSender(&fakeSender{err: errors.New("connection refused")}, "a@example.com", nil)
	err := m.SendDeck("b@example.com", "x.pptx", nil)
	assert.ErrorContains(t, err, "connection refused")
}
