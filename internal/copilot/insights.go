package copilot

import (
	"bytes"
	"fmt"
	"io"

	"go.uber.org/zap"

	"dbquery/internal/deck"
	"dbquery/internal/session"
)

// Pin saves the last result as an insight, charted with the automatic chart spec
func (s *Service) Pin(sess *session.Session) (session.Insight, error) {
	sess.Lock()
	defer sess.Unlock()

	if sess.LastResult == nil {
		return session.Insight{}, ErrNoResult
	}

	summary := sess.LastSQL
	if summary == "" {
		summary = sess.GeneratedSQL
	}
	ins := session.NewInsight(summary, sess.LastResult, deck.AutoChart(sess.LastResult), s.opts.Now())
	sess.Pinned = append(sess.Pinned, ins)
	sess.AddHistory("Pinned: " + ins.Title)
	return ins, nil
}

// Pinned returns the pinned insights, newest first
func (s *Service) Pinned(sess *session.Session) []session.Insight {
	sess.Lock()
	defer sess.Unlock()
	return sess.PinnedNewestFirst()
}

func (s *Service) ClearPinned(sess *session.Session) {
	sess.Lock()
	defer sess.Unlock()
	sess.Pinned = nil
}

// History returns the last n history entries, newest first
func (s *Service) History(sess *session.Session, n int) []string {
	sess.Lock()
	defer sess.Unlock()
	return sess.RecentHistory(n)
}

// ExportPinned writes the pinned insights as a slide deck, in pin order
func (s *Service) ExportPinned(sess *session.Session, w io.Writer) error {
	sess.Lock()
	cards := make([]deck.Card, 0, len(sess.Pinned))
	for _, p := range sess.Pinned {
		cards = append(cards, p.Card())
	}
	sess.Unlock()

	if err := deck.CreatePPTX(cards, w); err != nil {
		s.logger.Error("PPT export failed", zap.Error(err))
		return fmt.Errorf("PPT export failed: %w", err)
	}
	return nil
}

// DeckFileName names an exported deck after the export time
func (s *Service) DeckFileName() string {
	return "insights_" + s.opts.Now().Format("20060102_150405") + ".pptx"
}

// ResultFileName names a CSV download after the export time
func (s *Service) ResultFileName() string {
	return "result_" + s.opts.Now().Format("20060102_150405") + ".csv"
}

// EmailPinned exports the pinned insights and mails the deck to to
func (s *Service) EmailPinned(sess *session.Session, to string) error {
	m, err := s.newMailer(s.currentSettings().Email)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := s.ExportPinned(sess, &buf); err != nil {
		return err
	}
	if err := m.SendDeck(to, s.DeckFileName(), buf.Bytes()); err != nil {
		return err
	}

	sess.Lock()
	sess.AddHistory("Emailed deck to " + to)
	sess.Unlock()
	return nil
}

// LastResultCSV writes the last result as CSV
func (s *Service) LastResultCSV(sess *session.Session, w io.Writer) error {
	sess.Lock()
	r := sess.LastResult
	sess.Unlock()

	if r == nil {
		return ErrNothingToSave
	}
	return r.WriteCSV(w)
}
