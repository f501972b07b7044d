// Package mail delivers transactional email.
package mail

import (
	"context"
	"log/slog"
	"strings"
)

// Message is a single HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers messages. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. It is the
// development default so codes can be read from the server output.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email not delivered (log driver)", "to", msg.To, "subject", msg.Subject, "bodyBytes", len(msg.HTML))
	logger.Debug("email body", "to", msg.To, "html", strings.TrimSpace(msg.HTML))
	return nil
}
