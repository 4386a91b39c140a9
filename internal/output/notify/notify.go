// Package notify delivers reports and alerts over e-mail and Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
	"github.com/lueurxax/profilewatch/internal/platform/observability"
)

const (
	logFieldChannel    = "channel"
	logFieldRecipients = "recipients"
	logFieldParts      = "parts"
)

// Attachment is a file sent along with a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is one outgoing report or alert. Text is required; HTML is an
// optional richer rendering of the same content.
type Message struct {
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Sender delivers messages over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Multi fans a message out to every sender. Delivery succeeds when at least
// one sender succeeds.
type Multi struct {
	senders []Sender
	logger  *zerolog.Logger
}

// NewMulti builds a fan-out over the non-nil senders.
func NewMulti(logger *zerolog.Logger, senders ...Sender) *Multi {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	m := &Multi{logger: logger}

	for _, s := range senders {
		if s != nil {
			m.senders = append(m.senders, s)
		}
	}

	return m
}

// Name implements Sender.
func (m *Multi) Name() string {
	return "multi"
}

// Len returns the number of configured senders.
func (m *Multi) Len() int {
	return len(m.senders)
}

// Send delivers msg through every sender. It fails with ErrDispatchDisabled
// when no sender is configured and with ErrDispatchFailed when all of them
// failed. Partial failures are logged.
func (m *Multi) Send(ctx context.Context, msg Message) error {
	if len(m.senders) == 0 {
		return apperrors.ErrDispatchDisabled
	}

	var errs []error

	for _, s := range m.senders {
		if err := s.Send(ctx, msg); err != nil {
			observability.ReportsDispatched.WithLabelValues(s.Name(), observability.StatusFailure).Inc()
			m.logger.Warn().Err(err).Str(logFieldChannel, s.Name()).Msg("dispatch failed")

			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))

			continue
		}

		observability.ReportsDispatched.WithLabelValues(s.Name(), observability.StatusSuccess).Inc()
	}

	if len(errs) == len(m.senders) {
		return fmt.Errorf("%w: %w", apperrors.ErrDispatchFailed, errors.Join(errs...))
	}

	return nil
}
