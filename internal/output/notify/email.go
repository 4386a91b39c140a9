package notify

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gopkg.in/mail.v2"

	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
)

const (
	emailChannel = "email"

	defaultRatePerMinute = 30
)

// EmailConfig configures the SMTP sender.
type EmailConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	DefaultTo     []string
	RatePerMinute int
}

type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// EmailSender sends messages over SMTP, throttled to a fixed rate.
type EmailSender struct {
	dialer    dialer
	from      string
	defaultTo []string
	limiter   *rate.Limiter
	logger    *zerolog.Logger
}

// NewEmailSender builds an SMTP sender.
func NewEmailSender(cfg EmailConfig, logger *zerolog.Logger) *EmailSender {
	return newEmailSender(mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg, logger)
}

func newEmailSender(d dialer, cfg EmailConfig, logger *zerolog.Logger) *EmailSender {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}

	return &EmailSender{
		dialer:    d,
		from:      cfg.From,
		defaultTo: append([]string(nil), cfg.DefaultTo...),
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		logger:    logger,
	}
}

// Name implements Sender.
func (s *EmailSender) Name() string {
	return emailChannel
}

// Send delivers msg to msg.To, or to the default recipients when msg.To is
// empty.
func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	to := msg.To
	if len(to) == 0 {
		to = s.defaultTo
	}

	if len(to) == 0 {
		return fmt.Errorf("%w: no e-mail recipients", apperrors.ErrDispatchDisabled)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("email rate limit: %w", err)
	}

	if err := s.dialer.DialAndSend(s.build(to, msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Debug().Strs(logFieldRecipients, to).Msg("email sent")

	return nil
}

func (s *EmailSender) build(to []string, msg Message) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)

	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}

	for _, a := range msg.Attachments {
		data := a.Data
		settings := []mail.FileSetting{
			mail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)

				return err
			}),
		}

		if a.ContentType != "" {
			settings = append(settings, mail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}))
		}

		m.Attach(a.Name, settings...)
	}

	return m
}
