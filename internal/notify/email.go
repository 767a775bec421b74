package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"scheduler-service/internal/model"
	"scheduler-service/pkg/logging"
)

const defaultSendGridHost = "https://api.sendgrid.com"

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host overrides the API host; tests point it at an httptest server.
	Host string
}

// SendGridSender emails the booking client a plain-text notice via SendGrid.
type SendGridSender struct {
	apiKey    string
	host      string
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Scheduler"
	}
	if cfg.Host == "" {
		cfg.Host = defaultSendGridHost
	}
	return &SendGridSender{
		apiKey:    cfg.APIKey,
		host:      strings.TrimRight(cfg.Host, "/"),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, kind TemplateKind, b model.Booking) error {
	if b.ClientEmail == "" {
		return fmt.Errorf("notify: booking %s has no client email", b.ID)
	}
	subject, body := renderPlain(kind, b)

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(b.ClientName, b.ClientEmail)
	message := mail.NewSingleEmail(from, subject, to, body, "")

	req := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	req.Method = "POST"
	req.Body = mail.GetRequestBody(message)

	response, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "booking_id", b.ID)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "booking_id", b.ID)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("email sent via sendgrid", "kind", string(kind), "booking_id", b.ID, "status", response.StatusCode)
	return nil
}

func renderPlain(kind TemplateKind, b model.Booking) (string, string) {
	when := b.Start.UTC().Format("Mon Jan 2 2006 15:04 MST")
	var subject, lead string
	switch kind {
	case BookingCancelled:
		subject = "Your appointment was cancelled"
		lead = "Your appointment on " + when + " has been cancelled."
	case BookingRescheduled:
		subject = "Your appointment was moved"
		lead = "Your appointment now starts " + when + "."
	default:
		subject = "Your appointment is confirmed"
		lead = "Your appointment on " + when + " is confirmed."
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s,\n\n%s\n", b.ClientName, lead)
	if kind != BookingCancelled {
		fmt.Fprintf(&body, "Duration: %d minutes\n", int(b.Duration()/time.Minute))
		if u := joinURL(b); u != "" {
			fmt.Fprintf(&body, "Join link: %s\n", u)
		}
	}
	fmt.Fprintf(&body, "\nReference: %s\n", b.ID)
	return subject, body.String()
}
