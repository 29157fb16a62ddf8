// Package email provides the SMTP dispatcher for email-kind outbox rows.
package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"

	"github.com/outboxlab/outpost/internal/domain"
)

// Config holds email dispatcher configuration.
type Config struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
}

// Dispatcher sends email-kind outbox rows via SMTP. Construct one only
// when email delivery is actually configured: an unregistered kind
// fails through the normal retry path instead of acknowledging mail
// that was never sent.
type Dispatcher struct {
	config Config
	auth   smtp.Auth
}

// NewDispatcher creates an email dispatcher.
func NewDispatcher(config Config) (*Dispatcher, error) {
	if config.SMTPHost == "" {
		return nil, errors.New("email dispatcher: SMTP host is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("email dispatcher: from address is required")
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	slog.Info("email dispatcher configured",
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
	)

	return &Dispatcher{config: config, auth: auth}, nil
}

// Kind returns the outbox kind this dispatcher handles.
func (d *Dispatcher) Kind() domain.Kind {
	return domain.KindEmail
}

// Dispatch sends one email row. A malformed payload is permanent; SMTP
// errors are retryable.
func (d *Dispatcher) Dispatch(ctx context.Context, row domain.OutboxRow) error {
	var payload domain.EmailPayload
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return &PermanentError{Message: fmt.Sprintf("malformed email payload: %v", err)}
	}
	if payload.To == "" {
		return &PermanentError{Message: "email payload has no recipient"}
	}

	if err := d.send(ctx, payload); err != nil {
		return &RetryableError{Message: fmt.Sprintf("smtp send: %v", err)}
	}

	slog.Debug("email sent", "to", payload.To, "subject", payload.Subject)
	return nil
}

// send delivers the message over SMTP, honoring context cancellation via
// the connection deadline.
func (d *Dispatcher) send(ctx context.Context, payload domain.EmailPayload) error {
	addr := fmt.Sprintf("%s:%d", d.config.SMTPHost, d.config.SMTPPort)

	msg := buildMessage(d.config.FromAddress, payload)

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, d.config.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(nil); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if d.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(d.auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(d.config.FromAddress); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(payload.To); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}

	return client.Quit()
}

func buildMessage(from string, payload domain.EmailPayload) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", payload.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", payload.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(payload.Body)
	return []byte(b.String())
}
