// Package transport delivers outreach and report emails over SMTP.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	"github.com/google/uuid"
)

// Config holds SMTP transport configuration
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
	// InsecureSkipVerify disables certificate checks, for local relays only
	InsecureSkipVerify bool
}

// SMTP sends one message per connection. Failures are returned as
// *domain.TransportError.
type SMTP struct {
	config *Config
	logger *slog.Logger
	dialer net.Dialer
	now    func() time.Time
}

// NewSMTP creates an SMTP transport
func NewSMTP(config *Config, logger *slog.Logger) *SMTP {
	return &SMTP{
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Send delivers a plain-text message to a single recipient. The whole
// exchange is bounded by ctx.
func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return domain.NewTransportError(domain.InvalidRecipient, fmt.Errorf("invalid recipient %q: %w", to, err))
	}

	if err := s.send(ctx, rcpt.Address, subject, body); err != nil {
		kind := Classify(err)
		s.logger.Debug("SMTP send failed",
			slog.String("to", rcpt.Address),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
		return domain.NewTransportError(kind, err)
	}

	return nil
}

func (s *SMTP) send(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	// Unblock any pending read or write when ctx ends
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	c, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to read greeting: %w", err)
	}
	defer c.Close()

	if s.config.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{
				ServerName:         s.config.Host,
				InsecureSkipVerify: s.config.InsecureSkipVerify,
			}
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := c.Mail(s.config.From); err != nil {
		return &commandError{cmd: cmdMail, err: err}
	}
	if err := c.Rcpt(to); err != nil {
		return &commandError{cmd: cmdRcpt, err: err}
	}

	w, err := c.Data()
	if err != nil {
		return &commandError{cmd: cmdData, err: err}
	}
	if _, err := w.Write(s.buildMessage(to, subject, body)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return &commandError{cmd: cmdEndData, err: err}
	}

	return c.Quit()
}

func (s *SMTP) buildMessage(to, subject, body string) []byte {
	var b strings.Builder

	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}

	header("From", s.config.From)
	header("To", to)
	header("Subject", mime.QEncoding.Encode("utf-8", sanitizeHeader(subject)))
	header("Date", s.now().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), s.config.Host))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")

	body = strings.ReplaceAll(body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

const (
	cmdMail    = "MAIL FROM"
	cmdRcpt    = "RCPT TO"
	cmdData    = "DATA"
	cmdEndData = "end of data"
)

// commandError records which SMTP command a failed reply answered
type commandError struct {
	cmd string
	err error
}

func (e *commandError) Error() string {
	return fmt.Sprintf("%s rejected: %v", e.cmd, e.err)
}

func (e *commandError) Unwrap() error {
	return e.err
}

// Classify maps an SMTP or network failure to an ErrorKind.
//
//	4xx (421, 450, 451, 452, ...)     rate limited
//	501 550 551 553 in reply to RCPT  invalid recipient
//	other 5xx                         rejected
//	network errors, dropped conn      timeout
func Classify(err error) domain.ErrorKind {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case 501, 550, 551, 553:
			var cmdErr *commandError
			if errors.As(err, &cmdErr) && cmdErr.cmd == cmdRcpt {
				return domain.InvalidRecipient
			}
			return domain.TransportRejected
		}
		if protoErr.Code/100 == 4 {
			return domain.TransportRateLimited
		}
		return domain.TransportRejected
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.TransportTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.TransportTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.TransportTimeout
	}

	return domain.TransportRejected
}
