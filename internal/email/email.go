// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

// Package email delivers the HTML messages the auth package renders.
package email

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Mail backends.
const (
	BackendLog  = "log"
	BackendSMTP = "smtp"
)

// DefaultSubject is used when Config.Subject is empty.
const DefaultSubject = "Change password"

// Config selects and configures the mail backend.
type Config struct {
	Backend  string `koanf:"backend"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	Subject  string `koanf:"subject"`
}

// Sender is what the auth package calls to deliver mail.
type Sender interface {
	Send(ctx context.Context, to, html string) error
}

// New builds the mailer named by cfg.Backend.
func New(cfg Config, logger *slog.Logger) (Sender, error) {
	switch cfg.Backend {
	case "", BackendLog:
		return NewLogMailer(logger), nil
	case BackendSMTP:
		return NewSMTPMailer(cfg)
	default:
		return nil, oops.Code("MAIL_BACKEND_INVALID").
			With("backend", cfg.Backend).
			Errorf("unknown mail backend %q", cfg.Backend)
	}
}

// LogMailer writes messages to the log instead of sending them.
// Use it in development, where the reset link can be copied from the output.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer. A nil logger uses slog.Default().
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger.With("component", "email")}
}

// Send logs the message.
func (m *LogMailer) Send(ctx context.Context, to, html string) error {
	m.logger.InfoContext(ctx, "email not sent, log backend", "to", to, "html", html)
	return nil
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends HTML mail through an SMTP relay.
type SMTPMailer struct {
	addr    string
	auth    smtp.Auth
	from    *mail.Address
	subject string
	send    sendFunc
	now     func() time.Time
}

// NewSMTPMailer validates cfg and creates an SMTPMailer.
func NewSMTPMailer(cfg Config) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("port", cfg.Port).Errorf("smtp port out of range")
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("from", cfg.From).Wrap(err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTPMailer{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:    auth,
		from:    from,
		subject: subject,
		send:    smtp.SendMail,
		now:     time.Now,
	}, nil
}

// Send delivers html to the single recipient to. net/smtp has no context
// support, so ctx is only checked before dialing.
func (m *SMTPMailer) Send(ctx context.Context, to, html string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("MAIL_SEND_FAILED").Wrap(err)
	}

	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return oops.Code("MAIL_RECIPIENT_INVALID").With("to", to).Wrap(err)
	}

	msg := m.message(rcpt, html)
	if err := m.send(m.addr, m.auth, m.from.Address, []string{rcpt.Address}, msg); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("addr", m.addr).
			With("to", rcpt.Address).
			Wrap(err)
	}
	return nil
}

func (m *SMTPMailer) message(to *mail.Address, html string) []byte {
	var b bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }

	header("From", m.from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", m.subject))
	header("Date", m.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(html, "\n", "\r\n"))
	return b.Bytes()
}
