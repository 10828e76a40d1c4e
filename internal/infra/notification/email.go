package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

// EmailConfig holds the SMTP settings for the email sender.
type EmailConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	UseTLS      bool // direct TLS, typically port 465
	UseSTARTTLS bool // upgrade after connect, typically port 587
	SkipVerify  bool // dev only
	Timeout     time.Duration
}

// EmailSender delivers messages over SMTP, one recipient per message.
type EmailSender struct {
	cfg EmailConfig
}

// NewEmailSender creates the sender after checking the SMTP settings.
func NewEmailSender(cfg EmailConfig) (*EmailSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("smtp port is required")
	}
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &EmailSender{cfg: cfg}, nil
}

// Channel returns "email".
func (s *EmailSender) Channel() string { return "email" }

// Send builds a plain-text message and submits it over SMTP.
func (s *EmailSender) Send(_ context.Context, recipient, subject, body string) error {
	if recipient == "" {
		return fmt.Errorf("recipient is required")
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", s.cfg.FromName, s.cfg.FromAddress)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	return s.submit(recipient, msg.Bytes())
}

func (s *EmailSender) submit(recipient string, message []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	tlsConfig := &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.SkipVerify, //nolint:gosec // Configurable for dev environments
	}

	var conn net.Conn
	var err error
	if s.cfg.UseTLS {
		dialer := &net.Dialer{Timeout: s.cfg.Timeout}
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if err != nil {
			return fmt.Errorf("TLS dial: %w", err)
		}
	} else {
		conn, err = net.DialTimeout("tcp", addr, s.cfg.Timeout)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("new SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if s.cfg.UseSTARTTLS && !s.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err = client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err = client.Mail(s.cfg.FromAddress); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err = client.Rcpt(recipient); err != nil {
		return fmt.Errorf("RCPT TO %s: %w", recipient, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err = w.Write(message); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	_ = client.Quit()
	return nil
}
