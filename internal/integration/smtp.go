package integration

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Dialer abstracts net.Dialer for tests.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SMTPMailer delivers EmailMessages through an SMTP relay, upgrading to TLS
// when the server offers STARTTLS.
type SMTPMailer struct {
	cfg       SMTPConfig
	auth      smtp.Auth
	tlsConfig *tls.Config
	dialer    Dialer
	now       func() time.Time
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp: invalid port %d", cfg.Port)
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("smtp: invalid from address: %w", err)
	}
	m := &SMTPMailer{
		cfg:       cfg,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		dialer:    &net.Dialer{Timeout: 30 * time.Second},
		now:       time.Now,
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return m, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg *EmailMessage) error {
	from := msg.From
	if from == "" {
		from = m.cfg.From
	}
	envelopeFrom, err := envelopeAddress(from)
	if err != nil {
		return fmt.Errorf("smtp: invalid from address: %w", err)
	}
	var rcpts []string
	seen := make(map[string]bool)
	for _, group := range [][]string{msg.To, msg.Cc, msg.Bcc} {
		for _, raw := range group {
			addr, err := envelopeAddress(raw)
			if err != nil {
				return fmt.Errorf("smtp: invalid recipient %q: %w", raw, err)
			}
			if !seen[addr] {
				seen[addr] = true
				rcpts = append(rcpts, addr)
			}
		}
	}
	if len(rcpts) == 0 {
		return errors.New("smtp: at least one recipient is required")
	}

	body, err := m.compose(from, msg)
	if err != nil {
		return err
	}
	return m.deliver(ctx, envelopeFrom, rcpts, body)
}

func (m *SMTPMailer) deliver(ctx context.Context, from string, rcpts []string, body []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	conn, err := m.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp: dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp: greeting: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp: hello: %w", err)
	}
	if ok, _ := client.Extension("STARTTLS"); ok && m.tlsConfig != nil {
		if err := client.StartTLS(m.tlsConfig.Clone()); err != nil {
			return fmt.Errorf("smtp: starttls: %w", err)
		}
	}
	if m.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(m.auth); err != nil {
				return fmt.Errorf("smtp: auth: %w", err)
			}
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp: rcpt to %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp: data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: end data: %w", err)
	}
	if err := client.Quit(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("smtp: quit: %w", err)
	}
	return ctx.Err()
}

// compose builds a multipart/alternative message with text and HTML parts.
// Bcc recipients only appear in the envelope.
func (m *SMTPMailer) compose(from string, msg *EmailMessage) ([]byte, error) {
	boundary, err := randomBoundary()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	header := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, headerValue(v))
		}
	}
	header("From", from)
	header("To", strings.Join(msg.To, ", "))
	header("Cc", strings.Join(msg.Cc, ", "))
	header("Subject", mimeSubject(msg.Subject))
	header("Date", m.now().UTC().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, boundary))
	buf.WriteString("\r\n")

	for _, part := range []struct{ contentType, body string }{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	} {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\nContent-Transfer-Encoding: quoted-printable\r\n\r\n", part.contentType)
		qp := quotedprintable.NewWriter(&buf)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, fmt.Errorf("smtp: encode body: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("smtp: encode body: %w", err)
		}
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes(), nil
}

func envelopeAddress(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}

func headerValue(v string) string {
	v = strings.ReplaceAll(v, "\r", " ")
	return strings.TrimSpace(strings.ReplaceAll(v, "\n", " "))
}

func mimeSubject(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", s)
		}
	}
	return s
}

func randomBoundary() (string, error) {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("smtp: boundary: %w", err)
	}
	return "wd-" + hex.EncodeToString(b[:]), nil
}
