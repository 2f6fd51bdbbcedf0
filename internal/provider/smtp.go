package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	StartTLS bool
}

// SMTP delivers one message per connection.
type SMTP struct {
	opt  SMTPOptions
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewSMTP(opt SMTPOptions) *SMTP {
	d := &net.Dialer{Timeout: 10 * time.Second}
	return &SMTP{opt: opt, dial: d.DialContext}
}

func (s *SMTP) Send(ctx context.Context, m Mail) (string, error) {
	addr := net.JoinHostPort(s.opt.Host, fmt.Sprint(s.opt.Port))
	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		return "", newError(KindConnection, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	c, err := smtp.NewClient(conn, s.opt.Host)
	if err != nil {
		return "", s.wrap(err)
	}
	defer c.Close()

	if s.opt.StartTLS {
		if err := c.StartTLS(&tls.Config{ServerName: s.opt.Host}); err != nil {
			return "", s.wrap(err)
		}
	}
	if s.opt.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.opt.Username, s.opt.Password, s.opt.Host)); err != nil {
			return "", s.wrap(err)
		}
	}
	if err := c.Mail(m.From); err != nil {
		return "", s.wrap(err)
	}
	if err := c.Rcpt(m.To); err != nil {
		return "", s.wrap(err)
	}
	w, err := c.Data()
	if err != nil {
		return "", s.wrap(err)
	}
	msgID := uuid.NewString()
	if _, err := w.Write(buildMessage(m, msgID, s.opt.Host)); err != nil {
		return "", s.wrap(err)
	}
	if err := w.Close(); err != nil {
		return "", s.wrap(err)
	}
	_ = c.Quit()
	return msgID, nil
}

func (s *SMTP) wrap(err error) error {
	kind := Classify(err)
	if kind == KindUnknown {
		// anything the server said back is a protocol-level rejection
		kind = KindTransport
	}
	return newError(kind, err)
}

func buildMessage(m Mail, msgID, host string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", msgID, host)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
