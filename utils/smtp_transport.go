package utils

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/yourusername/tevani-core/models"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPTransport sends HTML email through an authenticated SMTP relay. A "cc"
// entry in the message metadata is copied on the mail.
type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	sendMail sendMailFunc
}

func NewSMTPTransport(host string, port int, username, password string) *SMTPTransport {
	return &SMTPTransport{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     username,
		sendMail: smtp.SendMail,
	}
}

func (t *SMTPTransport) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	if t.Username == "" || t.Password == "" {
		return "", &TransportError{Channel: models.NotificationTypeEmail, Err: fmt.Errorf("smtp credentials not configured")}
	}

	recipients := []string{msg.Recipient}
	cc, _ := msg.Metadata["cc"].(string)
	if cc != "" {
		recipients = append(recipients, cc)
	}

	body := buildMIMEMessage(t.From, msg.Recipient, cc, msg.Subject, msg.Content)
	addr := fmt.Sprintf("%s:%d", t.Host, t.Port)
	auth := smtp.PlainAuth("", t.Username, t.Password, t.Host)

	// net/smtp has no context support; the send is abandoned (not cancelled)
	// when ctx ends first.
	done := make(chan error, 1)
	go func() {
		done <- t.sendMail(addr, auth, t.From, recipients, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", &TransportError{Channel: models.NotificationTypeEmail, Err: err}
		}
	case <-ctx.Done():
		return "", &TransportError{Channel: models.NotificationTypeEmail, Err: ctx.Err()}
	}

	return "email_" + msg.NotificationID, nil
}

func buildMIMEMessage(from, to, cc, subject, htmlBody string) []byte {
	var b strings.Builder
	b.WriteString("From: " + headerValue(from) + "\r\n")
	b.WriteString("To: " + headerValue(to) + "\r\n")
	if cc != "" {
		b.WriteString("Cc: " + headerValue(cc) + "\r\n")
	}
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", headerValue(subject)) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

// headerValue folds a value onto one line so it cannot start a new header.
func headerValue(v string) string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == '\r' || r == '\n' })
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, " ")
}
