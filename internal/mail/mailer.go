package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"time"
)

// Mailer is the outbound e-mail collaborator. SendOTP failures are surfaced to
// the caller; SendWelcome is fire-and-forget and its errors are only logged.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string, expiry time.Duration) error
	SendWelcome(ctx context.Context, to, name, url string) error
}

// SMTPMailer sends mail through a plain-auth SMTP relay.
type SMTPMailer struct {
	Host string
	Port string
	User string
	Pass string
	From string
}

// NewSMTPMailer creates an SMTP-backed Mailer.
func NewSMTPMailer(host, port, user, pass, from string) *SMTPMailer {
	return &SMTPMailer{Host: host, Port: port, User: user, Pass: pass, From: from}
}

func (m *SMTPMailer) send(to, subject, body string) error {
	addr := m.Host + ":" + m.Port
	msg := []byte(
		"From: " + m.From + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"Content-Type: text/plain; charset=\"utf-8\"\r\n" +
			"\r\n" +
			body + "\r\n")

	auth := smtp.PlainAuth("", m.User, m.Pass, m.Host)
	return smtp.SendMail(addr, auth, m.From, []string{to}, msg)
}

func (m *SMTPMailer) SendOTP(_ context.Context, to, code string, expiry time.Duration) error {
	subject := "Your CheckInn verification code"
	body := fmt.Sprintf("Your verification code is: %s (valid for %d minutes)", code, int(expiry.Minutes()))
	return m.send(to, subject, body)
}

func (m *SMTPMailer) SendWelcome(_ context.Context, to, name, url string) error {
	subject := "Welcome to CheckInn"
	body := fmt.Sprintf("Hi %s,\n\nYour CheckInn account is ready. Start booking at %s\n", name, url)
	return m.send(to, subject, body)
}
