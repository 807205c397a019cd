// Package mail sends password-reset links.
package mail

import (
	"fmt"
	"log"

	gomail "gopkg.in/gomail.v2"
)

// Mailer delivers portal mail. The SMTP implementation is used when SMTP_*
// is configured; otherwise sends are logged and dropped so the rest of the
// reset flow still works in development.
type Mailer interface {
	SendPasswordReset(to, resetURL string) error
}

type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (m *SMTPMailer) SendPasswordReset(to, resetURL string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Reimposta la tua password")
	msg.SetBody("text/html", fmt.Sprintf(
		"<p>Per reimpostare la password del portale documenti clicca il link:</p><p><a href=%q>%s</a></p><p>Il link scade tra un'ora.</p>",
		resetURL, resetURL))
	return m.dialer.DialAndSend(msg)
}

// LogMailer is the unconfigured fallback.
type LogMailer struct{}

func (LogMailer) SendPasswordReset(to, resetURL string) error {
	log.Printf("mail: SMTP not configured, reset link for %s: %s", to, resetURL)
	return nil
}
