package config

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail/v2"
)

// Mailer sends HTML mail over SMTP with mandatory STARTTLS.
type Mailer struct {
	host          string
	port          int
	user          string
	pass          string
	from          string
	skipTLSVerify bool
}

// NewMailer returns nil when SMTP is not configured.
func NewMailer(cfg *Config) *Mailer {
	if cfg.SMTP.Host == "" || cfg.SMTP.From == "" {
		return nil
	}
	return &Mailer{
		host:          cfg.SMTP.Host,
		port:          cfg.SMTP.Port,
		user:          cfg.SMTP.User,
		pass:          cfg.SMTP.Pass,
		from:          cfg.SMTP.From,
		skipTLSVerify: cfg.SMTP.SkipTLSVerify,
	}
}

func (m *Mailer) SendMail(to []string, subject, html string) error {
	if len(to) == 0 {
		return nil
	}
	if m == nil {
		return fmt.Errorf("smtp not configured (SMTP_HOST/SMTP_FROM)")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)

	d := mail.NewDialer(m.host, m.port, m.user, m.pass)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	// ServerName must match the SMTP hostname unless verification is skipped (dev only).
	d.TLSConfig = &tls.Config{
		ServerName:         m.host,
		InsecureSkipVerify: m.skipTLSVerify,
	}

	return d.DialAndSend(msg)
}
