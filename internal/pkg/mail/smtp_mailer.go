package mail

import (
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/brandbridge/brandbridge/internal/pkg/config"
)

// Receipt is the content of a purchase receipt mail.
type Receipt struct {
	TransactionID uint
	Tokens        int64
	Description   string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	cfg  config.MailConfig
	send SendFunc
}

func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@localhost"
		log.Warnf("[Mail] SMTP_SENDER not set, using default sender: %s", cfg.Sender)
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// WithSendFunc replaces the transport.
func (m *SMTPMailer) WithSendFunc(send SendFunc) *SMTPMailer {
	m.send = send
	return m
}

// Enabled reports whether an SMTP host is configured.
func (m *SMTPMailer) Enabled() bool {
	return m.cfg.Host != ""
}

func (m *SMTPMailer) SendMail(to, subject, body string) error {
	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%s", m.cfg.Host, m.cfg.Port)
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.cfg.Sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	if err := m.send(addr, auth, m.cfg.Sender, []string{to}, msg); err != nil {
		log.Errorf("[Mail] SMTP send error: %v", err)
		return err
	}
	log.Infof("[Mail] Email sent to %s via %s", to, addr)
	return nil
}

// SendReceipt mails a purchase receipt.
func (m *SMTPMailer) SendReceipt(to string, r Receipt) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("receipt %d: no recipient", r.TransactionID)
	}
	body := fmt.Sprintf(
		"<p>Thanks for your purchase.</p><p>%s</p><p><strong>%d tokens</strong> were added to your balance.</p><p>Reference: #%d</p>",
		html.EscapeString(r.Description), r.Tokens, r.TransactionID,
	)
	return m.SendMail(to, fmt.Sprintf("Your receipt #%d", r.TransactionID), body)
}
