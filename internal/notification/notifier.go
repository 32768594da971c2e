package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/model"

	"k8s.io/klog/v2"
)

// EmailNotifier implements the Notifier interface for sending emails.
type EmailNotifier struct {
	cfg  config.SMTPConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new EmailNotifier.
func NewEmailNotifier(cfg config.SMTPConfig) model.Notifier {
	// PlainAuth will not send credentials until the server identifies itself as a trusted one.
	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	return &EmailNotifier{cfg: cfg, auth: auth, send: smtp.SendMail}
}

// Send sends an email to the configured recipients.
func (n *EmailNotifier) Send(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var recipients []string
	for _, r := range strings.Split(n.cfg.To, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return fmt.Errorf("failed to send email: no recipients configured")
	}

	msg := []byte("To: " + strings.Join(recipients, ", ") + "\r\n" +
		"From: " + n.cfg.From + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"\r\n" +
		body)

	if err := n.send(addr, n.auth, n.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

// Send logs the subject and the body.
func (LogNotifier) Send(subject, body string) error {
	klog.Warningf("ALERT %s\n%s", subject, body)
	return nil
}

// New returns the notifier selected by name: "smtp", "log", or "" for none.
func New(name string, smtpCfg config.SMTPConfig) (model.Notifier, error) {
	switch name {
	case "":
		return nil, nil
	case "log":
		return LogNotifier{}, nil
	case "smtp":
		if smtpCfg.Host == "" {
			return nil, fmt.Errorf("smtp notifier selected but smtp.host is empty")
		}
		return NewEmailNotifier(smtpCfg), nil
	default:
		return nil, fmt.Errorf("unknown notifier: '%s'", name)
	}
}
