// smtp.go
//
// Mailer interface and SMTPMailer implementation.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Lifetimes quoted in mail bodies. Kept in step with the account package.
const (
	verificationExpiry = 60 * time.Minute
	recoveryExpiry     = 5 * time.Minute
)

// Mailer sends the account security emails. Callers treat every method as
// fire-and-forget: errors are logged, never retried.
type Mailer interface {
	// SendEmailVerification sends a link carrying the raw verification token to the pending address.
	SendEmailVerification(ctx context.Context, toEmail, token string) error

	// SendEmailChangedNotice tells the previous address that the account email became newAddress.
	SendEmailChangedNotice(ctx context.Context, toEmail, newAddress string) error

	// SendPasswordChangedNotice tells the account owner their password changed.
	SendPasswordChangedNotice(ctx context.Context, toEmail string) error

	// SendRecoveryInstructions sends the recovery id and raw token. The token
	// is never persisted; this mail is its only copy.
	SendRecoveryInstructions(ctx context.Context, toEmail, recoveryID, token string) error
}

// SMTPConfig holds all configuration for SMTPMailer.
type SMTPConfig struct {
	Host            string
	Port            string
	Username        string
	Password        string
	FromAddress     string
	VerifyURLBase   string
	RecoveryURLBase string
}

// SMTPMailer sends transactional email via SMTP.
// Compatible with any SMTP provider: SES, Mailgun, Mailpit (local dev), etc.
type SMTPMailer struct {
	cfg  SMTPConfig
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSMTPMailer creates an SMTPMailer with the given config.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, dial: (&net.Dialer{}).DialContext}
}

// NopMailer discards all outbound email. Used when SMTP is not configured.
type NopMailer struct{}

func (NopMailer) SendEmailVerification(context.Context, string, string) error {
	return nil
}

func (NopMailer) SendEmailChangedNotice(context.Context, string, string) error {
	return nil
}

func (NopMailer) SendPasswordChangedNotice(context.Context, string) error {
	return nil
}

func (NopMailer) SendRecoveryInstructions(context.Context, string, string, string) error {
	return nil
}

// unresolvedPlaceholder matches any %%word%% placeholder left after substitution.
var unresolvedPlaceholder = regexp.MustCompile(`%%\w+%%`)

// applyVars substitutes %%key%% placeholders in tmpl using vars, then strips any
// that remain unresolved rather than leaving them in the output.
func applyVars(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "%%"+key+"%%", value)
	}
	substituted := strings.NewReplacer(pairs...).Replace(tmpl)
	return unresolvedPlaceholder.ReplaceAllString(substituted, "")
}

// formatDuration renders a duration as a human-readable expiry string.
// e.g. time.Hour → "1 hour", 48*time.Hour → "2 days", 5*time.Minute → "5 minutes".
func formatDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	case d >= time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	}
}

// buildMessage renders headers plus body, with vars applied to both.
func (m *SMTPMailer) buildMessage(toEmail, subject, body string, vars map[string]string) string {
	merged := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		merged[k] = v
	}
	merged["toEmail"] = toEmail

	msg := "From: " + m.cfg.FromAddress + "\r\n" +
		"To: " + toEmail + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		body
	return applyVars(msg, merged)
}

// sendMail dials the SMTP server, enforces STARTTLS (rejects plaintext sessions),
// authenticates, and delivers msg. The connection respects ctx cancellation.
func (m *SMTPMailer) sendMail(ctx context.Context, toEmail, msg string) error {
	conn, err := m.dial(ctx, "tcp", net.JoinHostPort(m.cfg.Host, m.cfg.Port))
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return fmt.Errorf("smtp deadline: %w", err)
		}
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	// Enforce STARTTLS -- reject the session if server does not advertise it.
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp server does not advertise STARTTLS: refusing plaintext session")
	}
	if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}

	if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}

	if err := c.Mail(m.cfg.FromAddress); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(toEmail); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := fmt.Fprint(wc, msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	return c.Quit()
}

// SendEmailVerification emails a verification link to toEmail.
func (m *SMTPMailer) SendEmailVerification(ctx context.Context, toEmail, token string) error {
	body := "Please confirm this email address for your linkvault account.\n\n" +
		"Click the link below to confirm:\n\n" +
		"%%url%%\n\n" +
		"This link expires in %%expiresIn%%. If you did not request this, ignore this email."

	msg := m.buildMessage(toEmail, "Confirm your email address", body, map[string]string{
		"url":       m.cfg.VerifyURLBase + "?token=" + url.QueryEscape(token),
		"expiresIn": formatDuration(verificationExpiry),
	})
	if err := m.sendMail(ctx, toEmail, msg); err != nil {
		return fmt.Errorf("sending email verification: %w", err)
	}
	return nil
}

// SendEmailChangedNotice warns the previous address about an email change.
func (m *SMTPMailer) SendEmailChangedNotice(ctx context.Context, toEmail, newAddress string) error {
	body := "The email address on your linkvault account was changed to %%newAddress%%.\n\n" +
		"If you did not make this change, recover your account immediately."

	msg := m.buildMessage(toEmail, "Your email address was changed", body, map[string]string{
		"newAddress": newAddress,
	})
	if err := m.sendMail(ctx, toEmail, msg); err != nil {
		return fmt.Errorf("sending email changed notice: %w", err)
	}
	return nil
}

// SendPasswordChangedNotice tells toEmail their password changed.
func (m *SMTPMailer) SendPasswordChangedNotice(ctx context.Context, toEmail string) error {
	body := "The password for your linkvault account (%%toEmail%%) was just changed.\n\n" +
		"If you did not make this change, recover your account immediately."

	msg := m.buildMessage(toEmail, "Your password was changed", body, nil)
	if err := m.sendMail(ctx, toEmail, msg); err != nil {
		return fmt.Errorf("sending password changed notice: %w", err)
	}
	return nil
}

// SendRecoveryInstructions emails a recovery link with id and raw token.
func (m *SMTPMailer) SendRecoveryInstructions(ctx context.Context, toEmail, recoveryID, token string) error {
	body := "You requested a password reset.\n\n" +
		"Click the link below to choose a new password:\n\n" +
		"%%url%%\n\n" +
		"This link expires in %%expiresIn%% and works once. If you did not request a reset, ignore this email."

	q := url.Values{"id": {recoveryID}, "token": {token}}
	msg := m.buildMessage(toEmail, "Reset your password", body, map[string]string{
		"url":       m.cfg.RecoveryURLBase + "?" + q.Encode(),
		"expiresIn": formatDuration(recoveryExpiry),
	})
	if err := m.sendMail(ctx, toEmail, msg); err != nil {
		return fmt.Errorf("sending recovery instructions: %w", err)
	}
	return nil
}
