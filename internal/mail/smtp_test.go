// smtp_test.go
//
// Unit tests for pure mail helpers + integration tests for SMTPMailer.
// Integration tests require real SMTP credentials and skip gracefully if unset.
package mail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"
)

// --- Unit tests (no SMTP required) ---

func TestApplyVars(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars map[string]string
		want string
	}{
		{
			name: "substitutes known keys",
			tmpl: "Changed to %%newAddress%%, link %%url%%",
			vars: map[string]string{"newAddress": "a@example.com", "url": "https://example.com"},
			want: "Changed to a@example.com, link https://example.com",
		},
		{
			name: "strips unresolved placeholders",
			tmpl: "Hello %%toEmail%%, click %%url%%",
			vars: map[string]string{"toEmail": "a@example.com"},
			want: "Hello a@example.com, click ",
		},
		{
			name: "nil vars strips all placeholders",
			tmpl: "%%greeting%%",
			vars: nil,
			want: "",
		},
		{
			name: "no placeholders passes through unchanged",
			tmpl: "Hello there, click the link.",
			vars: map[string]string{"url": "x"},
			want: "Hello there, click the link.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyVars(tt.tmpl, tt.vars)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{time.Minute, "1 minute"},
		{recoveryExpiry, "5 minutes"},
		{verificationExpiry, "1 hour"},
		{2 * time.Hour, "2 hours"},
		{24 * time.Hour, "1 day"},
		{48 * time.Hour, "2 days"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatDuration(tt.d)
			if got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestBuildMessage(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{FromAddress: "no-reply@linkvault.test"})
	msg := m.buildMessage("user@example.com", "Subject line", "to %%toEmail%% at %%url%% %%unknown%%",
		map[string]string{"url": "https://x.test", "toEmail": "ignored@example.com"})

	for _, want := range []string{
		"From: no-reply@linkvault.test\r\n",
		"To: user@example.com\r\n",
		"Subject: Subject line\r\n",
		"\r\n\r\nto user@example.com at https://x.test ",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "%%") {
		t.Errorf("unresolved placeholder left in message:\n%s", msg)
	}
}

// --- STARTTLS enforcement ---

// plaintextSMTPServer speaks just enough SMTP to advertise no STARTTLS.
func plaintextSMTPServer(t *testing.T) (host, port string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fmt.Fprint(conn, "220 localhost ESMTP test\r\n")
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			switch {
			case strings.HasPrefix(line, "EHLO"):
				fmt.Fprint(conn, "250-localhost\r\n250 AUTH PLAIN\r\n")
			case strings.HasPrefix(line, "QUIT"):
				fmt.Fprint(conn, "221 bye\r\n")
				return
			default:
				fmt.Fprint(conn, "502 unsupported\r\n")
			}
		}
	}()

	host, port, err = net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	return host, port
}

func TestSMTPMailer_RefusesPlaintext(t *testing.T) {
	host, port := plaintextSMTPServer(t)
	m := NewSMTPMailer(SMTPConfig{Host: host, Port: port, FromAddress: "no-reply@linkvault.test"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := m.SendPasswordChangedNotice(ctx, "user@example.com")
	if err == nil || !strings.Contains(err.Error(), "STARTTLS") {
		t.Fatalf("expected STARTTLS refusal, got %v", err)
	}
}

func TestSMTPMailer_DialFailure(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: "1"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.SendEmailVerification(ctx, "user@example.com", "tok"); err == nil {
		t.Fatal("expected dial error")
	}
}

// deadlineConn refuses deadlines and records whether it was closed.
type deadlineConn struct {
	net.Conn
	closed bool
}

var errNoDeadline = errors.New("deadline unsupported")

func (c *deadlineConn) SetDeadline(time.Time) error { return errNoDeadline }

func (c *deadlineConn) Close() error {
	c.closed = true
	return c.Conn.Close()
}

func TestSMTPMailer_DeadlineFailure(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := &deadlineConn{Conn: client}

	m := NewSMTPMailer(SMTPConfig{Host: "mail.test", Port: "587"})
	m.dial = func(context.Context, string, string) (net.Conn, error) { return conn, nil }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.SendPasswordChangedNotice(ctx, "user@example.com")
	if !errors.Is(err, errNoDeadline) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if !conn.closed {
		t.Error("connection left open after deadline failure")
	}
}

// --- Integration tests (require SMTP credentials) ---

// smtpTestMailer returns a configured SMTPMailer and recipient, or skips if env vars are missing.
func smtpTestMailer(t *testing.T) (*SMTPMailer, string) {
	t.Helper()
	host := os.Getenv("SMTP_HOST")
	port := os.Getenv("SMTP_PORT")
	username := os.Getenv("SMTP_USERNAME")
	password := os.Getenv("SMTP_PASSWORD")
	from := os.Getenv("SMTP_FROM")
	to := os.Getenv("TEST_SMTP_TO")

	if host == "" || port == "" || username == "" || password == "" || from == "" || to == "" {
		t.Skip("smtp integration test: set SMTP_* env vars and TEST_SMTP_TO to run")
	}

	mailer := NewSMTPMailer(SMTPConfig{
		Host:            host,
		Port:            port,
		Username:        username,
		Password:        password,
		FromAddress:     from,
		VerifyURLBase:   "https://example.com/verify-email",
		RecoveryURLBase: "https://example.com/recover",
	})
	return mailer, to
}

func TestSMTPMailer_Integration(t *testing.T) {
	mailer, to := smtpTestMailer(t)
	ctx := context.Background()

	if err := mailer.SendEmailVerification(ctx, to, "test-verify-token"); err != nil {
		t.Errorf("SendEmailVerification: %v", err)
	}
	if err := mailer.SendEmailChangedNotice(ctx, to, "new@example.com"); err != nil {
		t.Errorf("SendEmailChangedNotice: %v", err)
	}
	if err := mailer.SendPasswordChangedNotice(ctx, to); err != nil {
		t.Errorf("SendPasswordChangedNotice: %v", err)
	}
	if err := mailer.SendRecoveryInstructions(ctx, to, "3f1c9a52-0d3e-4c55-9a0e-8b3cfb1f2a10", "test-recovery-token"); err != nil {
		t.Errorf("SendRecoveryInstructions: %v", err)
	}
}
