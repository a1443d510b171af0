// mailer.go
//
// Recording mock of mail.Mailer.
package testutil

import (
	"context"
	"sync"
)

// SentMail is one recorded Mailer call. Unused fields stay empty.
type SentMail struct {
	Kind       string
	To         string
	Token      string
	RecoveryID string
	NewAddress string
}

// Mail kinds recorded by MockMailer.
const (
	KindVerification    = "verification"
	KindEmailChanged    = "email_changed"
	KindPasswordChanged = "password_changed"
	KindRecovery        = "recovery"
)

// MockMailer implements mail.Mailer and records every call.
// Err is returned from every send; the call is still recorded.
type MockMailer struct {
	Err error

	mu   sync.Mutex
	sent []SentMail
}

func (m *MockMailer) record(s SentMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, s)
	return m.Err
}

// Sent returns a copy of everything recorded so far.
func (m *MockMailer) Sent() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMail(nil), m.sent...)
}

// Last returns the most recent mail of kind, or false.
func (m *MockMailer) Last(kind string) (SentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind {
			return m.sent[i], true
		}
	}
	return SentMail{}, false
}

func (m *MockMailer) SendEmailVerification(_ context.Context, toEmail, token string) error {
	return m.record(SentMail{Kind: KindVerification, To: toEmail, Token: token})
}

func (m *MockMailer) SendEmailChangedNotice(_ context.Context, toEmail, newAddress string) error {
	return m.record(SentMail{Kind: KindEmailChanged, To: toEmail, NewAddress: newAddress})
}

func (m *MockMailer) SendPasswordChangedNotice(_ context.Context, toEmail string) error {
	return m.record(SentMail{Kind: KindPasswordChanged, To: toEmail})
}

func (m *MockMailer) SendRecoveryInstructions(_ context.Context, toEmail, recoveryID, token string) error {
	return m.record(SentMail{Kind: KindRecovery, To: toEmail, RecoveryID: recoveryID, Token: token})
}
