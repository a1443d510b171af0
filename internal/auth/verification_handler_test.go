// verification_handler_test.go -- unit tests for VerifyEmail and ResendVerification handlers.
package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/MGallo-Code/linkvault/internal/account"
	"github.com/MGallo-Code/linkvault/internal/testutil"
	"github.com/gofrs/uuid/v5"
)

func verifyBody(tok string) string {
	return `{"token":"` + tok + `"}`
}

func TestVerifyEmail(t *testing.T) {
	t.Run("valid token commits email", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.seed(t, "alice", "alice@example.com", false)

		w := do(env.h.VerifyEmail, verifyBody(a.PendingEmail.Token.String()))
		expectStatus(t, w, http.StatusOK)
		if got := decodeResponse(t, w).Message; got != "email verified" {
			t.Errorf("message: got %q", got)
		}

		stored, _ := env.store.Get(a.ID)
		if stored.Email == nil || *stored.Email != "alice@example.com" {
			t.Errorf("email: got %v", stored.Email)
		}
		if stored.PendingEmail != nil {
			t.Error("pending email should be cleared")
		}
		if len(env.mail.Sent()) != 0 {
			t.Errorf("first verification sends no notice, got %+v", env.mail.Sent())
		}
	})

	t.Run("token still valid at exactly sixty minutes", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.seed(t, "alice", "alice@example.com", false)
		env.clock.Advance(account.EmailVerificationTTL)

		w := do(env.h.VerifyEmail, verifyBody(a.PendingEmail.Token.String()))
		expectStatus(t, w, http.StatusOK)
	})

	t.Run("expired token returns 400 and keeps state", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.seed(t, "alice", "alice@example.com", false)
		env.clock.Advance(account.EmailVerificationTTL + time.Second)
		saves := env.store.Saves

		w := do(env.h.VerifyEmail, verifyBody(a.PendingEmail.Token.String()))
		expectStatus(t, w, http.StatusBadRequest)
		if got := decodeResponse(t, w).Message; got != "invalid or expired token" {
			t.Errorf("message: got %q", got)
		}
		if env.store.Saves != saves {
			t.Error("expired verification must not save")
		}
		stored, _ := env.store.Get(a.ID)
		if stored.Email != nil || stored.PendingEmail == nil {
			t.Errorf("state changed: email %v pending %+v", stored.Email, stored.PendingEmail)
		}
	})

	t.Run("token reissued after lookup is refused", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.seed(t, "alice", "alice@example.com", false)

		env.store.AfterFind = func() {
			env.store.AfterFind = nil
			expectStatus(t, do(env.h.ResendVerification, `{"username":"alice","password":"`+testPassword+`"}`), http.StatusOK)
		}

		w := do(env.h.VerifyEmail, verifyBody(a.PendingEmail.Token.String()))
		expectStatus(t, w, http.StatusBadRequest)
		stored, _ := env.store.Get(a.ID)
		if stored.Email != nil {
			t.Errorf("stale token committed %v", *stored.Email)
		}
	})

	t.Run("unknown token returns 400", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "alice", "alice@example.com", false)
		w := do(env.h.VerifyEmail, verifyBody(uuid.Must(uuid.NewV4()).String()))
		expectStatus(t, w, http.StatusBadRequest)
	})

	t.Run("non-uuid token fails validation", func(t *testing.T) {
		env := newTestEnv(t)
		w := do(env.h.VerifyEmail, verifyBody("not-a-token"))
		expectStatus(t, w, http.StatusBadRequest)
		if got := decodeResponse(t, w).Message; got != "invalid request" {
			t.Errorf("message: got %q", got)
		}
	})

	t.Run("email change notifies previous address", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.seed(t, "alice", "old@example.com", true)
		changed, err := env.h.Core.RequestEmailChange(a, "new@example.com")
		if err != nil {
			t.Fatalf("RequestEmailChange: %v", err)
		}
		if _, err := env.store.Save(t.Context(), changed); err != nil {
			t.Fatalf("Save: %v", err)
		}

		w := do(env.h.VerifyEmail, verifyBody(changed.PendingEmail.Token.String()))
		expectStatus(t, w, http.StatusOK)

		notice, ok := env.mail.Last(testutil.KindEmailChanged)
		if !ok {
			t.Fatal("no email changed notice sent")
		}
		if notice.To != "old@example.com" || notice.NewAddress != "new@example.com" {
			t.Errorf("notice: got %+v", notice)
		}
	})

	t.Run("address verified elsewhere returns 409", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "alice", "shared@example.com", true)
		b := env.seed(t, "bob", "shared@example.com", false)

		w := do(env.h.VerifyEmail, verifyBody(b.PendingEmail.Token.String()))
		expectStatus(t, w, http.StatusConflict)
	})

	t.Run("store error returns 500", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.FindErr = errors.New("db down")
		w := do(env.h.VerifyEmail, verifyBody(uuid.Must(uuid.NewV4()).String()))
		expectStatus(t, w, http.StatusInternalServerError)
	})
}

func TestResendVerification(t *testing.T) {
	const body = `{"username":"alice","password":"` + testPassword + `"}`

	t.Run("reissues token and old one stops working", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.seed(t, "alice", "alice@example.com", false)
		oldToken := a.PendingEmail.Token
		env.clock.Advance(50 * time.Minute)

		w := do(env.h.ResendVerification, body)
		expectStatus(t, w, http.StatusOK)

		stored, _ := env.store.Get(a.ID)
		if stored.PendingEmail == nil || stored.PendingEmail.Token == oldToken {
			t.Fatalf("token not reissued: %+v", stored.PendingEmail)
		}
		if !stored.PendingEmail.IssuedAt.Equal(env.clock.Now()) {
			t.Errorf("window not restarted: issued %v", stored.PendingEmail.IssuedAt)
		}
		sent, ok := env.mail.Last(testutil.KindVerification)
		if !ok || sent.Token != stored.PendingEmail.Token.String() {
			t.Errorf("verification mail: got %+v", sent)
		}

		w = do(env.h.VerifyEmail, verifyBody(oldToken.String()))
		expectStatus(t, w, http.StatusBadRequest)

		// New window runs from the reissue.
		env.clock.Advance(30 * time.Minute)
		w = do(env.h.VerifyEmail, verifyBody(stored.PendingEmail.Token.String()))
		expectStatus(t, w, http.StatusOK)
	})

	t.Run("nothing pending is a no-op", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "alice", "alice@example.com", true)
		saves := env.store.Saves

		w := do(env.h.ResendVerification, body)
		expectStatus(t, w, http.StatusOK)
		if env.store.Saves != saves || len(env.mail.Sent()) != 0 {
			t.Error("expected no save and no mail")
		}
	})

	t.Run("wrong password returns 401", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "alice", "alice@example.com", false)
		w := do(env.h.ResendVerification, `{"username":"alice","password":"Wrong-Pass1"}`)
		expectStatus(t, w, http.StatusUnauthorized)
	})
}
