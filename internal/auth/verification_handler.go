// verification_handler.go -- handlers and helpers for email verification flows.
package auth

import (
	"errors"
	"net/http"

	"github.com/MGallo-Code/linkvault/internal/account"
	"github.com/MGallo-Code/linkvault/internal/store"
	"github.com/gofrs/uuid/v5"
)

// errNothingPending aborts a resend when the email was verified meanwhile.
var errNothingPending = errors.New("no pending email")

// sendVerification mails the pending email token of a saved account.
// Non-fatal: errors are logged but never fail the enclosing request.
func (h *AuthHandler) sendVerification(r *http.Request, a account.Account) {
	if a.PendingEmail == nil {
		return
	}
	if err := h.ML.SendEmailVerification(r.Context(), a.PendingEmail.Address, a.PendingEmail.Token.String()); err != nil {
		logWarn(r, "failed to send verification email", "error", err, "account_id", a.ID)
	}
}

// VerifyEmailRequest is the body of POST /verify/email.
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required,uuid4"`
}

// VerifyEmail handles POST /verify/email -- redeems the token from the
// verification link and commits the pending address.
// Returns 200 on success, 400 for an unknown or expired token, 409 if the
// address was verified by another account in the meantime.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	tok := uuid.FromStringOrNil(req.Token)
	a, err := h.Store.FindByEmailVerificationToken(r.Context(), tok)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if a == nil {
		logInfo(r, "verify email failed", "reason", "unknown_token")
		h.Metrics.AccountOp("verify_email", "invalid_token")
		BadRequest(w, r, "invalid or expired token")
		return
	}

	var previous *string
	saved, err := h.Store.Update(r.Context(), a.ID, func(cur account.Account) (account.Account, error) {
		// Redeemed or reissued since the lookup.
		if cur.PendingEmail == nil || cur.PendingEmail.Token != tok {
			return account.Account{}, account.ErrInvalidToken
		}
		previous = cur.Email
		return h.Core.ValidateEmail(cur)
	})
	switch {
	case err == nil:
	case errors.Is(err, account.ErrInvalidToken), errors.Is(err, store.ErrAccountNotFound):
		logInfo(r, "verify email failed", "reason", "expired", "account_id", a.ID)
		h.Metrics.AccountOp("verify_email", "invalid_token")
		BadRequest(w, r, "invalid or expired token")
		return
	case errors.Is(err, store.ErrEmailTaken):
		logInfo(r, "verify email failed", "reason", "email_taken", "account_id", a.ID)
		h.Metrics.AccountOp("verify_email", "email_taken")
		Conflict(w, r, "email already in use")
		return
	default:
		InternalServerError(w, r, err)
		return
	}

	// Tell the previous address it has been replaced.
	if previous != nil && *previous != *saved.Email {
		if err := h.ML.SendEmailChangedNotice(r.Context(), *previous, *saved.Email); err != nil {
			logWarn(r, "failed to send email changed notice", "error", err, "account_id", saved.ID)
		}
	}

	logInfo(r, "email verified", "account_id", saved.ID)
	h.Metrics.AccountOp("verify_email", "ok")
	OK(w, r, "email verified")
}

// ResendVerificationRequest is the body of POST /verify/email/resend.
type ResendVerificationRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ResendVerification handles POST /verify/email/resend -- issues a fresh
// token and window for the pending address. The old token stops working.
// Returns 200 whether or not anything was pending, 401 for bad credentials.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if !h.decode(w, r, &req) {
		return
	}

	a := h.authenticate(w, r, req.Username, req.Password)
	if a == nil {
		h.Metrics.AccountOp("resend_verification", "invalid_credentials")
		return
	}

	const resendMsg = "if an email is awaiting verification, a new link has been sent"

	if a.PendingEmail == nil {
		logInfo(r, "resend verification skipped", "reason", "nothing_pending", "account_id", a.ID)
		OK(w, r, resendMsg)
		return
	}

	saved, err := h.Store.Update(r.Context(), a.ID, func(cur account.Account) (account.Account, error) {
		if cur.PendingEmail == nil {
			return account.Account{}, errNothingPending
		}
		return h.Core.ReissueEmailVerification(cur)
	})
	if errors.Is(err, errNothingPending) {
		logInfo(r, "resend verification skipped", "reason", "nothing_pending", "account_id", a.ID)
		OK(w, r, resendMsg)
		return
	}
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	h.sendVerification(r, saved)
	logInfo(r, "verification email reissued", "account_id", saved.ID)
	h.Metrics.AccountOp("resend_verification", "ok")
	OK(w, r, resendMsg)
}
