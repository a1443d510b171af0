// password_handler.go -- HTTP handlers for password change, checklist and recovery.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MGallo-Code/linkvault/internal/account"
	"github.com/MGallo-Code/linkvault/internal/password"
	"github.com/MGallo-Code/linkvault/internal/store"
	"github.com/go-chi/render"
	"github.com/gofrs/uuid/v5"
)

// sendPasswordChanged notifies the verified address, if any. Non-fatal.
func (h *AuthHandler) sendPasswordChanged(r *http.Request, a account.Account) {
	if a.Email == nil {
		return
	}
	if err := h.ML.SendPasswordChangedNotice(r.Context(), *a.Email); err != nil {
		logWarn(r, "failed to send password changed notice", "error", err, "account_id", a.ID)
	}
}

// ChangePasswordRequest is the body of POST /password/change.
type ChangePasswordRequest struct {
	Username           string `json:"username" validate:"required"`
	CurrentPassword    string `json:"current_password" validate:"required"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

// ChangePassword handles POST /password/change -- replaces the password after
// proving knowledge of the current one. The current password is checked
// before the new pair.
// Returns 200, 400 with the failing rules, 401 for wrong credentials.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.Store.FindByUsername(r.Context(), req.Username)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if a == nil {
		h.Core.Hasher().VerifyDummy(req.CurrentPassword)
		h.Metrics.AccountOp("change_password", "invalid_credentials")
		Unauthorized(w, r, "invalid credentials")
		return
	}

	saved, err := h.Store.Update(r.Context(), a.ID, func(cur account.Account) (account.Account, error) {
		return h.Core.UpdatePassword(cur, req.CurrentPassword, req.NewPassword, req.NewPasswordConfirm)
	})
	switch {
	case err == nil:
	case errors.Is(err, account.ErrCurrentPasswordIncorrect):
		logInfo(r, "password change failed", "reason", "current_password_incorrect", "account_id", a.ID)
		h.Metrics.AccountOp("change_password", "invalid_credentials")
		Unauthorized(w, r, "invalid credentials")
		return
	case errors.Is(err, account.ErrInvalidPassword):
		h.Metrics.AccountOp("change_password", "invalid_password")
		if !passwordRejected(w, r, err) {
			BadRequest(w, r, "password rules not met")
		}
		return
	default:
		InternalServerError(w, r, err)
		return
	}

	h.sendPasswordChanged(r, saved)
	logInfo(r, "password changed", "account_id", saved.ID)
	h.Metrics.AccountOp("change_password", "ok")
	OK(w, r, "password updated")
}

// CheckPasswordRequest is the body of POST /password/check.
type CheckPasswordRequest struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

// CheckPasswordResponse reports every rule independently for UI checklists.
type CheckPasswordResponse struct {
	password.Checklist
	Valid    bool     `json:"valid"`
	Failures []string `json:"failures"`
}

// CheckPassword handles POST /password/check -- evaluates a candidate pair
// without touching any account. Always 200 for a well-formed body.
func (h *AuthHandler) CheckPassword(w http.ResponseWriter, r *http.Request) {
	var req CheckPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := password.Check(req.Password, req.PasswordConfirm)
	failures := c.Failures()
	if failures == nil {
		failures = []string{}
	}
	render.JSON(w, r, CheckPasswordResponse{Checklist: c, Valid: c.Valid(), Failures: failures})
}

// RequestRecoveryRequest is the body of POST /password/recover.
type RequestRecoveryRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// errEmailReplaced aborts a recovery whose address changed after lookup.
var errEmailReplaced = errors.New("email replaced")

const recoverMsg = "if that email belongs to an account, recovery instructions have been sent"

// RequestRecovery handles POST /password/recover -- issues a recovery record
// for the account with this verified email and mails its token.
// Always answers the same 200 so callers cannot learn which emails exist.
func (h *AuthHandler) RequestRecovery(w http.ResponseWriter, r *http.Request) {
	var req RequestRecoveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	email := strings.ToLower(req.Email)

	a, err := h.Store.FindByEmail(r.Context(), email)
	if err != nil {
		// Generic response for DB errors too -- no enumeration.
		logError(r, "failed to fetch account for recovery", "error", err)
		OK(w, r, recoverMsg)
		return
	}
	if a == nil {
		// Spend the same hash work as the found path.
		h.Core.Hasher().VerifyDummy(email)
		logInfo(r, "recovery requested for unknown email")
		h.Metrics.AccountOp("request_recovery", "unknown_email")
		OK(w, r, recoverMsg)
		return
	}

	rec, err := h.Core.RequestRecovery(a.ID)
	if err != nil {
		logError(r, "failed to issue recovery", "error", err, "account_id", a.ID)
		OK(w, r, recoverMsg)
		return
	}
	saved, err := h.Store.Update(r.Context(), a.ID, func(cur account.Account) (account.Account, error) {
		if cur.Email == nil || !strings.EqualFold(*cur.Email, email) {
			return account.Account{}, errEmailReplaced
		}
		return h.Core.AddRecovery(cur, rec), nil
	})
	if errors.Is(err, errEmailReplaced) {
		logInfo(r, "recovery skipped", "reason", "email_replaced", "account_id", a.ID)
		h.Metrics.AccountOp("request_recovery", "unknown_email")
		OK(w, r, recoverMsg)
		return
	}
	if err != nil {
		logError(r, "failed to persist recovery", "error", err, "account_id", a.ID)
		OK(w, r, recoverMsg)
		return
	}

	if err := h.ML.SendRecoveryInstructions(r.Context(), *saved.Email, rec.ID.String(), rec.Token); err != nil {
		logWarn(r, "failed to send recovery instructions", "error", err, "account_id", saved.ID)
	}
	logInfo(r, "recovery issued", "account_id", saved.ID, "recovery_id", rec.ID)
	h.Metrics.AccountOp("request_recovery", "ok")
	OK(w, r, recoverMsg)
}

// ConfirmRecoveryRequest is the body of POST /password/recover/confirm.
type ConfirmRecoveryRequest struct {
	RecoveryID         string `json:"recovery_id" validate:"required,uuid4"`
	Token              string `json:"token" validate:"required"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

// ConfirmRecovery handles POST /password/recover/confirm -- redeems a
// recovery record and sets the new password.
// Returns 200, or 400 for any unknown, expired or mismatched recovery. A
// matched token is spent even when the new password is rejected.
func (h *AuthHandler) ConfirmRecovery(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRecoveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := uuid.FromStringOrNil(req.RecoveryID)

	a, err := h.Store.FindByRecoveryID(r.Context(), id)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if a == nil {
		logInfo(r, "recovery failed", "reason", "unknown_recovery")
		h.Metrics.AccountOp("confirm_recovery", "invalid_recovery")
		BadRequest(w, r, "invalid or expired recovery")
		return
	}

	// Redeem against the locked state so a token matches at most once.
	var consumed error
	saved, err := h.Store.Update(r.Context(), a.ID, func(cur account.Account) (account.Account, error) {
		recovered, err := h.Core.RecoverPassword(cur, id, req.Token, req.NewPassword, req.NewPasswordConfirm)
		if errors.Is(err, account.ErrRecoveryConsumed) {
			// Commit the spent record, then report the failure.
			consumed = err
			return recovered, nil
		}
		return recovered, err
	})
	if err == nil && consumed != nil {
		err = consumed
	}
	switch {
	case err == nil:
	case errors.Is(err, account.ErrRecoveryConsumed):
		logInfo(r, "recovery failed", "reason", "invalid_password", "account_id", a.ID)
		h.Metrics.AccountOp("confirm_recovery", "invalid_password")
		BadRequest(w, r, "invalid or expired recovery")
		return
	case errors.Is(err, account.ErrInvalidRecovery), errors.Is(err, store.ErrAccountNotFound):
		logInfo(r, "recovery failed", "reason", "invalid_recovery", "account_id", a.ID)
		h.Metrics.AccountOp("confirm_recovery", "invalid_recovery")
		BadRequest(w, r, "invalid or expired recovery")
		return
	default:
		InternalServerError(w, r, err)
		return
	}

	h.sendPasswordChanged(r, saved)
	logInfo(r, "password recovered", "account_id", saved.ID)
	h.Metrics.AccountOp("confirm_recovery", "ok")
	OK(w, r, "password updated")
}
