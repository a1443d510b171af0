// email_handler.go -- HTTP handler for changing the account email.
package auth

import (
	"net/http"
	"strings"

	"github.com/MGallo-Code/linkvault/internal/account"
)

// ChangeEmailRequest is the body of POST /email/change.
type ChangeEmailRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	NewEmail string `json:"new_email" validate:"required,email,max=254"`
}

// ChangeEmail handles POST /email/change -- stages new_email as the pending
// address and mails it a verification link. The current address stays in
// effect until the link is redeemed.
// Returns 200, 400 for bad input, 401 for bad credentials.
func (h *AuthHandler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	var req ChangeEmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	a := h.authenticate(w, r, req.Username, req.Password)
	if a == nil {
		h.Metrics.AccountOp("change_email", "invalid_credentials")
		return
	}

	newEmail := strings.ToLower(req.NewEmail)
	if a.Email != nil && strings.EqualFold(*a.Email, newEmail) {
		BadRequest(w, r, "new_email matches the current email")
		return
	}

	saved, err := h.Store.Update(r.Context(), a.ID, func(cur account.Account) (account.Account, error) {
		return h.Core.RequestEmailChange(cur, newEmail)
	})
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	h.sendVerification(r, saved)
	logInfo(r, "email change requested", "account_id", saved.ID)
	h.Metrics.AccountOp("change_email", "ok")
	OK(w, r, "check your new email to confirm the change")
}
