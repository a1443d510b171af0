// handler.go -- AuthHandler, its store contract and shared request plumbing.
package auth

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/MGallo-Code/linkvault/internal/account"
	"github.com/MGallo-Code/linkvault/internal/mail"
	"github.com/MGallo-Code/linkvault/internal/metrics"
	"github.com/MGallo-Code/linkvault/internal/password"
	"github.com/MGallo-Code/linkvault/internal/store"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/gofrs/uuid/v5"
)

// Store defines the account persistence needed by auth handlers.
// Satisfied by *store.PostgresStore; defined here (at consumer) per Go convention.
// Every Find method returns nil, nil when nothing matches.
type Store interface {
	FindByID(ctx context.Context, id int64) (*account.Account, error)
	FindByUsername(ctx context.Context, username string) (*account.Account, error)

	// FindByEmail matches verified addresses only.
	FindByEmail(ctx context.Context, email string) (*account.Account, error)

	FindByEmailVerificationToken(ctx context.Context, tok uuid.UUID) (*account.Account, error)
	FindByRecoveryID(ctx context.Context, id uuid.UUID) (*account.Account, error)

	// Save inserts or updates a, commits any staged password, replaces the
	// recovery set and returns the account as stored.
	Save(ctx context.Context, a account.Account) (account.Account, error)

	// Update loads account id, applies fn and saves the result as one unit.
	// Updates of the same account never interleave. An error from fn
	// discards the change and is returned as is.
	Update(ctx context.Context, id int64, fn func(account.Account) (account.Account, error)) (account.Account, error)

	CheckHealth(ctx context.Context) error
}

// HealthChecker is an optional dependency reported by /health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// AuthHandler holds dependencies for all account HTTP handlers.
type AuthHandler struct {
	Store   Store
	Core    *account.Core
	ML      mail.Mailer
	Metrics *metrics.Metrics

	// Queue is pinged by /health when set (Redis mail queue).
	Queue HealthChecker

	validate *validator.Validate
}

// NewAuthHandler wires an AuthHandler. m may be nil.
func NewAuthHandler(s Store, core *account.Core, ml mail.Mailer, m *metrics.Metrics) *AuthHandler {
	v := validator.New()
	// Report JSON field names in validation messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &AuthHandler{Store: s, Core: core, ML: ml, Metrics: m, validate: v}
}

// decode reads a JSON body into dst and validates it. On failure the
// response has been written and false is returned.
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		logWarn(r, "failed to decode request body", "error", err)
		BadRequest(w, r, "error decoding request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			ValidationFailed(w, r, verrs)
			return false
		}
		InternalServerError(w, r, err)
		return false
	}
	return true
}

// passwordRejected answers 400 with the failing rules if err carries them.
func passwordRejected(w http.ResponseWriter, r *http.Request, err error) bool {
	var ruleErr *password.RuleError
	if !errors.As(err, &ruleErr) {
		return false
	}
	PasswordRejected(w, r, ruleErr.Checklist.Failures())
	return true
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Username        string `json:"username" validate:"required,alphanum,min=3,max=32"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required"`
	Email           string `json:"email" validate:"required,email,max=254"`
}

// Register handles POST /register -- username + password signup with an
// email that must be verified before login.
// Returns 201, 400 for bad input or password rules, 409 if the username is taken.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	email := strings.ToLower(req.Email)

	a, err := h.Core.CreateWithPendingEmail(req.Username, req.Password, req.PasswordConfirm, email)
	if err != nil {
		if passwordRejected(w, r, err) {
			h.Metrics.AccountOp("register", "invalid_password")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	saved, err := h.Store.Save(r.Context(), a)
	if err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			logInfo(r, "register failed", "reason", "username_taken")
			h.Metrics.AccountOp("register", "username_taken")
			Conflict(w, r, "username taken")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "account registered", "account_id", saved.ID)
	h.Metrics.AccountOp("register", "ok")
	h.sendVerification(r, saved)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, struct {
		ID      int64  `json:"id"`
		Message string `json:"message"`
	}{saved.ID, "account created, check your email to verify it"})
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /login -- username + password authentication.
// Returns 200 with the account id, 401 for bad credentials, 403 while the
// email is unverified. A missing username costs the same hash work as a
// wrong password.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.Store.FindByUsername(r.Context(), req.Username)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	switch err := h.Core.Authenticate(a, req.Password); {
	case err == nil:
	case errors.Is(err, account.ErrInvalidCredentials):
		logInfo(r, "login failed", "reason", "invalid_credentials")
		h.Metrics.AccountOp("login", "invalid_credentials")
		Unauthorized(w, r, "invalid credentials")
		return
	case errors.Is(err, account.ErrEmailNotVerified):
		logInfo(r, "login failed", "reason", "email_not_verified", "account_id", a.ID)
		h.Metrics.AccountOp("login", "email_not_verified")
		Forbidden(w, r, "email not verified")
		return
	default:
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "account logged in", "account_id", a.ID)
	h.Metrics.AccountOp("login", "ok")
	render.JSON(w, r, struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}{a.ID, a.Username})
}

// authenticate checks username and password for endpoints that act on an
// account without a session. Unverified accounts pass. On failure the
// response has been written and nil is returned.
func (h *AuthHandler) authenticate(w http.ResponseWriter, r *http.Request, username, pw string) *account.Account {
	a, err := h.Store.FindByUsername(r.Context(), username)
	if err != nil {
		InternalServerError(w, r, err)
		return nil
	}
	err = h.Core.Authenticate(a, pw)
	if err == nil || errors.Is(err, account.ErrEmailNotVerified) {
		return a
	}
	if errors.Is(err, account.ErrInvalidCredentials) {
		Unauthorized(w, r, "invalid credentials")
		return nil
	}
	InternalServerError(w, r, err)
	return nil
}
