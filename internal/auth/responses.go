// responses.go -- Package-wide HTTP response helpers.
//
// Every body is JSON rendered through go-chi/render. Messages are fixed
// strings; user input is never echoed back.
package auth

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"
)

// messageResponse is the body of every plain status reply.
type messageResponse struct {
	Message string `json:"message"`
}

// validationResponse carries per-field or per-rule failures.
type validationResponse struct {
	Message  string   `json:"message"`
	Failures []string `json:"failures"`
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, messageResponse{Message: message})
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeMessage(w, r, http.StatusInternalServerError, "internal server error")
}

// BadRequest returns a 400 JSON response with the given message.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeMessage(w, r, http.StatusBadRequest, message)
}

// Unauthorized returns a 401 JSON response. Keep message generic to prevent user enumeration.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	writeMessage(w, r, http.StatusUnauthorized, message)
}

// Forbidden returns a 403 JSON response with the given message.
func Forbidden(w http.ResponseWriter, r *http.Request, message string) {
	writeMessage(w, r, http.StatusForbidden, message)
}

// Conflict returns a 409 JSON response with the given message.
func Conflict(w http.ResponseWriter, r *http.Request, message string) {
	writeMessage(w, r, http.StatusConflict, message)
}

// OK returns a 200 JSON response with the given message.
func OK(w http.ResponseWriter, r *http.Request, message string) {
	writeMessage(w, r, http.StatusOK, message)
}

// Created returns a 201 JSON response with the given message.
func Created(w http.ResponseWriter, r *http.Request, message string) {
	writeMessage(w, r, http.StatusCreated, message)
}

// TooManyRequests returns a 429 JSON response.
func TooManyRequests(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, r, http.StatusTooManyRequests, "too many requests")
}

// PasswordRejected returns a 400 listing the password rules that failed.
func PasswordRejected(w http.ResponseWriter, r *http.Request, failures []string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, validationResponse{Message: "password rules not met", Failures: failures})
}

// ValidationFailed returns a 400 with one readable line per invalid field.
func ValidationFailed(w http.ResponseWriter, r *http.Request, errs validator.ValidationErrors) {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", err.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "alphanum":
			msgs = append(msgs, fmt.Sprintf("field %s can contain only numbers and letters", err.Field()))
		case "uuid4":
			msgs = append(msgs, fmt.Sprintf("field %s must be a uuid", err.Field()))
		case "min", "max":
			msgs = append(msgs, fmt.Sprintf("field %s must have length %s %s", err.Field(), err.ActualTag(), err.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, validationResponse{Message: "invalid request", Failures: msgs})
}
