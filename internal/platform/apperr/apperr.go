// Package apperr defines the error kinds shared by the domain services and
// their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	ErrUnauthorized       = errors.New("authentication required")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrNotFound           = errors.New("not found")
	ErrSelfModification   = errors.New("you cannot modify your own account this way")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError carries field-level messages keyed by input field name.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records msg against field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// OrNil returns e when at least one field failed, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Invalid is a shorthand for a single-field validation error.
func Invalid(field, msg string) error {
	v := &ValidationError{}
	v.Add(field, msg)
	return v
}

// ReferencedEntityError is returned when a directory entity cannot be removed
// because referrals still point at it.
type ReferencedEntityError struct {
	Entity string
	Count  int
}

func (e *ReferencedEntityError) Error() string {
	return fmt.Sprintf("cannot delete: this %s has %d referral(s) linked to it", e.Entity, e.Count)
}

// messageError is a sentinel with a client-facing message of its own.
type messageError struct {
	kind error
	msg  string
}

func (e *messageError) Error() string        { return e.msg }
func (e *messageError) Is(target error) bool { return target == e.kind }

// NotFound returns an error matching ErrNotFound whose message is shown to
// the client as is, e.g. NotFound("Referral not found").
func NotFound(msg string) error {
	return &messageError{kind: ErrNotFound, msg: msg}
}

// SelfModification returns an error matching ErrSelfModification with msg.
func SelfModification(msg string) error {
	return &messageError{kind: ErrSelfModification, msg: msg}
}

// messageOf returns the innermost messageError text, or fallback.
func messageOf(err error, fallback string) string {
	var me *messageError
	if errors.As(err, &me) {
		return me.msg
	}
	return fallback
}

// StorageRejectedError is returned when the blob store refuses an upload.
type StorageRejectedError struct {
	Reason string
}

func (e *StorageRejectedError) Error() string {
	return e.Reason
}

// HTTPError converts a service error into an echo HTTP error. Unknown errors
// become a generic 500 so internal details never reach the client.
func HTTPError(err error) *echo.HTTPError {
	var (
		validation *ValidationError
		referenced *ReferencedEntityError
		rejected   *StorageRejectedError
	)
	switch {
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "validation failed",
			"fields": validation.Fields,
		}).SetInternal(err)
	case errors.As(err, &referenced):
		return echo.NewHTTPError(http.StatusConflict, referenced.Error()).SetInternal(err)
	case errors.As(err, &rejected):
		return echo.NewHTTPError(http.StatusBadRequest, rejected.Reason).SetInternal(err)
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, unwrapMessage(err)).SetInternal(err)
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, ErrForbidden.Error()).SetInternal(err)
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, messageOf(err, "Not found")).SetInternal(err)
	case errors.Is(err, ErrSelfModification):
		return echo.NewHTTPError(http.StatusBadRequest, messageOf(err, ErrSelfModification.Error())).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

func unwrapMessage(err error) string {
	if errors.Is(err, ErrInvalidCredentials) {
		return ErrInvalidCredentials.Error()
	}
	return ErrUnauthorized.Error()
}
