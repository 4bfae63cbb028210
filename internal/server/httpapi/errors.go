package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/letterflow/internal/common"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: typed errors wrap one sentinel each, but a wrapped chain
// may carry several.
var errorMappings = []errorMapping{
	{common.ErrStaleWebhook, http.StatusGone, "STALE_CALLBACK"},
	{common.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
	{common.ErrSignatureInvalid, http.StatusUnauthorized, "SIGNATURE_INVALID"},
	{common.ErrInvalidToken, http.StatusUnauthorized, "UNAUTHORIZED"},
	{common.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
	{common.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{common.ErrorNotFound, http.StatusNotFound, "NOT_FOUND"},
	{common.ErrOutOfOrderDecision, http.StatusConflict, "OUT_OF_ORDER_DECISION"},
	{common.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{common.ErrVersionConflict, http.StatusConflict, "VERSION_CONFLICT"},
	{common.ErrUnknownProvider, http.StatusUnprocessableEntity, "UNKNOWN_PROVIDER"},
	{common.ErrProviderUnavailable, http.StatusBadGateway, "PROVIDER_UNAVAILABLE"},
}

// statusFor maps a service error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.log.Error(r.Context(), "request failed", "path", r.URL.Path, "request_id", requestIDFrom(r.Context()), "error", err)
		msg = common.ErrorInternal.Error()
	}
	writeError(w, r, status, code, msg)
}
