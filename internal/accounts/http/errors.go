package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
	"github.com/samber/oops"
)

// sentinels with a dedicated wire code; everything else maps by kind.
var errorCodes = []struct {
	err    *service.Error
	status int
	code   string
}{
	{service.ErrInvalidCredentials, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidCredentials},
	{service.ErrMFARequired, http.StatusUnauthorized, accountsdk.ErrorCodeMFARequired},
	{service.ErrUnauthorized, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidToken},
	{service.ErrBootstrapUnauthorized, http.StatusUnauthorized, accountsdk.ErrorCodeUnauthorized},
	{service.ErrAccountSuspended, http.StatusForbidden, accountsdk.ErrorCodeAccountSuspended},
	{service.ErrSecondFactor, http.StatusForbidden, accountsdk.ErrorCodeSecondFactorRequired},
	{service.ErrForbidden, http.StatusForbidden, accountsdk.ErrorCodeForbidden},
}

// toAPIError maps a service error onto the wire. Internal errors never leak
// their message.
func toAPIError(err error) *accountsdk.APIError {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return accountsdk.NewAPIError(e.status, e.code, e.err.Msg)
		}
	}

	var se *service.Error
	if !errors.As(err, &se) {
		return accountsdk.ErrServerError
	}

	switch se.Kind {
	case service.KindValidation:
		apiErr := accountsdk.NewAPIError(http.StatusBadRequest, accountsdk.ErrorCodeInvalidRequest, se.Msg)
		apiErr.Details = se.Details
		return apiErr
	case service.KindConflict:
		return accountsdk.NewAPIError(http.StatusConflict, accountsdk.ErrorCodeConflict, se.Msg)
	case service.KindNotFound:
		return accountsdk.NewAPIError(http.StatusNotFound, accountsdk.ErrorCodeNotFound, se.Msg)
	case service.KindUnauthorized:
		return accountsdk.NewAPIError(http.StatusUnauthorized, accountsdk.ErrorCodeInvalidToken, se.Msg)
	case service.KindForbidden:
		return accountsdk.NewAPIError(http.StatusForbidden, accountsdk.ErrorCodeForbidden, se.Msg)
	default:
		return accountsdk.ErrServerError
	}
}

// writeError logs internal failures with their oops context and writes the
// mapped response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		log := slogx.FromContext(r.Context())
		if oe, ok := oops.AsOops(err); ok {
			log.Error("request failed", "err", err, "code", oe.Code(), "context", oe.Context())
		} else {
			log.Error("request failed", "err", err)
		}
	}
	apiErr.WriteError(w)
}

// writeBadRequest reports a malformed body.
func writeBadRequest(w http.ResponseWriter, err error) {
	accountsdk.NewAPIError(http.StatusBadRequest, accountsdk.ErrorCodeInvalidRequest, err.Error()).WriteError(w)
}
