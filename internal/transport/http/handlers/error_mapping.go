package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/storefront-signup/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

var registrationErrorCases = []ErrorCase{
	{Err: usecase.ErrRateLimited, Status: http.StatusTooManyRequests, Message: "too many attempts, try again later"},
	{Err: usecase.ErrCounterUnavailable, Status: http.StatusServiceUnavailable, Message: "service temporarily unavailable"},
	{Err: usecase.ErrValidation, Status: http.StatusBadRequest, Message: "invalid input"},
	{Err: usecase.ErrAccountExists, Status: http.StatusBadRequest, Message: "an account with this email already exists"},
	{Err: usecase.ErrCaptchaRejected, Status: http.StatusBadRequest, Message: "captcha verification failed"},
	{Err: usecase.ErrPendingNotFound, Status: http.StatusBadRequest, Message: "no pending registration for this email, please register again"},
	{Err: usecase.ErrOTPExpired, Status: http.StatusBadRequest, Message: "verification code has expired, request a new one"},
	{Err: usecase.ErrOTPMismatch, Status: http.StatusBadRequest, Message: "verification code is invalid"},
	{Err: usecase.ErrOTPLocked, Status: http.StatusBadRequest, Message: "too many invalid codes, please register again"},
	{Err: usecase.ErrResendCooldown, Status: http.StatusBadRequest, Message: "please wait before requesting another code"},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
// Typed errors contribute per-field messages and retry hints to the body.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	status, resp := fallbackStatus, NewErrorResponse(c, fallbackMessage)
	for _, cs := range cases {
		if cs.Err != nil && errors.Is(err, cs.Err) {
			status, resp.Error = cs.Status, cs.Message
			break
		}
	}

	var (
		validation *usecase.ValidationError
		throttled  *usecase.ThrottledError
		cooldown   *usecase.CooldownError
	)
	switch {
	case errors.As(err, &validation):
		resp.Fields = validation.Fields
	case errors.As(err, &throttled):
		retry := throttled.RetryAfterSeconds()
		resp.RetryAfter = &retry
	case errors.As(err, &cooldown):
		retry := cooldown.WaitSeconds()
		resp.RetryAfter = &retry
	}

	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, resp)
}

func respondRegistrationError(c *gin.Context, err error) {
	RespondWithMappedError(c, err, registrationErrorCases, http.StatusInternalServerError, "something went wrong, please try again")
}
