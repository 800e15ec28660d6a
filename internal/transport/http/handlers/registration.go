package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/transport/http/middleware"
	"github.com/arklim/storefront-signup/internal/usecase"
)

const (
	verifyPath = "/api/v1/register/verify"

	maxBodyBytes = 16 << 10
)

// RegistrationFlow is the slice of usecase.RegistrationService the handler drives.
type RegistrationFlow interface {
	Admit(ctx context.Context, action usecase.Action, clientIP string) (domain.RateLimitDecision, error)
	Begin(ctx context.Context, in usecase.BeginInput) (usecase.BeginResult, error)
	Resend(ctx context.Context, in usecase.ResendInput) (usecase.ResendResult, error)
	Verify(ctx context.Context, in usecase.VerifyInput) (usecase.VerifyResult, error)
}

// RegistrationHandler exposes the OTP-gated sign-up endpoints.
type RegistrationHandler struct {
	flow RegistrationFlow
}

func NewRegistrationHandler(flow RegistrationFlow) *RegistrationHandler {
	return &RegistrationHandler{flow: flow}
}

// RegisterRoutes binds registration endpoints.
func (h *RegistrationHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("", h.Register)
	r.POST("/resend", h.Resend)
	r.POST("/verify", h.Verify)
}

// Register starts a registration and mails a verification code.
func (h *RegistrationHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !h.bind(c, usecase.ActionBegin, &req) {
		return
	}

	res, err := h.flow.Begin(c.Request.Context(), usecase.BeginInput{
		Email:        req.Email,
		Name:         req.Name,
		Password:     req.Password,
		CaptchaToken: req.CaptchaToken,
		ClientIP:     middleware.GetClientIP(c),
		UserAgent:    c.Request.UserAgent(),
	})
	middleware.ApplyRateLimitHeaders(c, res.RateLimit)
	if err != nil {
		respondRegistrationError(c, err)
		return
	}

	c.JSON(http.StatusOK, RegisterResponse{
		Success: true,
		Message: "verification code sent, check your inbox",
		Next: Continuation{
			Path:              verifyPath,
			Email:             res.Email,
			Token:             res.Continuation,
			ExpiresAt:         res.OTPExpiresAt.UTC(),
			ResendAvailableAt: res.ResendAvailableAt.UTC(),
		},
	})
}

// Resend issues a new code once the cooldown has passed.
func (h *RegistrationHandler) Resend(c *gin.Context) {
	var req ResendRequest
	if !h.bind(c, usecase.ActionResend, &req) {
		return
	}

	res, err := h.flow.Resend(c.Request.Context(), usecase.ResendInput{
		Email:        req.Email,
		Continuation: req.Continuation,
		ClientIP:     middleware.GetClientIP(c),
	})
	middleware.ApplyRateLimitHeaders(c, res.RateLimit)
	if err != nil {
		respondRegistrationError(c, err)
		return
	}

	c.JSON(http.StatusOK, ResendResponse{
		Success:           true,
		Message:           "a new verification code has been sent",
		ExpiresAt:         res.OTPExpiresAt.UTC(),
		ResendAvailableAt: res.ResendAvailableAt.UTC(),
	})
}

// Verify confirms the code and creates the account.
func (h *RegistrationHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if !h.bind(c, usecase.ActionVerify, &req) {
		return
	}

	res, err := h.flow.Verify(c.Request.Context(), usecase.VerifyInput{
		Email:        req.Email,
		Continuation: req.Continuation,
		OTP:          req.OTP,
		ClientIP:     middleware.GetClientIP(c),
	})
	middleware.ApplyRateLimitHeaders(c, res.RateLimit)
	if err != nil {
		respondRegistrationError(c, err)
		return
	}

	message := "account created"
	if res.AlreadyVerified {
		message = "account already verified"
	}
	c.JSON(http.StatusOK, VerifyResponse{
		Success:         true,
		Message:         message,
		AlreadyVerified: res.AlreadyVerified,
		User:            newUserSummary(res.User),
	})
}

// bind decodes the body. A body that cannot be decoded still passes through
// the admission check so that garbage requests consume quota like any other.
func (h *RegistrationHandler) bind(c *gin.Context, action usecase.Action, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	bindErr := c.ShouldBindJSON(dst)
	if bindErr == nil {
		return true
	}

	decision, err := h.flow.Admit(c.Request.Context(), action, middleware.GetClientIP(c))
	middleware.ApplyRateLimitHeaders(c, decision)
	if err != nil {
		respondRegistrationError(c, err)
		return false
	}

	var tooLarge *http.MaxBytesError
	if errors.As(bindErr, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, NewErrorResponse(c, "request body too large"))
		return false
	}
	c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request body"))
	return false
}
