package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hassanwm/vigil/internal/auth"
	"github.com/hassanwm/vigil/internal/models"
	"github.com/hassanwm/vigil/internal/services"
	pkghttp "github.com/hassanwm/vigil/pkg/http"
)

// LoginServiceInterface defines the interface for login business logic
type LoginServiceInterface interface {
	Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
	VerifyOTP(ctx context.Context, input services.VerifyOTPInput) (*services.LoginResult, error)
	ForceChangePassword(ctx context.Context, input services.ChangePasswordInput) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service   LoginServiceInterface
	ipConfig  *pkghttp.IPConfig
	cookies   auth.CookieConfig
	deviceTTL time.Duration
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service LoginServiceInterface, ipConfig *pkghttp.IPConfig, cookies auth.CookieConfig, deviceTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		service:   service,
		ipConfig:  ipConfig,
		cookies:   cookies,
		deviceTTL: deviceTTL,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// VerifyOTPRequest represents the request body for the second login step
type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// ChangePasswordRequest represents the request body for the forced password change
type ChangePasswordRequest struct {
	Email           string `json:"email" validate:"required,email"`
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// Response DTOs

// UserResponse is the public view of a user returned on successful login
type UserResponse struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// LoginResponse represents the response body for both login steps
type LoginResponse struct {
	OTPRequired            bool          `json:"otp_required,omitempty"`
	PasswordChangeRequired bool          `json:"password_change_required,omitempty"`
	Message                string        `json:"message,omitempty"`
	AccessToken            string        `json:"access_token,omitempty"`
	RefreshToken           string        `json:"refresh_token,omitempty"`
	User                   *UserResponse `json:"user,omitempty"`
}

func toUserResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Username:  user.Username,
		LastLogin: user.LastLogin,
	}
}

// Login handles the first authentication step
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	deviceID, _ := auth.GetTrustedDeviceCookie(r, h.cookies.Name)

	result, err := h.service.Login(r.Context(), services.LoginInput{
		Email:           req.Email,
		Password:        req.Password,
		IP:              pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:       r.Header.Get("User-Agent"),
		TrustedDeviceID: deviceID,
	})
	if err != nil {
		writeAuthError(w, err)
		return
	}

	switch {
	case result.PasswordChangeRequired:
		pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
			PasswordChangeRequired: true,
			Message:                "You must change your password before logging in.",
		})
	case result.OTPRequired:
		pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
			OTPRequired: true,
			Message:     "A login code has been sent to your email.",
		})
	default:
		// Trusted device bypass completed the login in one step.
		pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
			AccessToken:  result.AccessToken,
			RefreshToken: result.RefreshToken,
			User:         toUserResponse(result.User),
		})
	}
}

// VerifyOTP handles the second authentication step
// @Summary Verify login code
// @Accept json
// @Param request body VerifyOTPRequest true "Verify OTP request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 423 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/verify-otp [post]
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	result, err := h.service.VerifyOTP(r.Context(), services.VerifyOTPInput{
		Email:     req.Email,
		Code:      req.Code,
		IP:        pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.Header.Get("User-Agent"),
	})
	if err != nil {
		writeAuthError(w, err)
		return
	}

	// The browser keeps the device identifier so the next login can skip
	// the code step.
	if result.TrustedDeviceID != "" {
		auth.SetTrustedDeviceCookie(w, result.TrustedDeviceID, int(h.deviceTTL.Seconds()), h.cookies)
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         toUserResponse(result.User),
	})
}

// ChangePassword handles the forced password change for users still on
// their initial password
// @Summary Change password
// @Accept json
// @Param request body ChangePasswordRequest true "Change password request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	err := h.service.ForceChangePassword(r.Context(), services.ChangePasswordInput{
		Email:           req.Email,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		IP:              pkghttp.ExtractClientIP(r, h.ipConfig),
	})
	if err != nil {
		if isPasswordPolicyError(err) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		Message: "Password changed successfully. Please log in.",
	})
}

// isPasswordPolicyError reports whether err came from the password strength
// check rather than the authentication pipeline.
func isPasswordPolicyError(err error) bool {
	return strings.Contains(err.Error(), "password must")
}

// writeAuthError maps pipeline errors onto HTTP responses. Messages stay
// generic; the audit log carries the specifics.
func writeAuthError(w http.ResponseWriter, err error) {
	var waitErr *models.WaitError

	switch {
	case errors.Is(err, models.ErrIPBlocked):
		pkghttp.WriteForbidden(w, "Access denied.")
	case errors.Is(err, models.ErrIPUndetectable):
		pkghttp.WriteBadRequest(w, "Client address could not be determined.")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "The credentials you entered are incorrect.")
	case errors.Is(err, models.ErrAccountSuspended):
		pkghttp.WriteForbidden(w, "This account has been suspended.")
	case errors.Is(err, models.ErrOTPRateLimited):
		message := "Please wait before requesting another code."
		if errors.As(err, &waitErr) {
			message = "Please wait " + models.FormatWait(waitErr.RetryIn) + " before requesting another code."
		}
		pkghttp.WriteTooManyRequests(w, message)
	case errors.Is(err, models.ErrOTPLocked):
		message := "Too many failed attempts. Please try again later."
		if errors.As(err, &waitErr) {
			message = "Too many failed attempts. Please try again in " + models.FormatWait(waitErr.RetryIn) + "."
		}
		pkghttp.WriteLocked(w, message)
	case errors.Is(err, models.ErrOTPExpired):
		pkghttp.WriteBadRequest(w, "The code has expired. Please request a new one.")
	case errors.Is(err, models.ErrOTPAlreadyUsed):
		pkghttp.WriteBadRequest(w, "The code has already been used. Please request a new one.")
	case errors.Is(err, models.ErrOTPInvalid):
		pkghttp.WriteBadRequest(w, "The code you entered is incorrect.")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
