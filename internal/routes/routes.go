package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/hassanwm/vigil/internal/handlers"
	"github.com/hassanwm/vigil/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, authHandler *handlers.AuthHandler) {
	loginLimit := middleware.DefaultLoginRateLimit()
	otpLimit := middleware.DefaultOTPRateLimit()

	// All auth endpoints are public; the service layer applies the IP
	// reputation gate and per-device limits on top of these burst limits.
	router.With(middleware.RateLimitByIP(loginLimit)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(otpLimit)).Post("/auth/verify-otp", authHandler.VerifyOTP)
	router.With(middleware.RateLimitByIP(loginLimit)).Post("/auth/change-password", authHandler.ChangePassword)
}
