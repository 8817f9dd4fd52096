package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hassanwm/vigil/internal/auth"
	"github.com/hassanwm/vigil/internal/clientinfo"
	"github.com/hassanwm/vigil/internal/models"
	pkgauth "github.com/hassanwm/vigil/pkg/auth"
	"github.com/hassanwm/vigil/pkg/logger"
)

// UserStore defines the interface for user lookups and updates.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// IPGate is the reputation check applied before any credential handling.
type IPGate interface {
	IsBlocked(ctx context.Context, ip string) (bool, error)
	RecordFailure(ctx context.Context, ip string) (bool, error)
}

// CodeIssuer issues and verifies one-time codes.
type CodeIssuer interface {
	Generate(ctx context.Context, userID string) (string, error)
	Verify(ctx context.Context, userID, code string) error
}

// DeviceRegistry manages trusted devices for the OTP bypass.
type DeviceRegistry interface {
	Lookup(ctx context.Context, userID, deviceID string) (*models.TrustedDevice, error)
	Remember(ctx context.Context, userID string, labels clientinfo.Labels, ip string) (*models.TrustedDevice, error)
	RenewOnLogin(ctx context.Context, device *models.TrustedDevice, labels clientinfo.Labels, ip string) error
}

// CodeDispatcher hands a generated code off for delivery. Delivery is
// fire-and-forget; enqueue failures must not fail the login.
type CodeDispatcher interface {
	Enqueue(email, username, code string)
}

// LoginInput carries everything the orchestrator needs for one attempt.
type LoginInput struct {
	Email           string
	Password        string
	IP              string
	UserAgent       string
	TrustedDeviceID string // from the trusted device cookie; empty if absent
}

// VerifyOTPInput carries a code submission for the second login step.
type VerifyOTPInput struct {
	Email     string
	Code      string
	IP        string
	UserAgent string
}

// ChangePasswordInput carries a forced password change request.
type ChangePasswordInput struct {
	Email           string
	CurrentPassword string
	NewPassword     string
	IP              string
}

// LoginResult is the outcome of a login attempt that did not error.
type LoginResult struct {
	// OTPRequired means a code was issued and the client must call VerifyOTP.
	OTPRequired bool
	// PasswordChangeRequired means the user must change their password
	// before any session is created.
	PasswordChangeRequired bool

	User            *models.User
	AccessToken     string
	RefreshToken    string
	TrustedDeviceID string // set when a new trusted device was registered
}

// LoginService orchestrates the full authentication flow: IP gate,
// credential check, account state checks, trusted device bypass and the OTP
// second step.
type LoginService struct {
	users      UserStore
	ipGate     IPGate
	codes      CodeIssuer
	devices    DeviceRegistry
	dispatcher CodeDispatcher
	tokens     *auth.TokenManager
	env        string
	logger     *slog.Logger
	audit      *logger.AuditLogger
}

func NewLoginService(
	users UserStore,
	ipGate IPGate,
	codes CodeIssuer,
	devices DeviceRegistry,
	dispatcher CodeDispatcher,
	tokens *auth.TokenManager,
	env string,
	log *slog.Logger,
	audit *logger.AuditLogger,
) *LoginService {
	return &LoginService{
		users:      users,
		ipGate:     ipGate,
		codes:      codes,
		devices:    devices,
		dispatcher: dispatcher,
		tokens:     tokens,
		env:        env,
		logger:     log,
		audit:      audit,
	}
}

// checkIP applies the reputation gate. An undetectable IP is rejected outside
// development, where requests legitimately arrive without routable addresses.
func (s *LoginService) checkIP(ctx context.Context, ip string) error {
	if ip == "" {
		if s.env == "development" {
			return nil
		}
		return models.ErrIPUndetectable
	}

	blocked, err := s.ipGate.IsBlocked(ctx, ip)
	if err != nil {
		return err
	}
	if blocked {
		return models.ErrIPBlocked
	}

	return nil
}

// recordFailure counts a credential failure against the IP. It returns
// ErrIPBlocked when this failure crossed the threshold, otherwise fallback.
func (s *LoginService) recordFailure(ctx context.Context, ip string, fallback error) error {
	if ip == "" {
		return fallback
	}

	blocked, err := s.ipGate.RecordFailure(ctx, ip)
	if err != nil {
		s.logger.Error("failed to record login failure", slog.String("ip", ip), slog.Any("error", err))
		return fallback
	}
	if blocked {
		return models.ErrIPBlocked
	}

	return fallback
}

// Login runs the first authentication step. On success the result is one of:
// tokens (trusted device bypass), OTPRequired, or PasswordChangeRequired.
func (s *LoginService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	if err := s.checkIP(ctx, input.IP); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.audit.LogAuthAttempt(logger.AuditEvent{
				EventType:     "login",
				IPAddress:     input.IP,
				UserAgent:     input.UserAgent,
				Success:       false,
				FailureReason: "unknown_email",
			})
			return nil, s.recordFailure(ctx, input.IP, models.ErrUnauthorized)
		}
		return nil, err
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, input.Password); err != nil {
		s.audit.LogAuthAttempt(logger.AuditEvent{
			EventType:     "login",
			UserID:        user.ID,
			IPAddress:     input.IP,
			UserAgent:     input.UserAgent,
			Success:       false,
			FailureReason: "invalid_password",
		})
		return nil, s.recordFailure(ctx, input.IP, models.ErrUnauthorized)
	}

	// A user on their initial password gets no session of any kind until
	// they change it. Checked before the suspension gate so first-time
	// users see the right prompt.
	if !user.HasChangedPassword {
		return &LoginResult{PasswordChangeRequired: true, User: user}, nil
	}

	if !user.IsActive {
		s.audit.LogAuthAttempt(logger.AuditEvent{
			EventType:     "login",
			UserID:        user.ID,
			IPAddress:     input.IP,
			UserAgent:     input.UserAgent,
			Success:       false,
			FailureReason: "account_suspended",
		})
		return nil, s.recordFailure(ctx, input.IP, models.ErrAccountSuspended)
	}

	labels := clientinfo.Parse(input.UserAgent)

	if input.TrustedDeviceID != "" {
		device, err := s.devices.Lookup(ctx, user.ID, input.TrustedDeviceID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}

		if device != nil {
			return s.completeBypassLogin(ctx, user, device, labels, input)
		}
		// Cookie is stale or belongs to another user; fall through to OTP.
	}

	code, err := s.codes.Generate(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.dispatcher.Enqueue(user.Email, user.Username, code)

	s.audit.LogAuthAttempt(logger.AuditEvent{
		EventType: "login_otp_issued",
		UserID:    user.ID,
		IPAddress: input.IP,
		UserAgent: input.UserAgent,
		Success:   true,
	})

	return &LoginResult{OTPRequired: true, User: user}, nil
}

// completeBypassLogin finishes a login on a recognized trusted device.
func (s *LoginService) completeBypassLogin(ctx context.Context, user *models.User, device *models.TrustedDevice, labels clientinfo.Labels, input LoginInput) (*LoginResult, error) {
	if err := s.devices.RenewOnLogin(ctx, device, labels, input.IP); err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now()); err != nil {
		return nil, err
	}

	accessToken, refreshToken, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}

	s.audit.LogAuthAttempt(logger.AuditEvent{
		EventType: "login_trusted_device",
		UserID:    user.ID,
		IPAddress: input.IP,
		UserAgent: input.UserAgent,
		Success:   true,
	})

	return &LoginResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// VerifyOTP runs the second authentication step. A valid code yields tokens
// and registers the client as a trusted device.
func (s *LoginService) VerifyOTP(ctx context.Context, input VerifyOTPInput) (*LoginResult, error) {
	if err := s.checkIP(ctx, input.IP); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrOTPInvalid
		}
		return nil, err
	}

	if err := s.codes.Verify(ctx, user.ID, input.Code); err != nil {
		s.audit.LogOTPEvent("otp_verify", user.ID, input.IP, false, err.Error())
		return nil, err
	}

	labels := clientinfo.Parse(input.UserAgent)

	device, err := s.devices.Remember(ctx, user.ID, labels, input.IP)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now()); err != nil {
		return nil, err
	}

	accessToken, refreshToken, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}

	s.audit.LogOTPEvent("otp_verify", user.ID, input.IP, true, "")

	return &LoginResult{
		User:            user,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		TrustedDeviceID: device.DeviceID,
	}, nil
}

// ForceChangePassword replaces the password for a user still on their
// initial one. The current password must be correct and the account active.
func (s *LoginService) ForceChangePassword(ctx context.Context, input ChangePasswordInput) error {
	if err := s.checkIP(ctx, input.IP); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return s.recordFailure(ctx, input.IP, models.ErrUnauthorized)
		}
		return err
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, input.CurrentPassword); err != nil {
		s.audit.LogPasswordChange(user.ID, input.IP, false)
		return s.recordFailure(ctx, input.IP, models.ErrUnauthorized)
	}

	if !user.IsActive {
		return models.ErrAccountSuspended
	}

	if err := pkgauth.ValidatePassword(input.NewPassword); err != nil {
		return err
	}

	hash, err := pkgauth.HashPassword(input.NewPassword)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	s.audit.LogPasswordChange(user.ID, input.IP, true)

	return nil
}

func (s *LoginService) issueTokens(user *models.User) (string, string, error) {
	accessToken, err := s.tokens.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return "", "", err
	}

	refreshToken, err := s.tokens.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}
