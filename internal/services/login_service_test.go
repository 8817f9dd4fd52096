package services_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hassanwm/vigil/internal/auth"
	"github.com/hassanwm/vigil/internal/clientinfo"
	"github.com/hassanwm/vigil/internal/models"
	"github.com/hassanwm/vigil/internal/services"
	pkgauth "github.com/hassanwm/vigil/pkg/auth"
	"github.com/hassanwm/vigil/pkg/logger"
)

const (
	testPassword  = "Sup3r$ecretPass"
	testUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type loginDeps struct {
	users      *services.MockUserStore
	ipGate     *services.MockIPGate
	codes      *services.MockCodeIssuer
	devices    *services.MockDeviceRegistry
	dispatcher *services.MockCodeDispatcher
}

func newLoginService(t *testing.T, env string) (*services.LoginService, *loginDeps) {
	t.Helper()

	deps := &loginDeps{
		users:      &services.MockUserStore{},
		ipGate:     &services.MockIPGate{},
		codes:      &services.MockCodeIssuer{},
		devices:    &services.MockDeviceRegistry{},
		dispatcher: &services.MockCodeDispatcher{},
	}

	tokens := auth.NewTokenManager("test-secret-32-characters-long!!", 15*time.Minute, 168*time.Hour)
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))

	svc := services.NewLoginService(
		deps.users, deps.ipGate, deps.codes, deps.devices, deps.dispatcher,
		tokens, env, log, logger.NewAuditLogger(log),
	)
	return svc, deps
}

func seedUser(t *testing.T, deps *loginDeps) *models.User {
	t.Helper()

	hash, err := pkgauth.HashPassword(testPassword)
	require.NoError(t, err)

	user := services.NewTestUser("user-1", "jordan@example.com", "jordan", hash)
	deps.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		if email == user.Email {
			return user, nil
		}
		return nil, models.ErrNotFound
	}
	return user
}

func loginInput(deviceID string) services.LoginInput {
	return services.LoginInput{
		Email:           "jordan@example.com",
		Password:        testPassword,
		IP:              "203.0.113.7",
		UserAgent:       testUserAgent,
		TrustedDeviceID: deviceID,
	}
}

func TestLoginService_Login_BlockedIPRejected(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	seedUser(t, deps)

	deps.ipGate.IsBlockedFunc = func(ctx context.Context, ip string) (bool, error) {
		return true, nil
	}

	_, err := svc.Login(context.Background(), loginInput(""))
	assert.ErrorIs(t, err, models.ErrIPBlocked)
}

func TestLoginService_Login_UndetectableIPRejectedInProduction(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	seedUser(t, deps)

	input := loginInput("")
	input.IP = ""

	_, err := svc.Login(context.Background(), input)
	assert.ErrorIs(t, err, models.ErrIPUndetectable)
}

func TestLoginService_Login_UndetectableIPAllowedInDevelopment(t *testing.T) {
	svc, deps := newLoginService(t, "development")
	seedUser(t, deps)

	input := loginInput("")
	input.IP = ""

	result, err := svc.Login(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, result.OTPRequired)
}

func TestLoginService_Login_UnknownEmail(t *testing.T) {
	svc, deps := newLoginService(t, "production")

	input := loginInput("")
	input.Email = "nobody@example.com"

	_, err := svc.Login(context.Background(), input)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Equal(t, []string{"203.0.113.7"}, deps.ipGate.Failures,
		"unknown email counts against the IP")
}

func TestLoginService_Login_WrongPassword(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	seedUser(t, deps)

	input := loginInput("")
	input.Password = "Wr0ng$Password!"

	_, err := svc.Login(context.Background(), input)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Len(t, deps.ipGate.Failures, 1)
}

func TestLoginService_Login_FailureCrossingThresholdBlocks(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	seedUser(t, deps)

	deps.ipGate.RecordFailureFunc = func(ctx context.Context, ip string) (bool, error) {
		return true, nil
	}

	input := loginInput("")
	input.Password = "Wr0ng$Password!"

	_, err := svc.Login(context.Background(), input)
	assert.ErrorIs(t, err, models.ErrIPBlocked)
}

func TestLoginService_Login_PasswordChangeRequired(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	user := seedUser(t, deps)
	user.HasChangedPassword = false
	user.IsActive = false // change prompt wins over suspension

	result, err := svc.Login(context.Background(), loginInput(""))
	require.NoError(t, err)
	assert.True(t, result.PasswordChangeRequired)
	assert.False(t, result.OTPRequired)
	assert.Empty(t, result.AccessToken)
	assert.Empty(t, deps.ipGate.Failures)
}

func TestLoginService_Login_SuspendedAccount(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	user := seedUser(t, deps)
	user.IsActive = false

	_, err := svc.Login(context.Background(), loginInput(""))
	assert.ErrorIs(t, err, models.ErrAccountSuspended)
	assert.Len(t, deps.ipGate.Failures, 1, "suspended logins count against the IP")
}

func TestLoginService_Login_IssuesOTPAndDispatchesCode(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	user := seedUser(t, deps)

	deps.codes.GenerateFunc = func(ctx context.Context, userID string) (string, error) {
		assert.Equal(t, user.ID, userID)
		return "654321", nil
	}

	result, err := svc.Login(context.Background(), loginInput(""))
	require.NoError(t, err)

	assert.True(t, result.OTPRequired)
	assert.Empty(t, result.AccessToken)

	require.Len(t, deps.dispatcher.Delivered, 1)
	delivered := deps.dispatcher.Delivered[0]
	assert.Equal(t, user.Email, delivered.Email)
	assert.Equal(t, user.Username, delivered.Username)
	assert.Equal(t, "654321", delivered.Code)
}

func TestLoginService_Login_OTPRateLimitPropagates(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	seedUser(t, deps)

	deps.codes.GenerateFunc = func(ctx context.Context, userID string) (string, error) {
		return "", models.NewWaitError(models.ErrOTPRateLimited, 42*time.Second)
	}

	_, err := svc.Login(context.Background(), loginInput(""))
	assert.ErrorIs(t, err, models.ErrOTPRateLimited)
	assert.Empty(t, deps.dispatcher.Delivered)
}

func TestLoginService_Login_TrustedDeviceBypass(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	user := seedUser(t, deps)

	trusted := &models.TrustedDevice{
		ID:       "td_1",
		UserID:   user.ID,
		DeviceID: "known-device",
	}
	deps.devices.LookupFunc = func(ctx context.Context, userID, deviceID string) (*models.TrustedDevice, error) {
		if userID == user.ID && deviceID == "known-device" {
			return trusted, nil
		}
		return nil, models.ErrNotFound
	}

	var renewed bool
	deps.devices.RenewOnLoginFunc = func(ctx context.Context, device *models.TrustedDevice, labels clientinfo.Labels, ip string) error {
		renewed = true
		assert.Equal(t, "td_1", device.ID)
		assert.Equal(t, "203.0.113.7", ip)
		return nil
	}

	var lastLoginUpdated bool
	deps.users.UpdateLastLoginFunc = func(ctx context.Context, id string, at time.Time) error {
		lastLoginUpdated = true
		assert.Equal(t, user.ID, id)
		return nil
	}

	result, err := svc.Login(context.Background(), loginInput("known-device"))
	require.NoError(t, err)

	assert.False(t, result.OTPRequired)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.True(t, renewed)
	assert.True(t, lastLoginUpdated)
	assert.Empty(t, deps.dispatcher.Delivered, "bypass skips the OTP step")
}

func TestLoginService_Login_StaleDeviceCookieFallsThroughToOTP(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	seedUser(t, deps)

	result, err := svc.Login(context.Background(), loginInput("stale-device"))
	require.NoError(t, err)

	assert.True(t, result.OTPRequired)
	assert.Len(t, deps.dispatcher.Delivered, 1)
}

func TestLoginService_VerifyOTP_Success(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	user := seedUser(t, deps)

	deps.codes.VerifyFunc = func(ctx context.Context, userID, code string) error {
		assert.Equal(t, user.ID, userID)
		assert.Equal(t, "123456", code)
		return nil
	}

	result, err := svc.VerifyOTP(context.Background(), services.VerifyOTPInput{
		Email:     user.Email,
		Code:      "123456",
		IP:        "203.0.113.7",
		UserAgent: testUserAgent,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Equal(t, "device_token_"+user.ID, result.TrustedDeviceID,
		"client gets a device token to persist")
}

func TestLoginService_VerifyOTP_UnknownEmail(t *testing.T) {
	svc, _ := newLoginService(t, "production")

	_, err := svc.VerifyOTP(context.Background(), services.VerifyOTPInput{
		Email: "nobody@example.com",
		Code:  "123456",
		IP:    "203.0.113.7",
	})
	assert.ErrorIs(t, err, models.ErrOTPInvalid, "unknown emails are indistinguishable from bad codes")
}

func TestLoginService_VerifyOTP_WrongCode(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	user := seedUser(t, deps)

	deps.codes.VerifyFunc = func(ctx context.Context, userID, code string) error {
		return models.ErrOTPInvalid
	}

	_, err := svc.VerifyOTP(context.Background(), services.VerifyOTPInput{
		Email: user.Email,
		Code:  "000000",
		IP:    "203.0.113.7",
	})
	assert.ErrorIs(t, err, models.ErrOTPInvalid)
	assert.Empty(t, deps.ipGate.Failures, "code failures do not count against the IP")
}

func TestLoginService_VerifyOTP_BlockedIPRejected(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	seedUser(t, deps)

	deps.ipGate.IsBlockedFunc = func(ctx context.Context, ip string) (bool, error) {
		return true, nil
	}

	_, err := svc.VerifyOTP(context.Background(), services.VerifyOTPInput{
		Email: "jordan@example.com",
		Code:  "123456",
		IP:    "203.0.113.7",
	})
	assert.ErrorIs(t, err, models.ErrIPBlocked)
}

func TestLoginService_ForceChangePassword_Success(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	user := seedUser(t, deps)
	user.HasChangedPassword = false

	var storedHash string
	deps.users.UpdatePasswordFunc = func(ctx context.Context, id, passwordHash string) error {
		assert.Equal(t, user.ID, id)
		storedHash = passwordHash
		return nil
	}

	err := svc.ForceChangePassword(context.Background(), services.ChangePasswordInput{
		Email:           user.Email,
		CurrentPassword: testPassword,
		NewPassword:     "N3w$ecretPass!",
		IP:              "203.0.113.7",
	})
	require.NoError(t, err)

	require.NotEmpty(t, storedHash)
	assert.NoError(t, pkgauth.ComparePassword(storedHash, "N3w$ecretPass!"))
}

func TestLoginService_ForceChangePassword_WrongCurrentPassword(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	user := seedUser(t, deps)

	err := svc.ForceChangePassword(context.Background(), services.ChangePasswordInput{
		Email:           user.Email,
		CurrentPassword: "Wr0ng$Password!",
		NewPassword:     "N3w$ecretPass!",
		IP:              "203.0.113.7",
	})
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Len(t, deps.ipGate.Failures, 1)
}

func TestLoginService_ForceChangePassword_WeakNewPassword(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	user := seedUser(t, deps)

	var updated bool
	deps.users.UpdatePasswordFunc = func(ctx context.Context, id, passwordHash string) error {
		updated = true
		return nil
	}

	err := svc.ForceChangePassword(context.Background(), services.ChangePasswordInput{
		Email:           user.Email,
		CurrentPassword: testPassword,
		NewPassword:     "short",
		IP:              "203.0.113.7",
	})
	assert.Error(t, err)
	assert.False(t, updated)
}

func TestLoginService_ForceChangePassword_SuspendedAccount(t *testing.T) {
	svc, deps := newLoginService(t, "production")
	user := seedUser(t, deps)
	user.IsActive = false

	err := svc.ForceChangePassword(context.Background(), services.ChangePasswordInput{
		Email:           user.Email,
		CurrentPassword: testPassword,
		NewPassword:     "N3w$ecretPass!",
		IP:              "203.0.113.7",
	})
	assert.ErrorIs(t, err, models.ErrAccountSuspended)
}
