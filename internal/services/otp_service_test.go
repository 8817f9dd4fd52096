package services_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hassanwm/vigil/internal/auth"
	"github.com/hassanwm/vigil/internal/config"
	"github.com/hassanwm/vigil/internal/models"
	"github.com/hassanwm/vigil/internal/services"
)

func testOTPConfig() config.OTPConfig {
	return config.OTPConfig{
		Digits:            6,
		Validity:          5 * time.Minute,
		BaseCooldown:      60 * time.Second,
		CooldownFactor:    2.0,
		JitterMin:         5 * time.Second,
		JitterMax:         15 * time.Second,
		MaxFailedAttempts: 5,
		LockMin:           5 * time.Minute,
		LockMax:           10 * time.Minute,
	}
}

func newOTPService(t *testing.T) (*services.OTPService, *services.MockOTPDeviceStore, *auth.OTPCipher) {
	t.Helper()

	cipher, err := auth.NewOTPCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	store := services.NewMockOTPDeviceStore(5, 2.0)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	return services.NewOTPService(store, cipher, testOTPConfig(), logger), store, cipher
}

func TestOTPService_Generate_IssuesCode(t *testing.T) {
	svc, store, cipher := newOTPService(t)
	ctx := context.Background()

	code, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, code, 6)

	device := store.Device("user-1")
	require.NotNil(t, device)
	assert.False(t, device.Used)
	assert.Zero(t, device.FailedAttempts)
	assert.NotNil(t, device.OTPExpiry)
	assert.NotNil(t, device.NextAllowedRequestAt)

	// Plaintext never stored; ciphertext decrypts back to the issued code.
	stored, err := cipher.Decrypt(device.OTPEncrypted, device.OTPNonce)
	require.NoError(t, err)
	assert.Equal(t, code, stored)
}

func TestOTPService_Generate_CooldownSchedule(t *testing.T) {
	svc, store, _ := newOTPService(t)
	ctx := context.Background()

	before := time.Now()
	_, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	device := store.Device("user-1")

	// Base cooldown 60s plus 5-15s jitter.
	wait := device.NextAllowedRequestAt.Sub(before)
	assert.GreaterOrEqual(t, wait, 65*time.Second)
	assert.LessOrEqual(t, wait, 76*time.Second)
}

func TestOTPService_Generate_RejectsDuringCooldown(t *testing.T) {
	svc, _, _ := newOTPService(t)
	ctx := context.Background()

	_, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	_, err = svc.Generate(ctx, "user-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOTPRateLimited)

	waitErr, ok := services.IsWaitError(err)
	require.True(t, ok)
	assert.Greater(t, waitErr.RetryIn, time.Duration(0))
}

func TestOTPService_Generate_EscalatesCooldownWithFailures(t *testing.T) {
	svc, store, _ := newOTPService(t)
	ctx := context.Background()

	code, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	// Three wrong guesses, then force the cooldown open and regenerate.
	for i := 0; i < 3; i++ {
		wrong := "000000"
		if wrong == code {
			wrong = "000001"
		}
		err := svc.Verify(ctx, "user-1", wrong)
		assert.ErrorIs(t, err, models.ErrOTPInvalid)
	}

	device := store.Device("user-1")
	require.Equal(t, 3, device.FailedAttempts)
	past := time.Now().Add(-time.Second)
	device.NextAllowedRequestAt = &past

	before := time.Now()
	_, err = svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	device = store.Device("user-1")

	// 60s * 2^3 = 480s, plus 5-15s jitter. The failure count resets after
	// feeding the exponent.
	wait := device.NextAllowedRequestAt.Sub(before)
	assert.GreaterOrEqual(t, wait, 485*time.Second)
	assert.LessOrEqual(t, wait, 496*time.Second)
	assert.Zero(t, device.FailedAttempts)
}

func TestOTPService_Generate_RejectsWhileLocked(t *testing.T) {
	svc, store, _ := newOTPService(t)
	ctx := context.Background()

	_, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	device := store.Device("user-1")
	past := time.Now().Add(-time.Second)
	device.NextAllowedRequestAt = &past
	lockUntil := time.Now().Add(5 * time.Minute)
	device.LockUntil = &lockUntil

	_, err = svc.Generate(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrOTPLocked)
}

func TestOTPService_Generate_CooldownReportedBeforeLock(t *testing.T) {
	svc, store, _ := newOTPService(t)
	ctx := context.Background()

	_, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	// Locked while still inside the post-generate cooldown.
	lockUntil := time.Now().Add(7 * time.Minute)
	store.Device("user-1").LockUntil = &lockUntil

	_, err = svc.Generate(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrOTPRateLimited)

	waitErr, ok := services.IsWaitError(err)
	require.True(t, ok)
	assert.Greater(t, waitErr.RetryIn, time.Duration(0))
}

func TestOTPService_Generate_CooldownLeavesElapsedLockUntouched(t *testing.T) {
	svc, store, _ := newOTPService(t)
	ctx := context.Background()

	_, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	device := store.Device("user-1")
	expired := time.Now().Add(-time.Minute)
	device.LockUntil = &expired
	device.FailedAttempts = 5

	_, err = svc.Generate(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrOTPRateLimited)

	// The auto-clear waits for the cooldown to open.
	device = store.Device("user-1")
	require.NotNil(t, device.LockUntil)
	assert.Equal(t, 5, device.FailedAttempts)
}

func TestOTPService_Generate_ElapsedLockAutoClears(t *testing.T) {
	svc, store, _ := newOTPService(t)
	ctx := context.Background()

	_, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	device := store.Device("user-1")
	expired := time.Now().Add(-time.Minute)
	device.LockUntil = &expired
	device.FailedAttempts = 5
	device.NextAllowedRequestAt = &expired

	_, err = svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	device = store.Device("user-1")
	assert.Nil(t, device.LockUntil)
	assert.Zero(t, device.FailedAttempts)
}

func TestOTPService_Verify_Success(t *testing.T) {
	svc, store, _ := newOTPService(t)
	ctx := context.Background()

	code, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Verify(ctx, "user-1", code))

	device := store.Device("user-1")
	assert.True(t, device.Used)
	assert.Zero(t, device.FailedAttempts)
	assert.Nil(t, device.LockUntil)
	assert.Nil(t, device.OTPEncrypted, "ciphertext must be dropped on success")
	assert.Nil(t, device.OTPNonce)
}

func TestOTPService_Verify_WrongCodeIncrementsFailures(t *testing.T) {
	svc, store, _ := newOTPService(t)
	ctx := context.Background()

	code, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	err = svc.Verify(ctx, "user-1", wrong)
	assert.ErrorIs(t, err, models.ErrOTPInvalid)
	assert.Equal(t, 1, store.Device("user-1").FailedAttempts)
}

func TestOTPService_Verify_LocksAtMaxFailures(t *testing.T) {
	svc, store, _ := newOTPService(t)
	ctx := context.Background()

	code, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < 4; i++ {
		err := svc.Verify(ctx, "user-1", wrong)
		assert.ErrorIs(t, err, models.ErrOTPInvalid)
	}

	// Fifth failure crosses the limit and locks.
	err = svc.Verify(ctx, "user-1", wrong)
	assert.ErrorIs(t, err, models.ErrOTPLocked)

	device := store.Device("user-1")
	require.NotNil(t, device.LockUntil)

	// Lock window is randomized within [5m, 10m].
	lockFor := time.Until(*device.LockUntil)
	assert.Greater(t, lockFor, 4*time.Minute)
	assert.Less(t, lockFor, 11*time.Minute)
}

func TestOTPService_Verify_LockedDeviceDoesNotCountAttempts(t *testing.T) {
	svc, store, _ := newOTPService(t)
	ctx := context.Background()

	code, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	lockUntil := time.Now().Add(5 * time.Minute)
	device := store.Device("user-1")
	device.LockUntil = &lockUntil
	device.FailedAttempts = 5

	err = svc.Verify(ctx, "user-1", code)
	assert.ErrorIs(t, err, models.ErrOTPLocked)
	assert.Equal(t, 5, store.Device("user-1").FailedAttempts)
}

func TestOTPService_Verify_NoOutstandingCode(t *testing.T) {
	svc, _, _ := newOTPService(t)
	ctx := context.Background()

	err := svc.Verify(ctx, "user-1", "123456")
	assert.ErrorIs(t, err, models.ErrOTPInvalid)
}

func TestOTPService_Verify_ExpiredCode(t *testing.T) {
	svc, store, _ := newOTPService(t)
	ctx := context.Background()

	code, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	expired := time.Now().Add(-time.Second)
	store.Device("user-1").OTPExpiry = &expired

	err = svc.Verify(ctx, "user-1", code)
	assert.ErrorIs(t, err, models.ErrOTPExpired)
}

func TestOTPService_Verify_AlreadyUsedCode(t *testing.T) {
	svc, _, _ := newOTPService(t)
	ctx := context.Background()

	code, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Verify(ctx, "user-1", code))

	// Ciphertext is gone, so a replay reads as no outstanding code.
	err = svc.Verify(ctx, "user-1", code)
	assert.ErrorIs(t, err, models.ErrOTPInvalid)
}

func TestOTPService_Verify_UsedFlagRejectsReplay(t *testing.T) {
	svc, store, cipher := newOTPService(t)
	ctx := context.Background()

	code, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, svc.Verify(ctx, "user-1", code))

	// Even with the ciphertext restored, the used flag blocks a replay.
	device := store.Device("user-1")
	encrypted, nonce, err := cipher.Encrypt(code)
	require.NoError(t, err)
	device.OTPEncrypted = encrypted
	device.OTPNonce = nonce

	err = svc.Verify(ctx, "user-1", code)
	assert.ErrorIs(t, err, models.ErrOTPAlreadyUsed)
}

func TestOTPService_Verify_CorruptCiphertextIsGenericError(t *testing.T) {
	svc, store, _ := newOTPService(t)
	ctx := context.Background()

	_, err := svc.Generate(ctx, "user-1")
	require.NoError(t, err)

	device := store.Device("user-1")
	device.OTPEncrypted[0] ^= 0xFF

	err = svc.Verify(ctx, "user-1", "123456")
	assert.ErrorIs(t, err, models.ErrInternalServer)
	assert.Zero(t, store.Device("user-1").FailedAttempts,
		"decrypt failures are not the caller's fault and must not count")
}
