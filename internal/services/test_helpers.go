package services

import (
	"context"
	"sync"
	"time"

	"github.com/hassanwm/vigil/internal/clientinfo"
	"github.com/hassanwm/vigil/internal/models"
)

// MockOTPDeviceStore implements OTPDeviceStore for testing. It keeps one
// in-memory device per user and mirrors the real store's contract: state
// mutated by fn is persisted even when fn returns an error.
type MockOTPDeviceStore struct {
	mu                sync.Mutex
	devices           map[string]*models.OTPDevice
	MaxFailedAttempts int
	CooldownFactor    float64
	MutateErr         error // forced infrastructure error
}

func NewMockOTPDeviceStore(maxFailedAttempts int, cooldownFactor float64) *MockOTPDeviceStore {
	return &MockOTPDeviceStore{
		devices:           make(map[string]*models.OTPDevice),
		MaxFailedAttempts: maxFailedAttempts,
		CooldownFactor:    cooldownFactor,
	}
}

func (m *MockOTPDeviceStore) Mutate(ctx context.Context, userID string, fn func(*models.OTPDevice) error) (*models.OTPDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MutateErr != nil {
		return nil, m.MutateErr
	}

	device, ok := m.devices[userID]
	if !ok {
		now := time.Now()
		device = &models.OTPDevice{
			ID:                 "device_" + userID,
			UserID:             userID,
			MaxFailedAttempts:  m.MaxFailedAttempts,
			CooldownMultiplier: m.CooldownFactor,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		m.devices[userID] = device
	}

	fnErr := fn(device)
	device.UpdatedAt = time.Now()

	return device, fnErr
}

// Device returns the stored device for inspection in tests.
func (m *MockOTPDeviceStore) Device(userID string) *models.OTPDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[userID]
}

// MockUserStore implements UserStore for testing
type MockUserStore struct {
	GetByEmailFunc      func(ctx context.Context, email string) (*models.User, error)
	UpdateLastLoginFunc func(ctx context.Context, id string, at time.Time) error
	UpdatePasswordFunc  func(ctx context.Context, id, passwordHash string) error
}

func (m *MockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	if m.UpdateLastLoginFunc != nil {
		return m.UpdateLastLoginFunc(ctx, id, at)
	}
	return nil
}

func (m *MockUserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

// MockBlockedIPStore implements BlockedIPStore for testing
type MockBlockedIPStore struct {
	mu      sync.Mutex
	blocked map[string]bool

	IsBlockedErr error
	BlockErr     error
}

func NewMockBlockedIPStore() *MockBlockedIPStore {
	return &MockBlockedIPStore{blocked: make(map[string]bool)}
}

func (m *MockBlockedIPStore) IsBlocked(ctx context.Context, ip string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IsBlockedErr != nil {
		return false, m.IsBlockedErr
	}
	return m.blocked[ip], nil
}

func (m *MockBlockedIPStore) Block(ctx context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BlockErr != nil {
		return m.BlockErr
	}
	m.blocked[ip] = true
	return nil
}

// SetBlocked seeds a durable block record.
func (m *MockBlockedIPStore) SetBlocked(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[ip] = true
}

// MockReputationCache implements ReputationCache for testing. TTLs are
// recorded but not enforced; tests assert on them directly.
type MockReputationCache struct {
	mu       sync.Mutex
	bools    map[string]bool
	counters map[string]int64
	TTLs     map[string]time.Duration

	GetErr  error
	SetErr  error
	IncrErr error
}

func NewMockReputationCache() *MockReputationCache {
	return &MockReputationCache{
		bools:    make(map[string]bool),
		counters: make(map[string]int64),
		TTLs:     make(map[string]time.Duration),
	}
}

func (m *MockReputationCache) GetBool(ctx context.Context, key string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return false, false, m.GetErr
	}
	value, found := m.bools[key]
	return value, found, nil
}

func (m *MockReputationCache) SetBool(ctx context.Context, key string, value bool, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	m.bools[key] = value
	m.TTLs[key] = ttl
	return nil
}

func (m *MockReputationCache) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IncrErr != nil {
		return 0, m.IncrErr
	}
	m.counters[key]++
	if m.counters[key] == 1 {
		m.TTLs[key] = window
	}
	return m.counters[key], nil
}

func (m *MockReputationCache) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.bools, key)
		delete(m.counters, key)
		delete(m.TTLs, key)
	}
	return nil
}

// Counter returns the current counter value for assertions.
func (m *MockReputationCache) Counter(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key]
}

// CachedBool returns the cached value and presence for assertions.
func (m *MockReputationCache) CachedBool(key string) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, found := m.bools[key]
	return value, found
}

// MockTrustedDeviceStore implements TrustedDeviceStore for testing
type MockTrustedDeviceStore struct {
	GetActiveFunc            func(ctx context.Context, userID, deviceID string) (*models.TrustedDevice, error)
	CreateEnforcingLimitFunc func(ctx context.Context, device *models.TrustedDevice, maxActive int) (*models.TrustedDevice, error)
	RenewFunc                func(ctx context.Context, id string, device *models.TrustedDevice) error
	DeleteFunc               func(ctx context.Context, id string) error
	DeleteExpiredFunc        func(ctx context.Context) (int64, error)
}

func (m *MockTrustedDeviceStore) GetActive(ctx context.Context, userID, deviceID string) (*models.TrustedDevice, error) {
	if m.GetActiveFunc != nil {
		return m.GetActiveFunc(ctx, userID, deviceID)
	}
	return nil, models.ErrNotFound
}

func (m *MockTrustedDeviceStore) CreateEnforcingLimit(ctx context.Context, device *models.TrustedDevice, maxActive int) (*models.TrustedDevice, error) {
	if m.CreateEnforcingLimitFunc != nil {
		return m.CreateEnforcingLimitFunc(ctx, device, maxActive)
	}
	created := *device
	created.ID = "td_" + device.UserID
	return &created, nil
}

func (m *MockTrustedDeviceStore) Renew(ctx context.Context, id string, device *models.TrustedDevice) error {
	if m.RenewFunc != nil {
		return m.RenewFunc(ctx, id, device)
	}
	return nil
}

func (m *MockTrustedDeviceStore) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockTrustedDeviceStore) DeleteExpired(ctx context.Context) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx)
	}
	return 0, nil
}

// MockIPGate implements IPGate for testing
type MockIPGate struct {
	IsBlockedFunc     func(ctx context.Context, ip string) (bool, error)
	RecordFailureFunc func(ctx context.Context, ip string) (bool, error)
	Failures          []string
}

func (m *MockIPGate) IsBlocked(ctx context.Context, ip string) (bool, error) {
	if m.IsBlockedFunc != nil {
		return m.IsBlockedFunc(ctx, ip)
	}
	return false, nil
}

func (m *MockIPGate) RecordFailure(ctx context.Context, ip string) (bool, error) {
	m.Failures = append(m.Failures, ip)
	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, ip)
	}
	return false, nil
}

// MockCodeIssuer implements CodeIssuer for testing
type MockCodeIssuer struct {
	GenerateFunc func(ctx context.Context, userID string) (string, error)
	VerifyFunc   func(ctx context.Context, userID, code string) error
}

func (m *MockCodeIssuer) Generate(ctx context.Context, userID string) (string, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, userID)
	}
	return "123456", nil
}

func (m *MockCodeIssuer) Verify(ctx context.Context, userID, code string) error {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, userID, code)
	}
	return nil
}

// MockDeviceRegistry implements DeviceRegistry for testing
type MockDeviceRegistry struct {
	LookupFunc       func(ctx context.Context, userID, deviceID string) (*models.TrustedDevice, error)
	RememberFunc     func(ctx context.Context, userID string, labels clientinfo.Labels, ip string) (*models.TrustedDevice, error)
	RenewOnLoginFunc func(ctx context.Context, device *models.TrustedDevice, labels clientinfo.Labels, ip string) error
}

func (m *MockDeviceRegistry) Lookup(ctx context.Context, userID, deviceID string) (*models.TrustedDevice, error) {
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, userID, deviceID)
	}
	return nil, models.ErrNotFound
}

func (m *MockDeviceRegistry) Remember(ctx context.Context, userID string, labels clientinfo.Labels, ip string) (*models.TrustedDevice, error) {
	if m.RememberFunc != nil {
		return m.RememberFunc(ctx, userID, labels, ip)
	}
	return &models.TrustedDevice{
		ID:       "td_" + userID,
		UserID:   userID,
		DeviceID: "device_token_" + userID,
	}, nil
}

func (m *MockDeviceRegistry) RenewOnLogin(ctx context.Context, device *models.TrustedDevice, labels clientinfo.Labels, ip string) error {
	if m.RenewOnLoginFunc != nil {
		return m.RenewOnLoginFunc(ctx, device, labels, ip)
	}
	return nil
}

// MockCodeDispatcher implements CodeDispatcher for testing
type MockCodeDispatcher struct {
	mu        sync.Mutex
	Delivered []struct{ Email, Username, Code string }
}

func (m *MockCodeDispatcher) Enqueue(email, username, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Delivered = append(m.Delivered, struct{ Email, Username, Code string }{email, username, code})
}

// NewTestUser creates an active user past the forced password change.
func NewTestUser(id, email, username, passwordHash string) *models.User {
	now := time.Now()
	return &models.User{
		ID:                 id,
		Email:              email,
		PasswordHash:       passwordHash,
		Username:           username,
		IsActive:           true,
		HasChangedPassword: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
