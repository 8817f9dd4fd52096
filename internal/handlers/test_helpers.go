package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hassanwm/vigil/internal/services"
	pkghttp "github.com/hassanwm/vigil/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	LoginFunc               func(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
	VerifyOTPFunc           func(ctx context.Context, input services.VerifyOTPInput) (*services.LoginResult, error)
	ForceChangePasswordFunc func(ctx context.Context, input services.ChangePasswordInput) error
}

func (m *MockLoginService) Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, input)
	}
	return &services.LoginResult{OTPRequired: true}, nil
}

func (m *MockLoginService) VerifyOTP(ctx context.Context, input services.VerifyOTPInput) (*services.LoginResult, error) {
	if m.VerifyOTPFunc != nil {
		return m.VerifyOTPFunc(ctx, input)
	}
	return &services.LoginResult{}, nil
}

func (m *MockLoginService) ForceChangePassword(ctx context.Context, input services.ChangePasswordInput) error {
	if m.ForceChangePasswordFunc != nil {
		return m.ForceChangePasswordFunc(ctx, input)
	}
	return nil
}
