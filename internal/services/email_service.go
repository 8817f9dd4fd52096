package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// OTPMailer defines the interface for delivering one-time codes
type OTPMailer interface {
	SendOTP(ctx context.Context, email, username, code string) error
}

// AWSSESEmailService sends one-time codes using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendOTP sends the login code to the user
func (s *AWSSESEmailService) SendOTP(ctx context.Context, email, username, code string) error {
	greeting := "Hello"
	if username != "" {
		greeting = "Hello " + username
	}

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; text-align: center; padding: 20px; background-color: #f8f9fa; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Your Login Code</h1>
        </div>
        <p>%s,</p>
        <p>Use this code to finish signing in:</p>
        <div class="code">%s</div>
        <div class="warning">
            <strong>⚠️ Security Notice:</strong> This code expires in 5 minutes. Never share it with anyone.
        </div>
        <p><strong>Didn't try to sign in?</strong><br>
        Someone may have entered your email by mistake. You can safely ignore this message; without the code they cannot access your account.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, greeting, code)

	textBody := fmt.Sprintf(`Your Login Code

%s,

Use this code to finish signing in:

%s

⚠️  Security Notice: This code expires in 5 minutes. Never share it with anyone.

Didn't try to sign in?
Someone may have entered your email by mistake. You can safely ignore this message; without the code they cannot access your account.

This is an automated message. Please do not reply to this email.
`, greeting, code)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your login code"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send otp email via SES",
			slog.String("email", email),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("otp email sent",
		slog.String("message_id", *result.MessageId))

	return nil
}
