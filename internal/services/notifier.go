package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/lockbox/internal/models"
	pkglogger "github.com/BradenHooton/lockbox/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// LockoutNotifier tells an account owner that their account was locked
type LockoutNotifier interface {
	NotifyLockout(ctx context.Context, acct *models.Account, until time.Time) error
}

// SESAPI is the part of the SES client the notifier uses
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends lockout notices through AWS SES
type SESNotifier struct {
	client      SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESNotifier loads the default AWS config for region and creates a notifier
func NewSESNotifier(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESNotifierWithClient creates a notifier around an existing client
func NewSESNotifierWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// NotifyLockout emails the account owner with the lockout expiry
func (n *SESNotifier) NotifyLockout(ctx context.Context, acct *models.Account, until time.Time) error {
	expiry := until.UTC().Format("15:04 MST on Jan 2, 2006")

	textBody := fmt.Sprintf(`Hello %s,

Your account was locked after several failed sign-in attempts.
You can sign in again after %s.

If these attempts were not made by you, consider changing your password once
you regain access. An administrator can also unlock the account earlier.

This is an automated message. Please do not reply to this email.
`, acct.Username, expiry)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <p>Hello %s,</p>
    <p>Your account was locked after several failed sign-in attempts.
    You can sign in again after <strong>%s</strong>.</p>
    <p>If these attempts were not made by you, consider changing your password once
    you regain access. An administrator can also unlock the account earlier.</p>
    <p style="color: #666; font-size: 12px;">This is an automated message. Please do not reply to this email.</p>
</body>
</html>
`, acct.Username, expiry)

	result, err := n.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{acct.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your account has been temporarily locked"),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	})
	if err != nil {
		n.logger.Error("failed to send lockout email via SES",
			slog.String("email", pkglogger.SanitizedEmail(acct.Email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("lockout email sent",
		slog.String("account_id", acct.ID),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// NoopNotifier drops notifications. Used when no sender address is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyLockout(ctx context.Context, acct *models.Account, until time.Time) error {
	return nil
}
