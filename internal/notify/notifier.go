// Package notify dispatches billing emails. Sending is fire-and-forget from
// the engine's perspective: failures are logged and never propagate into
// billing or invoice outcomes.
package notify

import (
	"context"

	"club-billing-engine/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Email is one outbound message.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Dispatcher is what the workers depend on.
type Dispatcher interface {
	Send(ctx context.Context, email *Email) error
}

// SESService mirrors the SES SendEmail call for mocking.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type EmailDispatcher struct {
	ses       SESService
	fromEmail string
	enabled   bool
	logger    logger.Logger
}

func NewEmailDispatcher(sesClient SESService, fromEmail string, enabled bool, log logger.Logger) *EmailDispatcher {
	return &EmailDispatcher{
		ses:       sesClient,
		fromEmail: fromEmail,
		enabled:   enabled,
		logger:    log.WithFields(map[string]interface{}{"component": "notifier"}),
	}
}

// Send dispatches one email. A nil return only means the message was handed
// to SES; callers must not treat an error as fatal to their run.
func (d *EmailDispatcher) Send(ctx context.Context, email *Email) error {
	if !d.enabled {
		d.logger.Debug("email disabled, skipping", map[string]interface{}{
			"to":      email.To,
			"subject": email.Subject,
		})
		return nil
	}

	body := &types.Body{
		Text: &types.Content{Data: aws.String(email.Text)},
	}
	if email.HTML != "" {
		body.Html = &types.Content{Data: aws.String(email.HTML)}
	}

	_, err := d.ses.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(d.fromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{email.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(email.Subject)},
			Body:    body,
		},
	})
	if err != nil {
		d.logger.Error("email send failed", map[string]interface{}{
			"to":      email.To,
			"subject": email.Subject,
			"error":   err.Error(),
		})
		return err
	}

	d.logger.Info("email sent", map[string]interface{}{
		"to":      email.To,
		"subject": email.Subject,
	})
	return nil
}
