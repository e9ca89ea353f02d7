package uas

import (
	"context"
	"net/url"
)

// Email templates the core asks the sender to render.
const (
	EmailTemplateVerify          = "verify_email"
	EmailTemplateAccountVerified = "account_verified"
	EmailTemplateResetPassword   = "reset_password"
	EmailTemplatePasswordChanged = "password_changed"
)

// SystemName is handed to every email template.
var SystemName = "User Authentication System"

// EmailMessage is what the core hands to the mail collaborator. Data holds
// the template context (links, username, system name).
type EmailMessage struct {
	To       string
	Subject  string
	Template string
	Data     map[string]any
}

// EmailSender delivers messages. Composition and transport live outside
// the core.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailSenderFunc adapts a function to the EmailSender interface.
type EmailSenderFunc func(ctx context.Context, msg EmailMessage) error

func (f EmailSenderFunc) Send(ctx context.Context, msg EmailMessage) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// LogEmailSender only logs that a message would be sent. Links are left
// out of the entry since they carry tokens.
type LogEmailSender struct {
	logger Logger
}

func NewLogEmailSender(logger Logger) *LogEmailSender {
	_, logger = ResolveLogger("uas.email", nil, logger)
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.WithContext(ctx).Info("email dispatched", "to", msg.To, "template", msg.Template)
	return nil
}

// LinkBuilder produces the frontend links embedded in emails.
type LinkBuilder struct {
	base string
}

func NewLinkBuilder(frontendURL string) LinkBuilder {
	return LinkBuilder{base: frontendURL}
}

func (l LinkBuilder) VerifyEmail(token string) string {
	return l.base + "/auth/verify-email/" + url.PathEscape(token)
}

func (l LinkBuilder) ResetPassword(token string) string {
	return l.base + "/auth/reset-password/" + url.PathEscape(token)
}

func (l LinkBuilder) Login() string {
	return l.base + "/auth/login"
}

func verifyEmailMessage(links LinkBuilder, account *Account, token string) EmailMessage {
	return EmailMessage{
		To:       account.Email,
		Subject:  "Verify your email",
		Template: EmailTemplateVerify,
		Data: map[string]any{
			"system_name":       SystemName,
			"username":          account.Username,
			"verification_link": links.VerifyEmail(token),
		},
	}
}

func accountVerifiedMessage(links LinkBuilder, account *Account) EmailMessage {
	return EmailMessage{
		To:       account.Email,
		Subject:  "Your account is verified",
		Template: EmailTemplateAccountVerified,
		Data: map[string]any{
			"system_name": SystemName,
			"username":    account.Username,
			"login_link":  links.Login(),
		},
	}
}

func resetPasswordMessage(links LinkBuilder, account *Account, token string) EmailMessage {
	return EmailMessage{
		To:       account.Email,
		Subject:  "Reset your password",
		Template: EmailTemplateResetPassword,
		Data: map[string]any{
			"system_name": SystemName,
			"username":    account.Username,
			"reset_link":  links.ResetPassword(token),
		},
	}
}

func passwordChangedMessage(links LinkBuilder, account *Account) EmailMessage {
	return EmailMessage{
		To:       account.Email,
		Subject:  "Your password was changed",
		Template: EmailTemplatePasswordChanged,
		Data: map[string]any{
			"system_name": SystemName,
			"username":    account.Username,
			"login_link":  links.Login(),
		},
	}
}
