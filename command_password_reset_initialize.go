package uas

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

type InitializePasswordResetMessage struct {
	Email string `json:"email" form:"email" example:"pepe.rone@example.com"`
}

func (m InitializePasswordResetMessage) Type() string { return "account.password_reset" }

func (m InitializePasswordResetMessage) Validate() error {
	err := validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.Email),
	)
	if err != nil {
		return validationError(err, "invalid password reset request")
	}
	return nil
}

// InitializePasswordResetHandler mails a reset link. The outcome is the
// same whether or not the email belongs to an account.
type InitializePasswordResetHandler struct {
	auth   *Auther
	logger Logger
}

func NewInitializePasswordResetHandler(auther *Auther) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		auth:   auther,
		logger: auther.provider.GetLogger("uas.password_reset"),
	}
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := h.auth.storeContext(ctx)
	defer cancel()

	account, err := h.auth.repo.Accounts().FindByEmail(ctx, event.Email)
	if err != nil {
		if isRecordNotFound(err) {
			h.logger.Debug("password reset requested for unknown email")
			return nil
		}
		return h.auth.fail("password reset initialization", serverError(err, "failed to retrieve account for password reset"))
	}

	claims := ClaimsForAccount(account)
	claims.PasswordStamp = PasswordStamp(account.PasswordHash)

	token, err := h.auth.tokens.Issue(claims, TokenKindReset, h.auth.cfg.GetResetTokenTTL())
	if err != nil {
		return h.auth.fail("password reset initialization", err)
	}

	h.auth.sendEmail(resetPasswordMessage(h.auth.links, account, token.Value))
	h.auth.emit(ctx, ActivityEventPasswordResetRequest, account, DeviceContext{}, nil)

	return nil
}
