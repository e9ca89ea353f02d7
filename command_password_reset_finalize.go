package uas

import (
	"context"
	"crypto/subtle"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Token           string `json:"token" form:"token" doc:"Reset password token"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password"`
}

func (m FinalizePasswordResetMessage) Type() string { return "account.password_reset.finalize" }

func (m FinalizePasswordResetMessage) Validate() error {
	rules := append([]*validation.FieldRules{
		validation.Field(&m.Token, validation.Required),
	}, newPasswordRules(&m.Password, &m.ConfirmPassword)...)

	if err := validation.ValidateStruct(&m, rules...); err != nil {
		return validationError(err, "invalid password reset")
	}
	return nil
}

// FinalizePasswordResetHandler sets a new password from a reset token. The
// account is activated, its lockout cleared and every session revoked.
type FinalizePasswordResetHandler struct {
	auth   *Auther
	logger Logger
}

func NewFinalizePasswordResetHandler(auther *Auther) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		auth:   auther,
		logger: auther.provider.GetLogger("uas.password_reset"),
	}
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	claims, err := h.auth.tokens.Verify(event.Token, TokenKindReset)
	if err != nil {
		return err
	}

	hash, err := h.auth.hasher.Hash(event.Password)
	if err != nil {
		return asRichError(err, "failed to hash password")
	}

	ctx, cancel := h.auth.storeContext(ctx)
	defer cancel()

	var account *Account
	var revoked int
	err = h.auth.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := h.auth.repo.Accounts().FindByIDTx(ctx, tx, claims.AccountID, true)
		if err != nil {
			if isRecordNotFound(err) {
				return ErrTokenInvalid
			}
			return serverError(err, "failed to load account")
		}

		// the stamp changes with the password, so a token works once
		stamp := PasswordStamp(found.PasswordHash)
		if claims.PasswordStamp == "" || subtle.ConstantTimeCompare([]byte(claims.PasswordStamp), []byte(stamp)) != 1 {
			return ErrTokenInvalid
		}

		account, err = h.auth.repo.Accounts().ResetPasswordTx(ctx, tx, found.ID, hash, h.auth.now())
		if err != nil {
			return serverError(err, "failed to update account password")
		}

		revoked, err = h.auth.sessions.RevokeAllTx(ctx, tx, account.ID)
		return err
	})
	if err != nil {
		return h.auth.fail("password reset finalization", err)
	}

	h.logger.Info("password reset", "account_id", account.ID, "sessions_revoked", revoked)

	h.auth.sendEmail(passwordChangedMessage(h.auth.links, account))
	h.auth.emit(ctx, ActivityEventPasswordResetSuccess, account, DeviceContext{}, map[string]any{
		"sessions_revoked": revoked,
	})

	return nil
}
