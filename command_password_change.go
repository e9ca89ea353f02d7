package uas

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type ChangePasswordMessage struct {
	Claims          *Claims `json:"-"`
	OldPassword     string  `json:"old_password" form:"old_password"`
	NewPassword     string  `json:"new_password" form:"new_password"`
	ConfirmPassword string  `json:"confirm_password" form:"confirm_password"`
}

func (m ChangePasswordMessage) Type() string { return "account.password_change" }

func (m ChangePasswordMessage) Validate() error {
	rules := append([]*validation.FieldRules{
		validation.Field(&m.OldPassword, validation.Required),
	}, newPasswordRules(&m.NewPassword, &m.ConfirmPassword)...)

	if err := validation.ValidateStruct(&m, rules...); err != nil {
		return validationError(err, "invalid password change")
	}
	return nil
}

// ChangePasswordHandler replaces the password of the caller after checking
// the current one. Every other session of the account is revoked.
type ChangePasswordHandler struct {
	auth   *Auther
	logger Logger
}

func NewChangePasswordHandler(auther *Auther) *ChangePasswordHandler {
	return &ChangePasswordHandler{
		auth:   auther,
		logger: auther.provider.GetLogger("uas.password_change"),
	}
}

func (h *ChangePasswordHandler) WithLogger(logger Logger) *ChangePasswordHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	if event.Claims == nil {
		return ErrUnauthorized
	}

	if err := event.Validate(); err != nil {
		return err
	}

	hash, err := h.auth.hasher.Hash(event.NewPassword)
	if err != nil {
		return asRichError(err, "failed to hash password")
	}

	ctx, cancel := h.auth.storeContext(ctx)
	defer cancel()

	var account *Account
	var revoked int
	var rejected error
	err = h.auth.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := h.auth.repo.Accounts().FindByIDTx(ctx, tx, event.Claims.AccountID, true)
		if err != nil {
			if isRecordNotFound(err) {
				return ErrNotFound
			}
			return serverError(err, "failed to load account")
		}

		found, err = h.auth.lockout.EnforceTx(ctx, tx, found)
		if err != nil {
			if IsAccountLocked(err) {
				rejected = err
				return nil
			}
			return serverError(err, "failed to reset expired lock")
		}

		// a wrong old password counts against the same lockout as a login;
		// the transaction commits so the failure sticks
		if !h.auth.hasher.Verify(event.OldPassword, found.PasswordHash) {
			account, err = h.auth.lockout.RecordFailureTx(ctx, tx, found)
			if err != nil {
				return serverError(err, "failed to record failed password check")
			}
			rejected = ErrInvalidCredentials
			return nil
		}

		if found.FailedLoginAttempts > 0 {
			if found, err = h.auth.lockout.ResetTx(ctx, tx, found); err != nil {
				return serverError(err, "failed to reset failed attempts")
			}
		}

		account, err = h.auth.repo.Accounts().ChangePasswordTx(ctx, tx, found.ID, hash, h.auth.now())
		if err != nil {
			return serverError(err, "failed to update account password")
		}

		revoked, err = h.auth.sessions.RevokeAllTx(ctx, tx, account.ID, event.Claims.SessionID)
		return err
	})
	if err != nil {
		return h.auth.fail("password change", err)
	}

	if rejected != nil {
		if account != nil {
			h.logger.Warn("password change rejected", "account_id", account.ID, "failed_attempts", account.FailedLoginAttempts)
			if h.auth.lockout.Check(account) == LockActive {
				h.auth.emit(ctx, ActivityEventLoginLocked, account, DeviceContext{}, map[string]any{
					"locked_until": account.LockedUntil,
					"reason":       "password_change",
				})
			}
		}
		return rejected
	}

	h.logger.Info("password changed", "account_id", account.ID, "sessions_revoked", revoked)

	h.auth.sendEmail(passwordChangedMessage(h.auth.links, account))
	h.auth.emit(ctx, ActivityEventPasswordChanged, account, DeviceContext{}, map[string]any{
		"sessions_revoked": revoked,
	})

	return nil
}
