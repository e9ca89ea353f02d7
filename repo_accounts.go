package uas

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

var RecordFailedLoginSQL = `UPDATE accounts
SET
	failed_login_attempts = failed_login_attempts + 1,
	locked_until = CASE WHEN failed_login_attempts + 1 >= ? THEN ? ELSE locked_until END,
	updated_at = ?
WHERE
	id = ?
RETURNING *;`

var ResetLockoutSQL = `UPDATE accounts
SET
	failed_login_attempts = 0,
	locked_until = NULL,
	updated_at = ?
WHERE
	id = ?
RETURNING *;`

var TrackSuccessfulLoginSQL = `UPDATE accounts
SET
	failed_login_attempts = 0,
	locked_until = NULL,
	last_login = ?,
	updated_at = ?
WHERE
	id = ?
RETURNING *;`

var MarkVerifiedSQL = `UPDATE accounts
SET
	is_active = TRUE,
	is_verified = TRUE,
	updated_at = ?
WHERE
	id = ?
RETURNING *;`

var ResetPasswordSQL = `UPDATE accounts
SET
	password_hash = ?,
	is_active = TRUE,
	is_verified = TRUE,
	failed_login_attempts = 0,
	locked_until = NULL,
	updated_at = ?
WHERE
	id = ?
RETURNING *;`

var ChangePasswordSQL = `UPDATE accounts
SET
	password_hash = ?,
	updated_at = ?
WHERE
	id = ?
RETURNING *;`

var UpdateRoleSQL = `UPDATE accounts
SET
	role = ?,
	updated_at = ?
WHERE
	id = ?
RETURNING *;`

// Accounts is the credential store.
type Accounts interface {
	repository.Repository[*Account]

	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID, forUpdate bool) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string, forUpdate bool) (*Account, error)
	TakenTx(ctx context.Context, tx bun.IDB, email, username string) (emailTaken, usernameTaken bool, err error)

	RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)

	RecordFailedLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID, threshold int, lockUntil, now time.Time) (*Account, error)
	ResetLockoutTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (*Account, error)
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (*Account, error)

	MarkVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (*Account, error)
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, now time.Time) (*Account, error)
	ChangePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, now time.Time) (*Account, error)
	UpdateRoleTx(ctx context.Context, tx bun.IDB, id uuid.UUID, role Role, now time.Time) (*Account, error)

	DeleteCascadeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var (
	_ Accounts                        = (*accounts)(nil)
	_ repository.Repository[*Account] = (*accounts)(nil)
)

func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

func (a *accounts) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return a.FindByIDTx(ctx, a.db, id, false)
}

func (a *accounts) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID, forUpdate bool) (*Account, error) {
	return a.findOne(ctx, tx, "id", id.String(), forUpdate)
}

func (a *accounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return a.FindByEmailTx(ctx, a.db, email, false)
}

func (a *accounts) FindByEmailTx(ctx context.Context, tx bun.IDB, email string, forUpdate bool) (*Account, error) {
	return a.findOne(ctx, tx, "email", NormalizeEmail(email), forUpdate)
}

func (a *accounts) findOne(ctx context.Context, tx bun.IDB, column, value string, forUpdate bool) (*Account, error) {
	record := &Account{}
	q := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1)

	if forUpdate {
		lockForUpdate(tx, q)
	}

	if err := q.Scan(ctx); err != nil {
		if isRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					column: value,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *accounts) TakenTx(ctx context.Context, tx bun.IDB, email, username string) (bool, bool, error) {
	var found []Account
	err := tx.NewSelect().
		Model(&found).
		Column("email", "username").
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		WhereOr("LOWER(?TableAlias.username) = ?", NormalizeEmail(username)).
		Scan(ctx)
	if err != nil && !isRecordNotFound(err) {
		return false, false, err
	}

	var emailTaken, usernameTaken bool
	for _, f := range found {
		if f.Email == NormalizeEmail(email) {
			emailTaken = true
		}
		if NormalizeEmail(f.Username) == NormalizeEmail(username) {
			usernameTaken = true
		}
	}
	return emailTaken, usernameTaken, nil
}

func (a *accounts) RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	prepareAccountDefaults(account)
	return a.Repository.CreateTx(ctx, tx, account)
}

func (a *accounts) RecordFailedLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID, threshold int, lockUntil, now time.Time) (*Account, error) {
	return a.updateOne(ctx, tx, RecordFailedLoginSQL, threshold, lockUntil.UTC(), now.UTC(), id.String())
}

func (a *accounts) ResetLockoutTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (*Account, error) {
	return a.updateOne(ctx, tx, ResetLockoutSQL, now.UTC(), id.String())
}

func (a *accounts) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (*Account, error) {
	return a.updateOne(ctx, tx, TrackSuccessfulLoginSQL, now.UTC(), now.UTC(), id.String())
}

func (a *accounts) MarkVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (*Account, error) {
	return a.updateOne(ctx, tx, MarkVerifiedSQL, now.UTC(), id.String())
}

func (a *accounts) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, now time.Time) (*Account, error) {
	return a.updateOne(ctx, tx, ResetPasswordSQL, passwordHash, now.UTC(), id.String())
}

func (a *accounts) ChangePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, now time.Time) (*Account, error) {
	return a.updateOne(ctx, tx, ChangePasswordSQL, passwordHash, now.UTC(), id.String())
}

func (a *accounts) UpdateRoleTx(ctx context.Context, tx bun.IDB, id uuid.UUID, role Role, now time.Time) (*Account, error) {
	return a.updateOne(ctx, tx, UpdateRoleSQL, string(role), now.UTC(), id.String())
}

// DeleteCascadeTx removes everything that references the account before
// the account row itself. Callers run it inside a transaction.
func (a *accounts) DeleteCascadeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	if _, err := tx.NewDelete().
		Model((*Session)(nil)).
		Where("account_id = ?", id.String()).
		Exec(ctx); err != nil {
		return err
	}

	if _, err := tx.NewDelete().
		TableExpr("social_accounts").
		Where("account_id = ?", id.String()).
		Exec(ctx); err != nil {
		return err
	}

	if _, err := tx.NewDelete().
		Model((*ActivityLog)(nil)).
		Where("account_id = ?", id.String()).
		Exec(ctx); err != nil {
		return err
	}

	res, err := tx.NewDelete().
		Model((*Account)(nil)).
		Where("id = ?", id.String()).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *accounts) updateOne(ctx context.Context, tx bun.IDB, query string, args ...any) (*Account, error) {
	res, err := a.Repository.RawTx(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": args[len(args)-1],
			})
	}

	return res[0], nil
}

func prepareAccountDefaults(record *Account) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.Role == "" {
		record.Role = RoleUser
	}

	record.Email = NormalizeEmail(record.Email)
}

// lockForUpdate takes a row lock where the dialect has one. SQLite
// serializes writers on its own.
func lockForUpdate(db bun.IDB, q *bun.SelectQuery) {
	if db.Dialect().Name() == dialect.PG {
		q.For("UPDATE")
	}
}
