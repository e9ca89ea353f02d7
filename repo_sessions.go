package uas

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Sessions persists session rows.
type Sessions interface {
	ReplaceForDeviceTx(ctx context.Context, tx bun.IDB, session *Session) (*Session, error)
	FindTx(ctx context.Context, tx bun.IDB, id uuid.UUID, forUpdate bool) (*Session, error)
	FindForDeviceTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, deviceKey string) (*Session, error)
	RotateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, oldRef, newRef string, expiresAt, now time.Time) (*Session, error)
	ExtendTx(ctx context.Context, tx bun.IDB, id uuid.UUID, expiresAt, now time.Time) (*Session, error)
	DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (int, error)
	DeleteByAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, except ...uuid.UUID) (int, error)
	DeleteExpiredTx(ctx context.Context, tx bun.IDB, now time.Time) (int, error)
	ListActiveTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, now time.Time) ([]*Session, error)
}

type sessions struct {
	db *bun.DB
}

var _ Sessions = (*sessions)(nil)

func NewSessionsRepository(db *bun.DB) Sessions {
	return &sessions{db: db}
}

// ReplaceForDeviceTx deletes whatever session the account holds for the
// device key and inserts session in its place.
func (s *sessions) ReplaceForDeviceTx(ctx context.Context, tx bun.IDB, session *Session) (*Session, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	_, err := tx.NewDelete().
		Model((*Session)(nil)).
		Where("account_id = ?", session.AccountID.String()).
		Where("device_key = ?", session.DeviceKey).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := tx.NewInsert().Model(session).Exec(ctx); err != nil {
		return nil, err
	}

	return session, nil
}

func (s *sessions) FindTx(ctx context.Context, tx bun.IDB, id uuid.UUID, forUpdate bool) (*Session, error) {
	record := &Session{}
	q := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id.String()).
		Limit(1)

	if forUpdate {
		lockForUpdate(tx, q)
	}

	if err := q.Scan(ctx); err != nil {
		if isRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"session_id": id.String()})
		}
		return nil, err
	}
	return record, nil
}

func (s *sessions) FindForDeviceTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, deviceKey string) (*Session, error) {
	record := &Session{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.account_id = ?", accountID.String()).
		Where("?TableAlias.device_key = ?", deviceKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"account_id": accountID.String()})
		}
		return nil, err
	}
	return record, nil
}

// RotateTx swaps the refresh token reference only when the row still holds
// oldRef and has not expired. A nil session means the swap lost.
func (s *sessions) RotateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, oldRef, newRef string, expiresAt, now time.Time) (*Session, error) {
	var rows []*Session
	_, err := tx.NewUpdate().
		Model((*Session)(nil)).
		Set("token_ref = ?", newRef).
		Set("expires_at = ?", expiresAt.UTC()).
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", id.String()).
		Where("token_ref = ?", oldRef).
		Where("expires_at > ?", now.UTC()).
		Returning("*").
		Exec(ctx, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *sessions) ExtendTx(ctx context.Context, tx bun.IDB, id uuid.UUID, expiresAt, now time.Time) (*Session, error) {
	var rows []*Session
	_, err := tx.NewUpdate().
		Model((*Session)(nil)).
		Set("expires_at = ?", expiresAt.UTC()).
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", id.String()).
		Where("expires_at > ?", now.UTC()).
		Returning("*").
		Exec(ctx, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *sessions) DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (int, error) {
	res, err := tx.NewDelete().
		Model((*Session)(nil)).
		Where("id = ?", id.String()).
		Exec(ctx)
	return rowsAffected(res, err)
}

func (s *sessions) DeleteByAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, except ...uuid.UUID) (int, error) {
	q := tx.NewDelete().
		Model((*Session)(nil)).
		Where("account_id = ?", accountID.String())

	if len(except) > 0 {
		ids := make([]string, 0, len(except))
		for _, id := range except {
			ids = append(ids, id.String())
		}
		q = q.Where("id NOT IN (?)", bun.In(ids))
	}

	res, err := q.Exec(ctx)
	return rowsAffected(res, err)
}

func (s *sessions) DeleteExpiredTx(ctx context.Context, tx bun.IDB, now time.Time) (int, error) {
	res, err := tx.NewDelete().
		Model((*Session)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	return rowsAffected(res, err)
}

func (s *sessions) ListActiveTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, now time.Time) ([]*Session, error) {
	var rows []*Session
	err := tx.NewSelect().
		Model(&rows).
		Where("?TableAlias.account_id = ?", accountID.String()).
		Where("?TableAlias.expires_at > ?", now.UTC()).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil && !isRecordNotFound(err) {
		return nil, err
	}
	return rows, nil
}
