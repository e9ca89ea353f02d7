package uas

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActivityLogs stores audit rows.
type ActivityLogs interface {
	Create(ctx context.Context, log *ActivityLog) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*ActivityLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

type activityLogs struct {
	db *bun.DB
}

func NewActivityLogsRepository(db *bun.DB) ActivityLogs {
	return &activityLogs{db: db}
}

func (r *activityLogs) Create(ctx context.Context, log *ActivityLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.Metadata == nil {
		log.Metadata = map[string]any{}
	}
	_, err := r.db.NewInsert().Model(log).Exec(ctx)
	return err
}

func (r *activityLogs) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []*ActivityLog
	err := r.db.NewSelect().
		Model(&rows).
		Where("?TableAlias.account_id = ?", accountID.String()).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil && !isRecordNotFound(err) {
		return nil, err
	}
	return rows, nil
}

func (r *activityLogs) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*ActivityLog)(nil)).
		Where("created_at < ?", cutoff.UTC()).
		Exec(ctx)
	return rowsAffected(res, err)
}
