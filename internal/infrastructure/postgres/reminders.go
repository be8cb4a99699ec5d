package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ReminderLog records which (visit, day) reminder pairs have been sent.
// The sweep claims a pair before sending, so a rerun or a second sweep
// instance cannot text the same patient twice for the same follow-up.
type ReminderLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewReminderLog creates the reminder dedup log.
func NewReminderLog(pool *pgxpool.Pool, logger *zap.Logger) *ReminderLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReminderLog{pool: pool, logger: logger}
}

// TryClaim marks a reminder as claimed. Returns false if it was already
// claimed by an earlier run.
func (r *ReminderLog) TryClaim(ctx context.Context, visitID string, remindDate time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO reminder_log (visit_id, remind_date)
		VALUES ($1, $2)
		ON CONFLICT (visit_id, remind_date) DO NOTHING
	`, visitID, remindDate)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cleanup removes claims older than the retention window.
func (r *ReminderLog) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM reminder_log
		WHERE sent_at < NOW() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup reminder log: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.logger.Info("reminder log cleanup completed", zap.Int64("deleted", tag.RowsAffected()))
	}
	return tag.RowsAffected(), nil
}
