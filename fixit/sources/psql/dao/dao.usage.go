// fixit/sources/psql/dao/dao.usage.go
package dao

import (
	"context"
	"errors"
	"fixit/fixit/sources/psql/models"
	"fixit/fixit/sources/usage"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageDAO is the relational usage.Store. Every mutation is a single
// statement so concurrent requests for one user never lose updates.
type UsageDAO struct {
	DB  *gorm.DB
	now usage.Clock
	ttl time.Duration
}

var (
	_ usage.Store  = (*UsageDAO)(nil)
	_ usage.Pruner = (*UsageDAO)(nil)
)

// Option configures UsageDAO.
type Option func(*UsageDAO)

// WithClock overrides time.Now.
func WithClock(c usage.Clock) Option {
	return func(d *UsageDAO) { d.now = c }
}

// WithReservationTTL sets how long an unsettled reservation keeps counting.
func WithReservationTTL(d time.Duration) Option {
	return func(dao *UsageDAO) {
		if d > 0 {
			dao.ttl = d
		}
	}
}

func NewUsageDAO(db *gorm.DB, opts ...Option) *UsageDAO {
	d := &UsageDAO{DB: db, now: time.Now, ttl: usage.DefaultReservationTTL}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// reserveSQL drops slots whose deadline has passed before checking the limit.
const reserveSQL = `
INSERT INTO usage_records (id, user_id, usage_date, message_count, reserved_count, reserved_until, created_at)
VALUES (?, ?, ?, 0, 1, ?, ?)
ON CONFLICT (user_id, usage_date) DO UPDATE
SET reserved_count = CASE WHEN usage_records.reserved_until > ? THEN usage_records.reserved_count ELSE 0 END + 1,
    reserved_until = EXCLUDED.reserved_until
WHERE usage_records.message_count
    + CASE WHEN usage_records.reserved_until > ? THEN usage_records.reserved_count ELSE 0 END < ?`

const commitSQL = `
UPDATE usage_records
SET message_count = message_count + 1,
    reserved_count = CASE WHEN reserved_count > 0 THEN reserved_count - 1 ELSE 0 END,
    last_message_at = ?
WHERE user_id = ? AND usage_date = ?`

const rollbackSQL = `
UPDATE usage_records
SET reserved_count = CASE WHEN reserved_count > 0 THEN reserved_count - 1 ELSE 0 END
WHERE user_id = ? AND usage_date = ?`

func (dao *UsageDAO) UsageToday(ctx context.Context, userID string) (int, error) {
	var counts []int
	err := dao.DB.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("user_id = ? AND usage_date = ?", userID, usage.Day(dao.now())).
		Limit(1).
		Pluck("message_count", &counts).Error
	if err != nil {
		return 0, usage.Wrap("usage today", err)
	}
	if len(counts) == 0 {
		return 0, nil
	}
	return counts[0], nil
}

func (dao *UsageDAO) IncrementUsage(ctx context.Context, userID string) error {
	now := dao.now().UTC()
	return usage.Wrap("increment", dao.incrementOn(ctx, userID, usage.Day(now), now))
}

// incrementOn upserts (user, day) with message_count + 1.
func (dao *UsageDAO) incrementOn(ctx context.Context, userID, day string, now time.Time) error {
	rec := models.UsageRecord{
		ID:            uuid.New(),
		UserID:        userID,
		Day:           day,
		MessageCount:  1,
		LastMessageAt: &now,
		CreatedAt:     now,
	}
	return dao.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "usage_date"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"message_count":   gorm.Expr("usage_records.message_count + 1"),
				"last_message_at": now,
			}),
		}).
		Create(&rec).Error
}

func (dao *UsageDAO) Reserve(ctx context.Context, userID string, limit int) (usage.Reservation, error) {
	if limit <= 0 {
		return usage.Reservation{}, usage.ErrQuotaExceeded
	}
	now := dao.now().UTC()
	day := usage.Day(now)

	nowMs, untilMs := now.UnixMilli(), now.Add(dao.ttl).UnixMilli()

	res := dao.DB.WithContext(ctx).Exec(reserveSQL, uuid.New(), userID, day, untilMs, now, nowMs, nowMs, limit)
	if res.Error != nil {
		return usage.Reservation{}, usage.Wrap("reserve", res.Error)
	}
	if res.RowsAffected == 0 {
		return usage.Reservation{}, usage.ErrQuotaExceeded
	}
	return usage.Reservation{UserID: userID, Day: day}, nil
}

func (dao *UsageDAO) Commit(ctx context.Context, r usage.Reservation) error {
	now := dao.now().UTC()
	res := dao.DB.WithContext(ctx).Exec(commitSQL, now, r.UserID, r.Day)
	if res.Error != nil {
		return usage.Wrap("commit", res.Error)
	}
	if res.RowsAffected == 0 {
		// Row pruned while in flight.
		return usage.Wrap("commit", dao.incrementOn(ctx, r.UserID, r.Day, now))
	}
	return nil
}

func (dao *UsageDAO) Rollback(ctx context.Context, r usage.Reservation) error {
	return usage.Wrap("rollback", dao.DB.WithContext(ctx).Exec(rollbackSQL, r.UserID, r.Day).Error)
}

func (dao *UsageDAO) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := dao.DB.WithContext(ctx).
		Where("usage_date < ?", usage.Day(before)).
		Delete(&models.UsageRecord{})
	if res.Error != nil {
		return 0, usage.Wrap("prune", res.Error)
	}
	return res.RowsAffected, nil
}

// GetRecord returns the stored row, or nil if there is none.
func (dao *UsageDAO) GetRecord(ctx context.Context, userID, day string) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	err := dao.DB.WithContext(ctx).
		Where("user_id = ? AND usage_date = ?", userID, day).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, usage.Wrap("get record", err)
	}
	return &rec, nil
}

func (dao *UsageDAO) Ping(ctx context.Context) error {
	sqlDB, err := dao.DB.DB()
	if err != nil {
		return usage.Wrap("ping", err)
	}
	return usage.Wrap("ping", sqlDB.PingContext(ctx))
}

func (dao *UsageDAO) Close() error {
	sqlDB, err := dao.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
