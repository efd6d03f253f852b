package campaign

import (
	"errors"
	"time"

	"sendloop/models"
	"sendloop/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuotaTracker maintains the per-(account, day) send counters that bound
// daily volume. Several campaigns may share one account, so the increment
// is an upsert the database resolves atomically.
type QuotaTracker struct {
	db *gorm.DB
}

func NewQuotaTracker(db *gorm.DB) *QuotaTracker {
	return &QuotaTracker{db: db}
}

// Count returns the number of sends recorded for the account on the given
// day, zero when no ledger row exists yet.
func (q *QuotaTracker) Count(accountID uint, day time.Time) (int, error) {
	var row models.AccountDailyCount
	err := q.db.Where("account_id = ? AND day = ?", accountID, utils.DayKey(day)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Count, nil
}

// Increment records one send for the account on the given day.
func (q *QuotaTracker) Increment(accountID uint, day time.Time) error {
	return q.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count": gorm.Expr("count + 1"),
		}),
	}).Create(&models.AccountDailyCount{
		AccountID: accountID,
		Day:       utils.DayKey(day),
		Count:     1,
	}).Error
}
