package campaign

import (
	"fmt"
	"math/rand"
	"time"

	"sendloop/models"
	"sendloop/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Assignment pairs a contact with the sending account that will work it.
type Assignment struct {
	ContactID uint `json:"contact_id" validate:"required"`
	AccountID uint `json:"account_id" validate:"required"`
}

// ScheduleConfig bounds when sends may happen. Start and end are clock
// times in "15:04" form; a window whose end precedes its start wraps
// midnight.
type ScheduleConfig struct {
	SendStartTime  string `json:"send_start_time" validate:"required"`
	SendEndTime    string `json:"send_end_time" validate:"required"`
	Timezone       string `json:"timezone" validate:"required"`
	MessagesPerDay int    `json:"messages_per_day" validate:"required,gt=0"`
}

const (
	// Two sends on the same account must be at least this far apart.
	minSlotGap    = 5 * time.Minute
	maxSlotJitter = 10 * time.Minute
)

// RecipientScheduler assigns recipients to accounts and precomputes each
// recipient's first due-time before a campaign ever runs.
type RecipientScheduler struct {
	db     *gorm.DB
	quota  *QuotaTracker
	logger *logrus.Entry
}

func NewRecipientScheduler(db *gorm.DB) *RecipientScheduler {
	return &RecipientScheduler{
		db:     db,
		quota:  NewQuotaTracker(db),
		logger: logrus.WithField("component", "scheduler"),
	}
}

// AssignAndSchedule creates one pending recipient per assignment with a
// concrete first send time inside the campaign's window. Recipients past an
// account's daily cap pack forward day by day; same-account times keep a
// minimum gap so the pattern does not look scripted.
func (s *RecipientScheduler) AssignAndSchedule(campaignID uint, assignments []Assignment, cfg ScheduleConfig) ([]models.CampaignRecipient, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	startMin, err := parseClock(cfg.SendStartTime)
	if err != nil {
		return nil, err
	}
	endMin, err := parseClock(cfg.SendEndTime)
	if err != nil {
		return nil, err
	}
	if startMin == endMin {
		return nil, fmt.Errorf("send window is empty")
	}
	windowMin := endMin - startMin
	if windowMin < 0 {
		windowMin += 24 * 60
	}

	now := time.Now().In(loc)

	// Group by account, preserving assignment order.
	order := make([]uint, 0)
	groups := make(map[uint][]Assignment)
	for _, a := range assignments {
		if _, seen := groups[a.AccountID]; !seen {
			order = append(order, a.AccountID)
		}
		groups[a.AccountID] = append(groups[a.AccountID], a)
	}

	recipients := make([]models.CampaignRecipient, 0, len(assignments))
	for _, accountID := range order {
		group := groups[accountID]
		existing, err := s.quota.Count(accountID, now)
		if err != nil {
			return nil, err
		}

		booked := make(map[string][]time.Time)
		for i, a := range group {
			dayOffset := (existing + i) / cfg.MessagesPerDay
			at := s.slot(now, dayOffset, startMin, windowMin, loc, booked)
			recipients = append(recipients, models.CampaignRecipient{
				CampaignID:        campaignID,
				ContactID:         a.ContactID,
				AssignedAccountID: accountID,
				Status:            models.RecipientStatusPending,
				CurrentStepOrder:  0,
				NextActionAt:      utils.Pointer(at),
			})
		}

		s.logger.WithFields(logrus.Fields{
			"campaign_id": campaignID,
			"account_id":  accountID,
			"recipients":  len(group),
		}).Info("scheduled recipients for account")
	}

	if len(recipients) > 0 {
		if err := s.db.Create(&recipients).Error; err != nil {
			return nil, err
		}
	}
	return recipients, nil
}

// slot picks a send time on the day dayOffset days out, biased toward the
// middle of the window, keeping the minimum gap against times already booked
// on that account. When gap repair cannot fit the slot inside the window,
// the slot rolls to the next day's window rather than drifting past the end.
func (s *RecipientScheduler) slot(now time.Time, dayOffset, startMin, windowMin int, loc *time.Location, booked map[string][]time.Time) time.Time {
	for {
		day := now.AddDate(0, 0, dayOffset)
		windowStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc).
			Add(time.Duration(startMin) * time.Minute)
		windowEnd := windowStart.Add(time.Duration(windowMin) * time.Minute)

		// Mean of two uniform draws: triangular on [0,1], scaled into
		// [0.2, 0.8] so slots cluster mid-window and avoid the edges.
		factor := 0.2 + 0.6*(rand.Float64()+rand.Float64())/2
		candidate := windowStart.Add(time.Duration(factor * float64(windowMin) * float64(time.Minute)))

		key := utils.DayKey(windowStart)
		if repaired, ok := repairCollisions(candidate, windowEnd, booked[key]); ok {
			booked[key] = append(booked[key], repaired)
			return repaired
		}
		dayOffset++
	}
}

// repairCollisions pushes a candidate forward past any booked time closer
// than the minimum gap, plus jitter. Reports false when the repair would
// leave the window.
func repairCollisions(candidate, windowEnd time.Time, taken []time.Time) (time.Time, bool) {
	for {
		colliding, found := findCollision(candidate, taken)
		if !found {
			if candidate.Before(windowEnd) {
				return candidate, true
			}
			return time.Time{}, false
		}
		jitter := time.Duration(rand.Int63n(int64(maxSlotJitter)))
		candidate = colliding.Add(minSlotGap + jitter)
		if !candidate.Before(windowEnd) {
			return time.Time{}, false
		}
	}
}

func findCollision(candidate time.Time, taken []time.Time) (time.Time, bool) {
	for _, t := range taken {
		gap := candidate.Sub(t)
		if gap < 0 {
			gap = -gap
		}
		if gap < minSlotGap {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", value, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
